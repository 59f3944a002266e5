package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/fraudscore/internal/domain"
)

// CSVSource reads the cleaned dataset file. The file is re-read on every Load.
type CSVSource struct {
	path string
}

// NewCSVSource creates a CSV dataset source.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// Load opens and parses the file.
func (s *CSVSource) Load(ctx context.Context) ([]domain.Transaction, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, &domain.DatasetLoadError{Source: s.path, Err: err}
	}
	defer f.Close()

	txs, err := ReadCSV(ctx, f)
	if err != nil {
		return nil, &domain.DatasetLoadError{Source: s.path, Err: err}
	}
	return txs, nil
}

// Ping checks that the file is readable.
func (s *CSVSource) Ping(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	return f.Close()
}

// Close is a no-op; the file is only open during Load.
func (s *CSVSource) Close() error { return nil }

// columns maps the fields the analytics need to their header positions.
type columns struct {
	class, country, browser, deviceID, purchaseTime int
}

func resolveColumns(header []string) (columns, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}

	lookup := func(names ...string) int {
		for _, n := range names {
			if i, ok := index[n]; ok {
				return i
			}
		}
		return -1
	}

	cols := columns{
		class:        lookup("class"),
		country:      lookup("country"),
		browser:      lookup("browser"),
		deviceID:     lookup("device_id"),
		purchaseTime: lookup("purchase_time", "purchase_date"),
	}

	var missing []string
	if cols.class < 0 {
		missing = append(missing, "class")
	}
	if cols.country < 0 {
		missing = append(missing, "country")
	}
	if cols.browser < 0 {
		missing = append(missing, "browser")
	}
	if cols.purchaseTime < 0 {
		missing = append(missing, "purchase_time")
	}
	if len(missing) > 0 {
		return cols, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

// ReadCSV parses a dataset with a header row. Columns are addressed by
// name; extra columns are ignored.
func ReadCSV(ctx context.Context, r io.Reader) ([]domain.Transaction, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	cols, err := resolveColumns(header)
	if err != nil {
		return nil, err
	}

	txs := []domain.Transaction{}
	for line := 2; ; line++ {
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		class, err := parseClass(field(record, cols.class))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		txs = append(txs, domain.Transaction{
			Class:        class,
			Country:      field(record, cols.country),
			Browser:      field(record, cols.browser),
			DeviceID:     field(record, cols.deviceID),
			PurchaseTime: field(record, cols.purchaseTime),
		})
	}

	return txs, nil
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// parseClass accepts the labels 0 and 1, including the "1.0" form pandas
// writes for float columns.
func parseClass(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("class %q is not an integer", s)
		}
		n = int(f)
	}
	if err := checkClass(n); err != nil {
		return 0, err
	}
	return n, nil
}

func checkClass(n int) error {
	if n != 0 && n != 1 {
		return fmt.Errorf("class %d is not 0 or 1", n)
	}
	return nil
}
