// Package analytics aggregates the historical transaction dataset into the
// dashboard views. Every function is a pure function of its input rows.
package analytics

import (
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/fraudscore/internal/domain"
)

// Summary is the dataset-wide fraud rate.
type Summary struct {
	TotalTransactions int     `json:"total_transactions"`
	FraudCases        int     `json:"fraud_cases"`
	FraudPercentage   float64 `json:"fraud_percentage"`
}

// DailyCount is the number of fraud cases on one calendar date.
type DailyCount struct {
	Date       string `json:"date"`
	FraudCases int    `json:"fraud_cases"`
}

// CountryCount is the number of fraud cases for one country.
type CountryCount struct {
	Country    string `json:"country"`
	FraudCases int    `json:"fraud_cases"`
}

// BrowserCount is the number of fraud cases for one browser.
type BrowserCount struct {
	Browser    string `json:"browser"`
	FraudCases int    `json:"fraud_cases"`
}

// dateLayout is how trend dates are rendered.
const dateLayout = "2006-01-02"

// timestampLayouts are tried in order when reading a purchase timestamp.
// time.Parse accepts fractional seconds after any of them.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	dateLayout,
}

// Summarize counts rows and fraud cases. It returns domain.ErrEmptyDataset
// for an empty dataset.
func Summarize(rows []domain.Transaction) (Summary, error) {
	if len(rows) == 0 {
		return Summary{}, domain.ErrEmptyDataset
	}

	fraud := 0
	for _, r := range rows {
		fraud += r.Class
	}

	return Summary{
		TotalTransactions: len(rows),
		FraudCases:        fraud,
		FraudPercentage:   float64(fraud) / float64(len(rows)) * 100,
	}, nil
}

// TrendByDay counts fraud rows per purchase date, ascending. Rows whose
// timestamp cannot be parsed are skipped.
func TrendByDay(rows []domain.Transaction) []DailyCount {
	counts := make(map[string]int)
	for _, r := range rows {
		if r.Class != 1 {
			continue
		}
		day, ok := purchaseDate(r.PurchaseTime)
		if !ok {
			continue
		}
		counts[day]++
	}

	trend := make([]DailyCount, 0, len(counts))
	for day, n := range counts {
		trend = append(trend, DailyCount{Date: day, FraudCases: n})
	}
	// ISO dates sort lexically.
	sort.Slice(trend, func(i, j int) bool { return trend[i].Date < trend[j].Date })
	return trend
}

// ByCountry sums the fraud label per country in order of first appearance.
// Rows without a country are skipped.
func ByCountry(rows []domain.Transaction) []CountryCount {
	keys, sums := groupSum(rows, func(r domain.Transaction) string { return r.Country })

	out := make([]CountryCount, len(keys))
	for i, k := range keys {
		out[i] = CountryCount{Country: k, FraudCases: sums[k]}
	}
	return out
}

// ByBrowser sums the fraud label per browser in order of first appearance.
// Rows without a browser are skipped.
func ByBrowser(rows []domain.Transaction) []BrowserCount {
	keys, sums := groupSum(rows, func(r domain.Transaction) string { return r.Browser })

	out := make([]BrowserCount, len(keys))
	for i, k := range keys {
		out[i] = BrowserCount{Browser: k, FraudCases: sums[k]}
	}
	return out
}

func groupSum(rows []domain.Transaction, key func(domain.Transaction) string) ([]string, map[string]int) {
	var keys []string
	sums := make(map[string]int)
	for _, r := range rows {
		k := key(r)
		if k == "" {
			continue
		}
		if _, seen := sums[k]; !seen {
			keys = append(keys, k)
		}
		sums[k] += r.Class
	}
	return keys, sums
}

// purchaseDate returns the calendar date of a timestamp as written, without
// converting between time zones.
func purchaseDate(ts string) (string, bool) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return "", false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.Format(dateLayout), true
		}
	}
	return "", false
}
