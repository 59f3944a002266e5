// Package dataset loads the historical transaction dataset behind the
// analytics endpoints, from a CSV file or a SQL table.
package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/opensource-finance/fraudscore/internal/domain"
)

// New creates a dataset source based on configuration.
func New(cfg domain.DatasetConfig) (domain.DatasetSource, error) {
	switch cfg.Driver {
	case "csv", "":
		return NewCSVSource(cfg.CSVPath), nil

	case "sqlite", "postgres":
		return NewSQLSource(cfg)

	default:
		return nil, fmt.Errorf("unsupported dataset driver: %s", cfg.Driver)
	}
}

// SQLSource implements domain.DatasetSource over the transactions table.
// Works with both SQLite and PostgreSQL drivers.
type SQLSource struct {
	db     *sql.DB
	driver string
}

// NewSQLSource opens the database and migrates the schema.
func NewSQLSource(cfg domain.DatasetConfig) (*SQLSource, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	src := &SQLSource{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := src.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return src, nil
}

func (s *SQLSource) migrate() error {
	for _, schema := range Schemas(s.driver) {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// Load reads every row in insertion order.
func (s *SQLSource) Load(ctx context.Context) ([]domain.Transaction, error) {
	query := `
		SELECT class, country, browser, device_id, purchase_time
		FROM transactions
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &domain.DatasetLoadError{Source: s.driver, Err: err}
	}
	defer rows.Close()

	txs := []domain.Transaction{}
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(&tx.Class, &tx.Country, &tx.Browser, &tx.DeviceID, &tx.PurchaseTime); err != nil {
			return nil, &domain.DatasetLoadError{Source: s.driver, Err: err}
		}
		if err := checkClass(tx.Class); err != nil {
			return nil, &domain.DatasetLoadError{Source: s.driver, Err: fmt.Errorf("row %d: %w", len(txs)+1, err)}
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.DatasetLoadError{Source: s.driver, Err: err}
	}

	return txs, nil
}

// Insert appends rows in a single database transaction.
func (s *SQLSource) Insert(ctx context.Context, txs []domain.Transaction) error {
	return s.write(ctx, txs, false)
}

// Replace swaps the table contents for txs in a single database transaction.
// On failure the previous rows are kept.
func (s *SQLSource) Replace(ctx context.Context, txs []domain.Transaction) error {
	return s.write(ctx, txs, true)
}

func (s *SQLSource) write(ctx context.Context, txs []domain.Transaction, replace bool) error {
	query := `
		INSERT INTO transactions (class, country, browser, device_id, purchase_time)
		VALUES (?, ?, ?, ?, ?)
	`

	for i, tx := range txs {
		if err := checkClass(tx.Class); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	if replace {
		if _, err := dbTx.ExecContext(ctx, `DELETE FROM transactions`); err != nil {
			return fmt.Errorf("failed to clear transactions: %w", err)
		}
	}

	stmt, err := dbTx.PrepareContext(ctx, s.rebind(query))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, tx := range txs {
		if _, err := stmt.ExecContext(ctx, tx.Class, tx.Country, tx.Browser, tx.DeviceID, tx.PurchaseTime); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	return dbTx.Commit()
}

// Truncate deletes every row.
func (s *SQLSource) Truncate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM transactions`)
	return err
}

// Ping checks database connectivity.
func (s *SQLSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLSource) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLSource) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
