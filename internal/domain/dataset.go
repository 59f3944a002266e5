// Package domain defines the core interfaces and types for fraudscore.
package domain

import (
	"context"
	"time"
)

// Transaction is one historical row of the fraud dataset.
type Transaction struct {
	// Class is the fraud label, 1 for a fraud case and 0 otherwise.
	Class int `json:"class"`

	Country  string `json:"country"`
	Browser  string `json:"browser"`
	DeviceID string `json:"device_id,omitempty"`

	// PurchaseTime is kept as written in the source; the aggregator parses it
	// so that a malformed timestamp only drops its own row.
	PurchaseTime string `json:"purchase_time"`
}

// DatasetSource loads the historical transaction dataset.
// Load is called once per analytics request; implementations must not cache.
type DatasetSource interface {
	Load(ctx context.Context) ([]Transaction, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// DatasetConfig holds configuration for dataset source initialization.
type DatasetConfig struct {
	// Driver is the source driver: "csv", "sqlite" or "postgres"
	Driver string

	// CSV specific
	CSVPath string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
