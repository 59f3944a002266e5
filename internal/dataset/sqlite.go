package dataset

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opensource-finance/fraudscore/internal/domain"
	_ "modernc.org/sqlite"
)

// openSQLite opens the SQLite dataset, creating the file and its directory
// when missing. modernc.org/sqlite is pure Go, so no CGO is required.
func openSQLite(cfg domain.DatasetConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./Data/fraudscore.db"
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database %s: %w", path, err)
	}

	return db, nil
}

// sqliteDSN enables WAL so analytics reads do not block an import.
func sqliteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
}
