package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	db   *sql.DB
	dbMu sync.RWMutex
)

// Connect opens the SQLite database (safe for concurrent use). The parent
// directory is created if missing and the schema is migrated on first open.
// Later calls are no-ops while a connection is held; a failed attempt leaves
// the package unconnected so Connect can be retried.
func Connect(ctx context.Context, path string, busyTimeout time.Duration) error {
	dbMu.Lock()
	defer dbMu.Unlock()

	if db != nil {
		return nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
		path, busyTimeout.Milliseconds())

	newDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}

	// SQLite serializes writes; a single connection avoids
	// SQLITE_BUSY churn between the workers and the scheduler.
	newDB.SetMaxOpenConns(1)

	if err := newDB.PingContext(ctx); err != nil {
		newDB.Close()
		return fmt.Errorf("error connecting to database: %w", err)
	}

	if err := Migrate(ctx, newDB); err != nil {
		newDB.Close()
		return fmt.Errorf("error migrating schema: %w", err)
	}

	db = newDB
	return nil
}

// Close closes the database
func Close() {
	dbMu.Lock()
	defer dbMu.Unlock()
	if db != nil {
		db.Close()
		db = nil
	}
}

// DB returns the database handle
func DB() *sql.DB {
	dbMu.RLock()
	defer dbMu.RUnlock()
	return db
}

// Status returns the current status of the database connection
func Status(ctx context.Context) error {
	dbMu.RLock()
	d := db
	dbMu.RUnlock()
	if d == nil {
		return fmt.Errorf("database not connected")
	}
	return d.PingContext(ctx)
}
