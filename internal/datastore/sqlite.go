package datastore

import (
	"fmt"

	"github.com/storyboard/enrich-go/internal/conf"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SQLiteStore implements DataStore for SQLite.
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open sets up the SQLite database connection and runs migrations.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Output.SQLite.Path
	if path == "" {
		return fmt.Errorf("sqlite path is not configured")
	}

	// Busy timeout keeps concurrent claim updates from failing with
	// SQLITE_BUSY under the worker pool.
	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: newGormLogger(store.Settings.Main.Debug)})
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}

	store.DB = db
	return performAutoMigration(db, store.Settings.Main.Debug, "SQLite", path)
}
