package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Open opens the Heimdall SQLite store at dbPath. WAL mode and a busy
// timeout keep the audit writer and the breaker auto-resume timers from
// tripping over SQLITE_BUSY when they write concurrently.
func Open(dbPath string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", dbPath)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	return db, nil
}
