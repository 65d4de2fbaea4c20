package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB is a session's local storage. It plays the part of the browser's
// persisted storage: the hash credential and cached snapshots live here.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database at path. WAL mode and a busy
// timeout let the daemon and the CLI use the same file concurrently.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping db %s: %w", path, err)
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}
