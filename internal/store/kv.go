package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Get returns the value stored under key and whether it exists.
func (db *DB) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (db *DB) Set(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (db *DB) Delete(ctx context.Context, key string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}
