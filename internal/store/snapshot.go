package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Snapshot is a cached response body.
type Snapshot struct {
	Name      string
	Body      []byte
	FetchedAt time.Time
}

// SaveSnapshot stores body under name.
func (db *DB) SaveSnapshot(ctx context.Context, name string, body []byte) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO snapshots (name, body, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body, fetched_at = excluded.fetched_at`,
		name, body, time.Now().UnixMilli())
	return err
}

// LoadSnapshot returns the snapshot stored under name, or nil if none.
func (db *DB) LoadSnapshot(ctx context.Context, name string) (*Snapshot, error) {
	var (
		s  = Snapshot{Name: name}
		ms int64
	)
	err := db.QueryRowContext(ctx, `SELECT body, fetched_at FROM snapshots WHERE name = ?`, name).Scan(&s.Body, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.FetchedAt = time.UnixMilli(ms)
	return &s, nil
}
