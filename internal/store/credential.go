package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// HashKey is the local storage key of the session credential.
const HashKey = "hash"

// ErrNoCredential means no hash credential is persisted for the session.
var ErrNoCredential = errors.New("hash not found in local storage")

// Hash returns the persisted session credential, or ErrNoCredential.
func (db *DB) Hash(ctx context.Context) (string, error) {
	v, ok, err := db.Get(ctx, HashKey)
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	if !ok || strings.TrimSpace(v) == "" {
		return "", ErrNoCredential
	}
	return v, nil
}

// SetHash persists the session credential.
func (db *DB) SetHash(ctx context.Context, hash string) error {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return errors.New("empty credential")
	}
	return db.Set(ctx, HashKey, hash)
}

// ClearHash forgets the session credential.
func (db *DB) ClearHash(ctx context.Context) error {
	return db.Delete(ctx, HashKey)
}
