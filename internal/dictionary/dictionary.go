// Package dictionary caches the reference snapshot (users, projects,
// clients) and manages the task list.
package dictionary

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wecrm/crmchat/internal/model"
	"github.com/wecrm/crmchat/internal/store"
	"go.uber.org/zap"
)

// snapshotName is the local storage key of the persisted dictionary.
const snapshotName = "dictionary"

// Credentials resolves the session hash.
type Credentials interface {
	Hash(ctx context.Context) (string, error)
}

// Fetcher loads the dictionary from the backend.
type Fetcher interface {
	Dictionaries(ctx context.Context, hash string) (*model.Dictionary, error)
}

// Cache persists dictionary snapshots between runs. Optional.
type Cache interface {
	SaveSnapshot(ctx context.Context, name string, body []byte) error
	LoadSnapshot(ctx context.Context, name string) (*store.Snapshot, error)
}

// Store fetches the dictionary once and serves it until Refetch.
type Store struct {
	creds   Credentials
	fetcher Fetcher
	cache   Cache
	logger  *zap.Logger

	mu      sync.Mutex
	current *model.Dictionary
	err     string
}

// NewStore creates a dictionary store. cache may be nil.
func NewStore(creds Credentials, fetcher Fetcher, cache Cache, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		creds:   creds,
		fetcher: fetcher,
		cache:   cache,
		logger:  logger.Named("dictionary"),
	}
}

// Get returns the cached snapshot, fetching it on first use. When the
// backend is unreachable the last persisted snapshot is served instead.
func (s *Store) Get(ctx context.Context) (*model.Dictionary, error) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur != nil {
		return cur, nil
	}

	d, err := s.Refetch(ctx)
	if err == nil {
		return d, nil
	}
	if cached := s.loadCached(ctx); cached != nil {
		s.logger.Warn("serving persisted dictionary", zap.Error(err))
		s.mu.Lock()
		s.current = cached
		s.mu.Unlock()
		return cached, nil
	}
	return nil, err
}

// Refetch always goes to the backend and replaces the snapshot on success.
func (s *Store) Refetch(ctx context.Context) (*model.Dictionary, error) {
	s.mu.Lock()
	s.err = ""
	s.mu.Unlock()

	d, err := s.fetch(ctx)
	if err != nil {
		s.logger.Error("dictionary fetch failed", zap.Error(err))
		s.mu.Lock()
		s.err = err.Error()
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	s.current = d
	s.mu.Unlock()

	if s.cache != nil {
		body, err := json.Marshal(d)
		if err == nil {
			err = s.cache.SaveSnapshot(ctx, snapshotName, body)
		}
		if err != nil {
			s.logger.Warn("persist dictionary failed", zap.Error(err))
		}
	}
	return d, nil
}

// Err returns the last recorded error message, or "".
func (s *Store) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Store) fetch(ctx context.Context) (*model.Dictionary, error) {
	hash, err := s.creds.Hash(ctx)
	if err != nil {
		return nil, err
	}
	d, err := s.fetcher.Dictionaries(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("fetch dictionary: %w", err)
	}
	return d, nil
}

func (s *Store) loadCached(ctx context.Context) *model.Dictionary {
	if s.cache == nil {
		return nil
	}
	snap, err := s.cache.LoadSnapshot(ctx, snapshotName)
	if err != nil {
		s.logger.Warn("load persisted dictionary failed", zap.Error(err))
		return nil
	}
	if snap == nil {
		return nil
	}
	var d model.Dictionary
	if err := json.Unmarshal(snap.Body, &d); err != nil {
		s.logger.Warn("persisted dictionary is corrupt", zap.Error(err))
		return nil
	}
	s.logger.Debug("loaded persisted dictionary", zap.Time("fetched_at", snap.FetchedAt))
	return &d
}
