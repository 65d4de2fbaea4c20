// Package chatlist aggregates the five chat list buckets.
package chatlist

import (
	"context"
	"sync"

	"github.com/wecrm/crmchat/internal/model"
	"go.uber.org/zap"
)

// Credentials resolves the session hash.
type Credentials interface {
	Hash(ctx context.Context) (string, error)
}

// Fetcher loads the chat list.
type Fetcher interface {
	ChatList(ctx context.Context, hash string) (model.ChatBuckets, error)
}

// Unread holds per-bucket unread sums.
type Unread struct {
	Buckets map[model.Bucket]int
	Total   int
}

// Store is safe for concurrent use.
type Store struct {
	creds   Credentials
	fetcher Fetcher
	logger  *zap.Logger

	mu      sync.Mutex
	current model.ChatBuckets
	loading int
	stale   bool
	err     string
}

// NewStore creates a store holding empty buckets.
func NewStore(creds Credentials, fetcher Fetcher, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		creds:   creds,
		fetcher: fetcher,
		logger:  logger.Named("chatlist"),
		current: model.EmptyBuckets(),
	}
}

// Fetch loads the chat list. It always returns all five buckets; on any
// failure they are empty and Err reports why.
func (s *Store) Fetch(ctx context.Context) model.ChatBuckets {
	s.mu.Lock()
	s.loading++
	s.err = ""
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loading--
		s.mu.Unlock()
	}()

	buckets, err := s.load(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.logger.Error("chat list fetch failed", zap.Error(err))
		s.err = err.Error()
		buckets = model.EmptyBuckets()
	} else {
		s.stale = false
	}
	s.current = buckets
	return buckets
}

func (s *Store) load(ctx context.Context) (model.ChatBuckets, error) {
	hash, err := s.creds.Hash(ctx)
	if err != nil {
		return model.ChatBuckets{}, err
	}
	buckets, err := s.fetcher.ChatList(ctx, hash)
	if err != nil {
		return model.ChatBuckets{}, err
	}
	return buckets.Normalize(), nil
}

// Current returns the last fetched buckets.
func (s *Store) Current() model.ChatBuckets {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Unread sums unread counters per bucket. Total is the sum over allChats,
// or over the other buckets when allChats is empty.
func (s *Store) Unread() Unread {
	s.mu.Lock()
	b := s.current
	s.mu.Unlock()

	u := Unread{Buckets: make(map[model.Bucket]int, len(model.Buckets))}
	for _, name := range model.Buckets {
		sum := 0
		for _, c := range b.Get(name) {
			sum += c.UnreadCount
		}
		u.Buckets[name] = sum
	}
	if len(b.AllChats) > 0 {
		u.Total = u.Buckets[model.BucketAll]
		return u
	}
	for _, name := range model.Buckets {
		u.Total += u.Buckets[name]
	}
	return u
}

// MarkStale flags the list as out of date after a push delivery.
func (s *Store) MarkStale() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}

// Stale reports whether a push arrived since the last successful fetch.
func (s *Store) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

// Loading reports whether a fetch is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading > 0
}

// Err returns the last recorded error message, or "".
func (s *Store) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
