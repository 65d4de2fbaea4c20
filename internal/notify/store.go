// Package notify aggregates pending notifications.
package notify

import (
	"context"
	"sync"

	"github.com/wecrm/crmchat/internal/bus"
	"github.com/wecrm/crmchat/internal/model"
	"go.uber.org/zap"
)

// Credentials resolves the session hash.
type Credentials interface {
	Hash(ctx context.Context) (string, error)
}

// Backend is the subset of the REST client the store uses.
type Backend interface {
	Notifications(ctx context.Context, hash string) (*model.NotificationBundle, error)
	MarkNotificationsRead(ctx context.Context, hash string) error
}

// Store is safe for concurrent use.
type Store struct {
	creds   Credentials
	backend Backend
	bus     *bus.Bus
	logger  *zap.Logger

	mu      sync.Mutex
	current *model.NotificationBundle
	loading int
	err     string
}

// NewStore creates a notification store. b may be nil.
func NewStore(creds Credentials, backend Backend, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		creds:   creds,
		backend: backend,
		bus:     b,
		logger:  logger.Named("notify"),
	}
}

// Fetch loads the notification bundle. It returns nil on failure and
// records the error.
func (s *Store) Fetch(ctx context.Context) *model.NotificationBundle {
	s.begin()
	defer s.end()

	hash, err := s.creds.Hash(ctx)
	if err != nil {
		s.fail("notifications fetch skipped", err)
		return nil
	}
	bundle, err := s.backend.Notifications(ctx, hash)
	if err != nil {
		s.fail("notifications fetch failed", err)
		return nil
	}
	if bundle.Notifications == nil {
		bundle.Notifications = []model.Notification{}
	}

	s.mu.Lock()
	s.current = bundle
	s.mu.Unlock()
	return bundle
}

// MarkAllRead asks the server to mark everything read. The local count is
// left alone; the next Fetch reflects the server's state.
func (s *Store) MarkAllRead(ctx context.Context) {
	s.begin()
	defer s.end()

	hash, err := s.creds.Hash(ctx)
	if err != nil {
		s.fail("mark all read skipped", err)
		return
	}
	if err := s.backend.MarkNotificationsRead(ctx, hash); err != nil {
		s.fail("mark all read failed", err)
		return
	}
	s.logger.Info("notifications marked read")
	s.bus.Publish(bus.NewEvent(bus.KindNotificationsRead, nil))
}

// Current returns the last fetched bundle, or nil.
func (s *Store) Current() *model.NotificationBundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Loading reports whether a request is in flight.
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

func (s *Store) begin() {
	s.mu.Lock()
	s.loading++
	s.err = ""
	s.mu.Unlock()
}

func (s *Store) end() {
	s.mu.Lock()
	s.loading--
	s.mu.Unlock()
}

func (s *Store) fail(msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	s.mu.Lock()
	s.err = err.Error()
	s.mu.Unlock()
}
