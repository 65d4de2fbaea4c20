// Package messages holds the open conversation's history: an ordered,
// deduplicated list fed by REST fetches and push deliveries.
package messages

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wecrm/crmchat/internal/datefmt"
	"github.com/wecrm/crmchat/internal/model"
	"go.uber.org/zap"
)

// ErrSuperseded is returned by Fetch when a newer fetch for the same
// conversation, or a switch to another conversation, made its result stale.
var ErrSuperseded = errors.New("fetch superseded by a newer request")

// ErrNotOpen is returned by AppendLocal when no conversation is open.
var ErrNotOpen = errors.New("no conversation open")

// Credentials resolves the session hash.
type Credentials interface {
	Hash(ctx context.Context) (string, error)
}

// Fetcher loads a conversation's history page.
type Fetcher interface {
	ChatMessages(ctx context.Context, hash string, chatID int64, chatType model.ChatType) ([]model.Message, error)
}

// Subscriber follows conversation push channels. Optional.
type Subscriber interface {
	SubscribeConversation(id int64) error
	UnsubscribeConversation(id int64) error
}

type entry struct {
	msg model.Message
	at  time.Time
}

// less orders by (created_at, id). Unparseable timestamps sort as the zero
// time, ahead of everything else.
func (e entry) less(o entry) bool {
	if !e.at.Equal(o.at) {
		return e.at.Before(o.at)
	}
	return e.msg.ID < o.msg.ID
}

// Store is safe for concurrent use.
type Store struct {
	creds   Credentials
	fetcher Fetcher
	sub     Subscriber
	logger  *zap.Logger
	loc     *time.Location

	mu      sync.Mutex
	entries []entry
	listKey model.Conversation
	hasList bool
	active  model.Conversation
	open    bool
	seq     uint64
	latest  map[model.Conversation]uint64
	flight  map[model.Conversation]int
	replay  []model.Message
	loading int
	err     string

	// subMu serializes subscription moves; subscribed and hasSub are
	// guarded by it.
	subMu      sync.Mutex
	subscribed int64
	hasSub     bool
}

// NewStore creates an empty store. sub may be nil when push is not used.
// A nil loc means time.Local.
func NewStore(creds Credentials, fetcher Fetcher, sub Subscriber, logger *zap.Logger, loc *time.Location) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Store{
		creds:   creds,
		fetcher: fetcher,
		sub:     sub,
		logger:  logger.Named("messages"),
		loc:     loc,
		latest:  make(map[model.Conversation]uint64),
		flight:  make(map[model.Conversation]int),
	}
}

// Fetch loads the history page of a conversation and makes it the active
// one, moving the push subscription along with it. A missing credential
// records the error and leaves the list, the active conversation and the
// subscription untouched. The returned slice is a snapshot of the committed
// list.
func (s *Store) Fetch(ctx context.Context, id int64, chatType model.ChatType) ([]model.Message, error) {
	s.mu.Lock()
	s.loading++
	s.err = ""
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loading--
		s.mu.Unlock()
	}()

	hash, err := s.creds.Hash(ctx)
	if err != nil {
		s.mu.Lock()
		s.err = err.Error()
		s.mu.Unlock()
		s.logger.Warn("fetch skipped", zap.Int64("dialog_id", id), zap.Error(err))
		return nil, err
	}

	key := model.Conversation{ID: id, Type: chatType}
	s.mu.Lock()
	s.activate(key)
	s.seq++
	token := s.seq
	s.latest[key] = token
	s.flight[key]++
	s.mu.Unlock()

	s.follow()

	page, err := s.fetcher.ChatMessages(ctx, hash, id, chatType)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.flight[key]--
	if s.flight[key] <= 0 {
		delete(s.flight, key)
	}
	current := s.latest[key] == token && s.open && s.active == key

	if err != nil {
		if current {
			s.err = err.Error()
		}
		s.flushReplay(key)
		s.logger.Error("fetch failed", zap.Int64("dialog_id", id), zap.Stringer("type", chatType), zap.Error(err))
		return nil, err
	}
	if !current {
		s.logger.Debug("discarding stale page", zap.Int64("dialog_id", id), zap.Uint64("token", token))
		return nil, ErrSuperseded
	}

	s.entries = s.entries[:0]
	for _, m := range page {
		s.insert(m)
	}
	s.listKey = key
	s.hasList = true
	for _, m := range s.replay {
		s.insert(m)
	}
	if _, busy := s.flight[key]; !busy {
		s.replay = nil
	}
	s.logger.Debug("page committed", zap.Int64("dialog_id", id), zap.Int("messages", len(s.entries)))
	return s.snapshot(), nil
}

// Open switches to a conversation. It is Fetch under the name that pairs
// with Close.
func (s *Store) Open(ctx context.Context, id int64, chatType model.ChatType) ([]model.Message, error) {
	return s.Fetch(ctx, id, chatType)
}

// Close drops the active conversation and its push subscription.
func (s *Store) Close() {
	s.mu.Lock()
	s.open = false
	s.active = model.Conversation{}
	s.entries = nil
	s.hasList = false
	s.replay = nil
	s.mu.Unlock()

	s.follow()
}

// Deliver merges a pushed message into the active conversation. It returns
// false, keeping nothing, for any other conversation. A message for the
// active conversation whose page has not committed yet is held and merged
// when it does.
func (s *Store) Deliver(conversationID int64, msg model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open || s.active.ID != conversationID {
		return false
	}
	s.keep(msg)
	return true
}

// AppendLocal inserts an optimistic message into the open conversation.
// Messages without a server id get a ClientKey; all are marked Pending. The
// stored copy is returned.
func (s *Store) AppendLocal(msg model.Message) (model.Message, error) {
	if msg.ID == 0 && msg.ClientKey == "" {
		msg.ClientKey = uuid.NewString()
	}
	msg.Pending = true

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return model.Message{}, ErrNotOpen
	}
	s.keep(msg)
	return msg, nil
}

// Confirm replaces the pending placeholder identified by clientKey with the
// server's copy. It does nothing when no conversation is open.
func (s *Store) Confirm(clientKey string, msg model.Message) {
	msg.Pending = false
	msg.ClientKey = ""

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return
	}
	if clientKey != "" {
		for i, e := range s.entries {
			if e.msg.ClientKey == clientKey {
				s.entries = append(s.entries[:i], s.entries[i+1:]...)
				break
			}
		}
		for i, m := range s.replay {
			if m.ClientKey == clientKey {
				s.replay = append(s.replay[:i], s.replay[i+1:]...)
				break
			}
		}
	}
	s.keep(msg)
}

// Messages returns a snapshot of the active conversation's ordered list. It
// is empty while a switch has not committed a page.
func (s *Store) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.showing() {
		return []model.Message{}
	}
	return s.snapshot()
}

// Active returns the open conversation, if any.
func (s *Store) Active() (model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.open
}

// Loading reports whether any fetch is in flight.
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

// activate must be called with mu held.
func (s *Store) activate(key model.Conversation) {
	if s.open && s.active == key {
		return
	}
	s.active = key
	s.open = true
	s.replay = nil
}

// showing reports whether the list holds the active conversation. Must be
// called with mu held.
func (s *Store) showing() bool {
	return s.open && s.hasList && s.listKey == s.active
}

// keep inserts msg into the list when it shows the active conversation, and
// buffers it for replay while a fetch is in flight or no page for the active
// conversation has committed. Must be called with mu held.
func (s *Store) keep(msg model.Message) {
	_, busy := s.flight[s.active]
	showing := s.showing()
	if busy || !showing {
		s.replay = append(s.replay, msg)
	}
	if showing {
		s.insert(msg)
	}
}

// follow moves the push subscription to the active conversation, or drops
// it when none is open.
func (s *Store) follow() {
	if s.sub == nil {
		return
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.mu.Lock()
	want, open := s.active.ID, s.open
	s.mu.Unlock()

	if s.hasSub && (!open || s.subscribed != want) {
		if err := s.sub.UnsubscribeConversation(s.subscribed); err != nil {
			s.logger.Warn("unsubscribe failed", zap.Int64("dialog_id", s.subscribed), zap.Error(err))
		}
		s.hasSub = false
	}
	if open && !s.hasSub {
		if err := s.sub.SubscribeConversation(want); err != nil {
			s.logger.Warn("subscribe failed", zap.Int64("dialog_id", want), zap.Error(err))
			return
		}
		s.subscribed, s.hasSub = want, true
	}
}

// flushReplay keeps buffered deliveries for key until a page commits, and
// drops them once nothing is in flight for key and the list is already
// showing it. Must be called with mu held.
func (s *Store) flushReplay(key model.Conversation) {
	if _, busy := s.flight[key]; busy {
		return
	}
	if s.hasList && s.listKey == key {
		s.replay = nil
	}
}

// insert places msg at its (created_at, id) position, replacing any entry
// with the same id or client key. Must be called with mu held.
func (s *Store) insert(msg model.Message) {
	for i, e := range s.entries {
		if (msg.ID != 0 && e.msg.ID == msg.ID) || (msg.ID == 0 && msg.ClientKey != "" && e.msg.ClientKey == msg.ClientKey) {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}

	var at time.Time
	if ts := datefmt.Parse(msg.CreatedAt, s.loc); ts.Parsed() {
		at = ts.Time
	}
	e := entry{msg: msg, at: at}

	i := sort.Search(len(s.entries), func(i int) bool {
		return e.less(s.entries[i])
	})
	s.entries = append(s.entries, entry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
}

func (s *Store) snapshot() []model.Message {
	out := make([]model.Message, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.msg
	}
	return out
}
