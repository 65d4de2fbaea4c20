package bus

import (
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// Publish never blocks: an event for a subscriber whose buffer is full is
// dropped, logged and counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscription
	next    int
	logger  *zap.Logger
	dropped atomic.Uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger reports dropped events to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger.Named("bus")
		}
	}
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates a new event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[int]*subscription),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dropped returns how many deliveries were lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// Publish sends an event to all subscribers whose namespace is a prefix of
// event.Kind. Events without an id or timestamp are stamped first. A nil
// bus drops everything.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.ID == "" || evt.Timestamp.IsZero() {
		stamped := NewEvent(evt.Kind, evt.Payload)
		if evt.ID != "" {
			stamped.ID = evt.ID
		}
		if !evt.Timestamp.IsZero() {
			stamped.Timestamp = evt.Timestamp
		}
		evt = stamped
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
				n := b.dropped.Add(1)
				b.logger.Warn("event dropped, subscriber buffer full",
					zap.String("kind", evt.Kind),
					zap.String("namespace", sub.namespace),
					zap.Int("buffer", cap(sub.ch)),
					zap.Uint64("dropped_total", n))
			}
		}
	}
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer. Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}
