package daemon

import (
	"context"
	"time"

	"github.com/wecrm/crmchat/internal/bus"
	"github.com/wecrm/crmchat/internal/chatlist"
	"github.com/wecrm/crmchat/internal/datefmt"
	"github.com/wecrm/crmchat/internal/dictionary"
	"github.com/wecrm/crmchat/internal/messages"
	"github.com/wecrm/crmchat/internal/model"
	"github.com/wecrm/crmchat/internal/notify"
	"github.com/wecrm/crmchat/internal/status"
	intsync "github.com/wecrm/crmchat/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// refreshDelay coalesces bursts of pushes into one chat list refresh.
const refreshDelay = 2 * time.Second

// WatcherDeps are the stores the watcher reports on.
type WatcherDeps struct {
	fx.In

	Bus        *bus.Bus
	Messages   *messages.Store
	Lists      *chatlist.Store
	Notify     *notify.Store
	Dictionary *dictionary.Store
	Logger     *zap.Logger
}

// Watcher logs the open conversation's timeline and keeps the unread
// counters current.
type Watcher struct {
	deps   WatcherDeps
	locale datefmt.Locale
	logger *zap.Logger
	now    func() time.Time
	delay  time.Duration
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher rendering dates in the given locale.
func NewWatcher(locale string, deps WatcherDeps) *Watcher {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		deps:   deps,
		locale: datefmt.ParseLocale(locale),
		logger: logger.Named("watch"),
		now:    time.Now,
		delay:  refreshDelay,
	}
}

// Start refreshes the counters once and then follows bus events.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	ch, unsub := w.deps.Bus.Subscribe("", 256)

	go func() {
		defer close(w.done)
		defer unsub()

		pending := time.After(0)
		for {
			select {
			case evt := <-ch:
				if w.handle(evt) && pending == nil {
					pending = time.After(w.delay)
				}
			case <-pending:
				pending = nil
				w.Refresh(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

// handle logs an event and reports whether the counters need a refresh.
func (w *Watcher) handle(evt bus.Event) bool {
	switch evt.Kind {
	case bus.KindMessageDelivered:
		if d, ok := evt.Payload.(intsync.Delivery); ok {
			w.logMessage(d.ConversationID, d.Message)
		}
	case bus.KindChatListStale, bus.KindNotificationsRead:
		return true
	case bus.KindStatusChanged:
		if sc, ok := evt.Payload.(status.StatusChange); ok {
			w.logger.Info("connection", zap.String("from", string(sc.From)), zap.String("to", string(sc.To)))
			return sc.To == status.Live
		}
	}
	return false
}

// Refresh refetches the chat list and notifications and logs the counters.
func (w *Watcher) Refresh(ctx context.Context) {
	w.deps.Lists.Fetch(ctx)
	if msg := w.deps.Lists.Err(); msg != "" {
		w.logger.Warn("chat list unavailable", zap.String("error", msg))
	}
	u := w.deps.Lists.Unread()

	fields := []zap.Field{zap.Int("total", u.Total)}
	for _, b := range model.Buckets {
		fields = append(fields, zap.Int(string(b), u.Buckets[b]))
	}
	if n := w.deps.Notify.Fetch(ctx); n != nil {
		fields = append(fields, zap.Int("notifications", n.UnreadCount))
	}
	w.logger.Info("unread", fields...)
}

// Timeline logs a fetched page.
func (w *Watcher) Timeline(page []model.Message) {
	conv, _ := w.deps.Messages.Active()
	for _, m := range page {
		w.logMessage(conv.ID, m)
	}
}

func (w *Watcher) logMessage(dialogID int64, m model.Message) {
	w.logger.Info("message",
		zap.Int64("dialog_id", dialogID),
		zap.Int64("msg_id", m.ID),
		zap.String("at", datefmt.Localized(m.CreatedAt, w.now(), w.locale)),
		zap.String("from", w.senderName(m.SenderID)),
		zap.String("body", m.Body),
	)
}

// senderName resolves a user id through the dictionary, which is fetched
// on first use.
func (w *Watcher) senderName(id int64) string {
	if w.deps.Dictionary == nil {
		return ""
	}
	d, err := w.deps.Dictionary.Get(context.Background())
	if err != nil {
		return ""
	}
	if u, ok := d.UserByID(id); ok {
		return u.FullName
	}
	return ""
}
