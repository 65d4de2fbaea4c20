package sync

import (
	"context"

	"github.com/wecrm/crmchat/internal/bus"
	"github.com/wecrm/crmchat/internal/model"
	"go.uber.org/zap"
)

// Refetcher reloads the open conversation.
type Refetcher interface {
	Active() (model.Conversation, bool)
	Fetch(ctx context.Context, id int64, chatType model.ChatType) ([]model.Message, error)
}

// Reconciler catches up after a socket reconnect: messages pushed while the
// socket was down are recovered by refetching the open conversation.
type Reconciler struct {
	messages Refetcher
	lists    StaleMarker
	bus      *bus.Bus
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewReconciler creates a new reconciler. lists may be nil.
func NewReconciler(messages Refetcher, lists StaleMarker, b *bus.Bus, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{messages: messages, lists: lists, bus: b, logger: logger.Named("reconcile")}
}

// Start listens for push.connected. The first connection is not a gap.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe(bus.KindPushConnected, 8)

	go func() {
		defer unsub()
		connects := 0
		for {
			select {
			case <-ch:
				connects++
				if connects == 1 {
					continue
				}
				if err := r.Reconcile(ctx); err != nil {
					r.logger.Warn("catch-up fetch failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Reconcile marks the chat list stale and refetches the open conversation.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	if r.lists != nil {
		r.lists.MarkStale()
	}
	conv, ok := r.messages.Active()
	if !ok {
		return nil
	}
	r.logger.Info("refetching after reconnect", zap.Int64("dialog_id", conv.ID))
	_, err := r.messages.Fetch(ctx, conv.ID, conv.Type)
	return err
}
