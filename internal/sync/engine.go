package sync

import (
	"context"

	"github.com/wecrm/crmchat/internal/bus"
	"github.com/wecrm/crmchat/internal/config"
	"github.com/wecrm/crmchat/internal/model"
	"github.com/wecrm/crmchat/internal/push"
	"go.uber.org/zap"
)

// Deliverer merges a pushed message into the open conversation.
type Deliverer interface {
	Deliver(conversationID int64, msg model.Message) bool
}

// StaleMarker is told when the chat list no longer reflects the server.
type StaleMarker interface {
	MarkStale()
}

// Delivery is the payload of message.delivered and message.ignored events.
type Delivery struct {
	ConversationID int64
	Message        model.Message
}

// Engine routes message events from the push socket into the message store.
// It subscribes to "push." events on the bus.
type Engine struct {
	prefix    string
	eventName string
	messages  Deliverer
	lists     StaleMarker
	bus       *bus.Bus
	logger    *zap.Logger
	cancel    context.CancelFunc
}

// NewEngine creates a new sync engine. lists may be nil.
func NewEngine(cfg config.Push, messages Deliverer, lists StaleMarker, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		prefix:    cfg.ChannelPrefix,
		eventName: cfg.MessageEvent,
		messages:  messages,
		lists:     lists,
		bus:       b,
		logger:    logger.Named("sync"),
	}
}

// Start subscribes to push events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe(bus.KindPushEvent, 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if pe, ok := evt.Payload.(push.Event); ok {
					e.HandlePush(pe)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// HandlePush processes one channel event. It reports whether a message was
// merged into the open conversation.
func (e *Engine) HandlePush(evt push.Event) bool {
	if !push.MatchEvent(evt.Name, e.eventName) {
		e.logger.Debug("ignoring event", zap.String("event", evt.Name), zap.String("channel", evt.Channel))
		return false
	}
	id, ok := push.ConversationID(e.prefix, evt.Channel)
	if !ok {
		e.logger.Warn("message event on unknown channel", zap.String("channel", evt.Channel))
		return false
	}
	msg, err := model.DecodePushMessage(evt.Data)
	if err != nil {
		e.logger.Error("failed to decode pushed message", zap.Error(err), zap.Int64("dialog_id", id))
		return false
	}

	if e.lists != nil {
		e.lists.MarkStale()
		e.bus.Publish(bus.NewEvent(bus.KindChatListStale, id))
	}

	d := Delivery{ConversationID: id, Message: msg}
	if !e.messages.Deliver(id, msg) {
		e.bus.Publish(bus.NewEvent(bus.KindMessageIgnored, d))
		return false
	}
	e.logger.Debug("message delivered", zap.Int64("dialog_id", id), zap.Int64("msg_id", msg.ID))
	e.bus.Publish(bus.NewEvent(bus.KindMessageDelivered, d))
	return true
}
