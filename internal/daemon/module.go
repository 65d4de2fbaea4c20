// Package daemon wires the watch daemon: one push socket per session, the
// sync engine feeding the message store, and a watcher that logs the
// conversation timeline and unread counters.
package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/wecrm/crmchat/internal/bus"
	"github.com/wecrm/crmchat/internal/chatlist"
	"github.com/wecrm/crmchat/internal/config"
	"github.com/wecrm/crmchat/internal/lock"
	"github.com/wecrm/crmchat/internal/messages"
	"github.com/wecrm/crmchat/internal/model"
	"github.com/wecrm/crmchat/internal/push"
	"github.com/wecrm/crmchat/internal/session"
	"github.com/wecrm/crmchat/internal/status"
	"github.com/wecrm/crmchat/internal/store"
	intsync "github.com/wecrm/crmchat/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Owner is recorded in the session lock file.
const Owner = "crmchatd"

// ErrAuthRequired is returned at startup when the session has no hash.
var ErrAuthRequired = errors.New("no credential stored; run `crmchatctl login` first")

// Params holds the daemon's flags.
type Params struct {
	SessionName    string
	ConversationID int64
	ChatType       model.ChatType
}

// Module returns the fx module for the daemon. It must be combined with
// app.Module.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLock,
			providePush,
			provideSubscriber,
			provideSyncEngine,
			provideReconciler,
			provideWatcher,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName), Owner)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func providePush(cfg *config.Config, m *status.Machine, b *bus.Bus, logger *zap.Logger) *push.Client {
	return push.New(cfg.Push, m, b, logger)
}

func provideSubscriber(c *push.Client) messages.Subscriber {
	return c
}

func provideSyncEngine(cfg *config.Config, msgs *messages.Store, lists *chatlist.Store, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(cfg.Push, msgs, lists, b, logger)
}

func provideReconciler(msgs *messages.Store, lists *chatlist.Store, b *bus.Bus, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(msgs, lists, b, logger)
}

func provideWatcher(cfg *config.Config, w WatcherDeps) *Watcher {
	return NewWatcher(cfg.Locale, w)
}

func registerLifecycle(lc fx.Lifecycle, p Params, lk *lock.Lock, db *store.DB, client *push.Client, engine *intsync.Engine, rec *intsync.Reconciler, watcher *Watcher, msgs *messages.Store, machine *status.Machine, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if _, err := db.Hash(startCtx); err != nil {
				cancel()
				if rerr := lk.Release(); rerr != nil {
					logger.Warn("error releasing lock", zap.Error(rerr))
				}
				if errors.Is(err, store.ErrNoCredential) {
					logger.Info("no credentials found, auth required")
					_ = machine.Transition(status.AuthRequired)
					return ErrAuthRequired
				}
				return fmt.Errorf("read credential: %w", err)
			}

			engine.Start(ctx)
			rec.Start(ctx)
			watcher.Start(ctx)
			client.Start(ctx)

			if p.ConversationID > 0 {
				go func() {
					page, err := msgs.Open(ctx, p.ConversationID, p.ChatType)
					if err != nil {
						logger.Error("open conversation failed", zap.Int64("dialog_id", p.ConversationID), zap.Error(err))
						return
					}
					watcher.Timeline(page)
				}()
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			watcher.Stop()
			msgs.Close()
			client.Stop()
			rec.Stop()
			engine.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
