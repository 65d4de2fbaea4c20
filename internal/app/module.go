// Package app is the composition root shared by the binaries. Every store
// and service is constructed once per fx application.
package app

import (
	"context"

	"github.com/wecrm/crmchat/internal/backend"
	"github.com/wecrm/crmchat/internal/bus"
	"github.com/wecrm/crmchat/internal/chatlist"
	"github.com/wecrm/crmchat/internal/config"
	"github.com/wecrm/crmchat/internal/dictionary"
	"github.com/wecrm/crmchat/internal/logging"
	"github.com/wecrm/crmchat/internal/messages"
	"github.com/wecrm/crmchat/internal/notify"
	"github.com/wecrm/crmchat/internal/session"
	"github.com/wecrm/crmchat/internal/status"
	"github.com/wecrm/crmchat/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName  string
	Binary       string // names the log file
	ConsoleLevel zapcore.Level
}

// Module returns the core providers: config, logging, local storage, the
// REST client and the stores.
func Module(p Params) fx.Option {
	return fx.Module("core",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideStore,
			provideBackend,
			provideMessages,
			provideChatList,
			provideNotify,
			provideDictionary,
			provideTasks,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(session.ConfigPath())
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg, session.EnvPath(), ".env"); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	return logging.New(session.LogPath(p.SessionName, p.Binary), p.SessionName, p.ConsoleLevel)
}

func provideBus(logger *zap.Logger) *bus.Bus {
	return bus.New(bus.WithLogger(logger))
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Debug("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Debug("store initialized", zap.String("path", db.Path()))
	return db, nil
}

func provideBackend(cfg *config.Config, logger *zap.Logger) *backend.Client {
	if cfg.API.Token == "" {
		logger.Warn("no API token configured; requests carry only the session hash",
			zap.String("env", config.EnvAPIToken))
	}
	return backend.New(cfg.API, logger)
}

// MessagesParams lets the daemon plug in a push subscriber. One-shot
// commands run without one.
type MessagesParams struct {
	fx.In

	DB         *store.DB
	Backend    *backend.Client
	Subscriber messages.Subscriber `optional:"true"`
	Logger     *zap.Logger
}

func provideMessages(p MessagesParams) *messages.Store {
	return messages.NewStore(p.DB, p.Backend, p.Subscriber, p.Logger, nil)
}

func provideChatList(db *store.DB, c *backend.Client, logger *zap.Logger) *chatlist.Store {
	return chatlist.NewStore(db, c, logger)
}

func provideNotify(db *store.DB, c *backend.Client, b *bus.Bus, logger *zap.Logger) *notify.Store {
	return notify.NewStore(db, c, b, logger)
}

func provideDictionary(db *store.DB, c *backend.Client, logger *zap.Logger) *dictionary.Store {
	return dictionary.NewStore(db, c, db, logger)
}

func provideTasks(db *store.DB, c *backend.Client, logger *zap.Logger) *dictionary.Tasks {
	return dictionary.NewTasks(db, c, logger)
}

func registerLifecycle(lc fx.Lifecycle, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			_ = logger.Sync()
			return nil
		},
	})
}
