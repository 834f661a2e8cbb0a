package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/roam/internal/api"
	"github.com/matheus3301/roam/internal/bus"
	"github.com/matheus3301/roam/internal/config"
	"github.com/matheus3301/roam/internal/lock"
	"github.com/matheus3301/roam/internal/logging"
	"github.com/matheus3301/roam/internal/metrics"
	"github.com/matheus3301/roam/internal/remote"
	"github.com/matheus3301/roam/internal/session"
	"github.com/matheus3301/roam/internal/status"
	"github.com/matheus3301/roam/internal/store"
	intsync "github.com/matheus3301/roam/internal/sync"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // nil = load ~/.roam/config.toml
	Logger      *zap.Logger    // nil = log to the session log file and stderr
}

// RemoteLink holds the roaming feed client; Client is nil when no feed is
// configured.
type RemoteLink struct {
	Client *remote.Client
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			providePaths,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRemote,
			provideSyncEngine,
			providePagingService,
			provideSyncService,
			provideMetricsServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config.WithDefaults(), nil
	}
	return config.LoadOrDefault(session.ConfigPath())
}

func providePaths(p Params) (session.Paths, error) {
	paths := session.For(p.SessionName)
	return paths, paths.Ensure()
}

func provideLogger(p Params, paths session.Paths, cfg *config.Config) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(paths.Log(), p.SessionName, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(paths session.Paths, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", paths.Name))
	l, err := lock.Acquire(paths.Dir)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is only opened by the
// daemon owning the session.
func provideStore(paths session.Paths, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := paths.DB()
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
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", db.Path()))
	return db, nil
}

func provideRemote(cfg *config.Config, logger *zap.Logger) (RemoteLink, error) {
	r := cfg.Roaming
	if r.RemoteAddr == "" {
		logger.Info("no roaming feed configured, serving history from the local store")
		return RemoteLink{}, nil
	}
	c, err := remote.Dial(remote.Options{
		Addr:      r.RemoteAddr,
		RateLimit: r.RateLimit,
		RateBurst: r.RateBurst,
	}, logger.Named("remote"))
	if err != nil {
		return RemoteLink{}, err
	}
	logger.Info("roaming feed configured", zap.String("addr", r.RemoteAddr), zap.Float64("rate_limit", r.RateLimit))
	return RemoteLink{Client: c}, nil
}

func provideSyncEngine(db *store.DB, link RemoteLink, b *bus.Bus, m *status.Machine, cfg *config.Config, logger *zap.Logger) *intsync.Engine {
	var remotes intsync.RemoteProvider
	if link.Client != nil {
		remotes = link.Client
	}
	return intsync.NewEngine(db, remotes, b, m, intsync.Config{
		PageSize:      cfg.Roaming.PageSize,
		MaxPageSize:   cfg.Roaming.MaxPageSize,
		RemoteTimeout: cfg.Roaming.RemoteTimeout.Duration,
	}, logger.Named("sync"))
}

func providePagingService(engine *intsync.Engine, logger *zap.Logger) *api.PagingService {
	return api.NewPagingService(engine, logger)
}

func provideSyncService(p Params, engine *intsync.Engine, db *store.DB, b *bus.Bus, m *status.Machine, cfg *config.Config, logger *zap.Logger) *api.SyncService {
	return api.NewSyncService(engine, db, b, m, p.SessionName, cfg.Roaming.RemoteAddr, logger)
}

func provideMetricsServer(cfg *config.Config, logger *zap.Logger) *metrics.Server {
	if cfg.Metrics.ListenAddr == "" {
		return nil
	}
	return metrics.NewServer(cfg.Metrics.ListenAddr, logger.Named("metrics"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, ms *metrics.Server, lk *lock.Lock, db *store.DB, link RemoteLink, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if ms != nil {
				if err := ms.Start(); err != nil {
					return err
				}
			}

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			if ms != nil {
				if err := ms.Stop(ctx); err != nil {
					logger.Warn("error stopping metrics server", zap.Error(err))
				}
			}
			if err := link.Client.Close(); err != nil {
				logger.Warn("error closing roaming feed connection", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
