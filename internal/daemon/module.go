package daemon

import (
	"context"
	"errors"

	"github.com/matheus3301/msgr/internal/auth"
	"github.com/matheus3301/msgr/internal/bus"
	"github.com/matheus3301/msgr/internal/chat"
	"github.com/matheus3301/msgr/internal/command"
	"github.com/matheus3301/msgr/internal/config"
	"github.com/matheus3301/msgr/internal/control"
	"github.com/matheus3301/msgr/internal/lock"
	"github.com/matheus3301/msgr/internal/logging"
	"github.com/matheus3301/msgr/internal/profile"
	"github.com/matheus3301/msgr/internal/status"
	"github.com/matheus3301/msgr/internal/store"
	intsync "github.com/matheus3301/msgr/internal/sync"
	"github.com/matheus3301/msgr/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	Config     *config.Config
}

func (p Params) socketPath() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	return profile.SocketPath(p.Profile)
}

func (p Params) config() *config.Config {
	if p.Config == nil {
		return config.Default()
	}
	return p.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideSupervisor,
			provideChannel,
			provideEngine,
			provideEmitter,
			provideClient,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, p.config().Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// The lock parameter orders acquisition before the database is touched.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideSupervisor(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger) *auth.Supervisor {
	srv := p.config().Server
	issuer := auth.NewHTTPIssuer(srv.BaseURL, srv.LoginPath, srv.RefreshPath, srv.RequestTimeout.Duration)
	return auth.NewSupervisor(db, issuer, b, p.config().Sync.RefreshLeeway.Duration, logger.Named("auth"))
}

func provideChannel(p Params, logger *zap.Logger) *transport.Channel {
	return transport.NewChannel(p.config().Server.WebSocketURL, logger.Named("transport"))
}

func provideEngine(p Params, ch *transport.Channel, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(ch, b, p.config().Sync.NotificationTTL.Duration, logger.Named("sync"))
}

func provideEmitter(ch *transport.Channel, logger *zap.Logger) *command.Emitter {
	return command.NewEmitter(ch, logger.Named("command"))
}

func provideClient(p Params, sup *auth.Supervisor, ch *transport.Channel, engine *intsync.Engine, emitter *command.Emitter, machine *status.Machine, logger *zap.Logger) *chat.Client {
	opts := chat.Options{
		ReconnectInitial: p.config().Sync.ReconnectInitial.Duration,
		ReconnectMax:     p.config().Sync.ReconnectMax.Duration,
	}
	return chat.NewClient(sup, ch, engine, emitter, machine, opts, logger.Named("chat"))
}

func provideServer(p Params, b *bus.Bus, logger *zap.Logger) (*control.Server, error) {
	return control.NewServer(p.socketPath(), b, logger.Named("control"))
}

func registerLifecycle(lc fx.Lifecycle, srv *control.Server, lk *lock.Lock, db *store.DB, client *chat.Client, sup *auth.Supervisor, ch *transport.Channel, engine *intsync.Engine, b *bus.Bus, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			go func() {
				defer close(done)
				loop := &sessionLoop{runner: client, session: sup, logger: logger}
				if err := loop.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("session loop stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
				logger.Warn("session loop did not stop in time")
			}
			engine.Stop()
			_ = ch.Close()
			srv.Stop(stopCtx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			b.Close()
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
