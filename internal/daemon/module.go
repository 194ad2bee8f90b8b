package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/lumeo-crm/notifyd/internal/bus"
	"github.com/lumeo-crm/notifyd/internal/changefeed"
	"github.com/lumeo-crm/notifyd/internal/config"
	"github.com/lumeo-crm/notifyd/internal/lock"
	"github.com/lumeo-crm/notifyd/internal/logging"
	"github.com/lumeo-crm/notifyd/internal/media"
	"github.com/lumeo-crm/notifyd/internal/outbound"
	"github.com/lumeo-crm/notifyd/internal/paths"
	"github.com/lumeo-crm/notifyd/internal/perms"
	"github.com/lumeo-crm/notifyd/internal/prefs"
	"github.com/lumeo-crm/notifyd/internal/store"
	intsync "github.com/lumeo-crm/notifyd/internal/sync"
	"github.com/lumeo-crm/notifyd/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			providePrefs,
			provideFeed,
			provideManager,
			provideWriter,
			provideTracker,
			provideResolver,
			provideEngine,
			NewSupervisor,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(paths.ConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := paths.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	return logging.New(paths.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(paths.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := paths.DBPath(p.Profile)
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

func providePrefs(b *bus.Bus, logger *zap.Logger) (*prefs.Store, error) {
	s := prefs.NewStore(paths.PrefsPath(), b, logger)
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

func provideFeed(cfg *config.Config, logger *zap.Logger) (changefeed.Source, error) {
	switch cfg.Feed.Kind {
	case "postgres":
		return changefeed.NewPGFeed(cfg.Feed.DSN, cfg.Feed.Channel, logger), nil
	case "websocket":
		return changefeed.NewWSFeed(cfg.Feed.URL, logger), nil
	default:
		return nil, fmt.Errorf("daemon: unknown feed kind %q", cfg.Feed.Kind)
	}
}

func provideManager(source changefeed.Source, b *bus.Bus, logger *zap.Logger) *changefeed.Manager {
	return changefeed.NewManager(source, b, logger)
}

func provideWriter(db *store.DB, b *bus.Bus, logger *zap.Logger) *outbound.Writer {
	return outbound.NewWriter(db, b, logger)
}

func provideTracker(cfg *config.Config, w *outbound.Writer, b *bus.Bus, logger *zap.Logger) *media.Tracker {
	creds := media.Credentials{
		InstanceID:    cfg.Media.InstanceID,
		InstanceToken: cfg.Media.InstanceToken,
	}
	return media.NewTracker(creds, media.NewHTTPDownloader(cfg.Media.Endpoint), w, b, logger)
}

func provideResolver(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *perms.Resolver {
	return perms.NewResolver(perms.NewHTTPFetcher(cfg.Perms.Endpoint), b, logger)
}

func provideEngine(cfg *config.Config, db *store.DB, manager *changefeed.Manager, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, manager, logger, time.Duration(cfg.DebounceMs)*time.Millisecond)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, lk *lock.Lock, p *prefs.Store, w *outbound.Writer, sup *Supervisor, srv *Server, engine *intsync.Engine, manager *changefeed.Manager, tracker *media.Tracker, logger *zap.Logger) {
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	var metricsSrv *http.Server

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if cfg.MetricsAddr != "" {
				registry := telemetry.Init()
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
				metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("metrics server error", zap.Error(err))
					}
				}()
			}

			if err := p.Watch(watchCtx); err != nil {
				logger.Warn("preference watcher unavailable", zap.Error(err))
			}

			w.Start(context.Background())

			// Control server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()

			if err := engine.Start(context.Background()); err != nil {
				// Mirror feeds degrade like any other subscription failure;
				// the daemon keeps serving.
				logger.Warn("mirror engine unavailable", zap.Error(err))
			}

			sup.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			sup.Stop()
			engine.Stop()
			manager.CloseAll()
			tracker.CloseAll()
			w.Stop()
			cancelWatch()
			p.Close()
			if metricsSrv != nil {
				shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				defer cancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
