package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/spikeflow/spikeflow/config"
	"github.com/spikeflow/spikeflow/pkg/board"
	"github.com/spikeflow/spikeflow/pkg/board/handlers"
	"github.com/spikeflow/spikeflow/pkg/constraint"
	"github.com/spikeflow/spikeflow/pkg/engine"
	"github.com/spikeflow/spikeflow/pkg/events"
	"github.com/spikeflow/spikeflow/pkg/ingress"
	"github.com/spikeflow/spikeflow/pkg/journal"
	"github.com/spikeflow/spikeflow/pkg/journal/badger"
	"github.com/spikeflow/spikeflow/pkg/journal/memory"
	"github.com/spikeflow/spikeflow/pkg/journal/sqlite"
	"github.com/spikeflow/spikeflow/pkg/logger"
	"github.com/spikeflow/spikeflow/pkg/metrics"
	"github.com/spikeflow/spikeflow/pkg/telemetry/tracing"
)

// app owns every long-lived component of the process.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	metrics *metrics.Manager
	events  *events.Broadcaster
	journal journal.Journal
	engine  *engine.Engine
	board   *board.HTTPServer
	gateway *ingress.Gateway
	sources []ingress.Source
	local   *ingress.LocalSource
	redis   redis.UniversalClient
	watcher *config.Watcher

	shutdownTracing tracing.ShutdownFunc
}

func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		log:    log,
		events: events.NewBroadcaster(),
	}

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.shutdownTracing = shutdownTracing

	a.metrics = metrics.NewManager(cfg.ToMetricsConfig())

	j, err := openJournal(cfg.Journal)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}
	a.journal = j
	log.Info("Journal opened", "type", cfg.Journal.Type)

	// Signals declared from here on pick up the configured max age.
	constraint.DefaultMaxAge = cfg.Engine.DefaultMaxAge

	eng, err := engine.New(cfg.ToEngineConfig(),
		engine.WithLogger(log),
		engine.WithMetrics(a.metrics),
		engine.WithJournal(j),
		engine.WithEventBroadcaster(a.events),
	)
	if err != nil {
		_ = j.Close()
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("create engine: %w", err)
	}
	a.engine = eng

	if err := registerModules(eng, cfg); err != nil {
		_ = eng.Close(ctx)
		_ = shutdownTracing(ctx)
		return nil, err
	}

	a.gateway = ingress.NewGateway(eng,
		ingress.Config{RateLimit: cfg.Ingress.RateLimit, Burst: cfg.Ingress.Burst},
		ingress.WithMetrics(a.metrics),
		ingress.WithLogger(log.With("component", "ingress")),
	)
	a.local = ingress.NewLocalSource("local", 0)
	a.local.SetMetrics(a.metrics)
	a.sources = append(a.sources, a.local)
	if cfg.Ingress.Redis.Enabled {
		a.redis = ingress.NewRedisClient(ingress.RedisConfig{
			Address:  cfg.Ingress.Redis.Address,
			Password: cfg.Ingress.Redis.Password,
			DB:       cfg.Ingress.Redis.DB,
		})
		src := ingress.NewRedisSource(a.redis, cfg.Ingress.Redis.Channel)
		src.SetMetrics(a.metrics)
		a.sources = append(a.sources, src)
	}
	if cfg.Ingress.GRPC.Enabled {
		src := ingress.NewGRPCSource(cfg.Ingress.GRPC.ToIngressConfig(),
			ingress.WithGRPCLogger(log.With("component", "grpc")),
			ingress.WithRPCMetrics(a.metrics),
		)
		src.SetMetrics(a.metrics)
		a.sources = append(a.sources, src)
	}

	if cfg.Board.Enabled {
		h := &board.Handlers{
			Engine:  handlers.NewEngineHandler(eng, log),
			Health:  handlers.NewHealthHandler(eng),
			Journal: handlers.NewJournalHandler(j),
			WebSocket: handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{
				AllowedOrigins: cfg.Board.CORS.AllowedOrigins,
				MaxConnections: cfg.Board.WebSocket.MaxConnections,
				PingInterval:   cfg.Board.WebSocket.PingInterval,
				PongTimeout:    cfg.Board.WebSocket.PongTimeout,
			}),
			Tracing: cfg.Tracing.Enabled,
		}
		if a.metrics.Enabled() {
			h.Metrics = a.metrics
		}
		a.board = board.NewHTTPServer(&cfg.Board, log, h)
	}

	return a, nil
}

// openJournal opens the configured journal backend.
func openJournal(cfg config.JournalConfig) (journal.Journal, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(0), nil
	case "badger":
		j, err := badger.New(&badger.Config{
			Path:       cfg.Badger.Path,
			SyncWrites: cfg.Badger.SyncWrites,
		})
		if err != nil {
			return nil, fmt.Errorf("open badger journal: %w", err)
		}
		return j, nil
	case "sqlite":
		j, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite journal: %w", err)
		}
		return j, nil
	default:
		return nil, fmt.Errorf("unknown journal type %q", cfg.Type)
	}
}

// watchConfig applies hot-reloadable settings from path: log level and
// module configuration.
func (a *app) watchConfig(path string, overrides map[string]interface{}) {
	w, err := config.NewWatcher(path, config.NewLoader(),
		config.WithOverrides(overrides),
		config.WithWatcherLogger(a.log),
	)
	if err != nil {
		a.log.Warn("Config watcher disabled", "error", err)
		return
	}

	current := config.ExtractHotReloadable(a.cfg)
	w.OnChange(func(next *config.Config) {
		hot := config.ExtractHotReloadable(next)
		if !current.Changed(hot) {
			return
		}
		if hot.LogLevel != current.LogLevel || hot.Debug != current.Debug {
			a.log.SetLevel(next.ToLoggerConfig().Level)
			a.log.Info("Log level reloaded", "level", hot.LogLevel, "debug", hot.Debug)
		}
		a.engine.SetModuleConf(hot.Modules)
		current = hot
	})
	a.watcher = w
}

// run starts every component and blocks until ctx ends, the engine shuts
// itself down or a component fails. The engine always gets its final tick.
func (a *app) run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// A shutdown requested by a state ends the process as well.
		defer cancel()
		err := a.engine.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if a.metrics.Enabled() {
		g.Go(func() error {
			a.log.Info("Starting metrics server", "port", a.cfg.Metrics.Port, "path", a.cfg.Metrics.Path)
			err := a.metrics.StartServer(gctx, a.cfg.Metrics.Port, a.cfg.Metrics.Path)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	if a.board != nil {
		g.Go(func() error {
			return a.board.StartWithEvents(a.events)
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Board.HTTP.ShutdownTimeout)
			defer cancel()
			return a.board.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return a.gateway.Run(gctx, a.sources...)
	})

	if a.watcher != nil {
		g.Go(func() error {
			err := a.watcher.Watch(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("Config watcher stopped", "error", err)
			}
			return nil
		})
	}

	a.log.Info("spikeflow is running",
		"board", a.cfg.Board.Enabled,
		"board_port", a.cfg.Board.Port,
		"metrics_port", a.cfg.Metrics.Port,
		"journal", a.cfg.Journal.Type,
		"grpc", a.cfg.Ingress.GRPC.Enabled,
	)

	err := g.Wait()
	a.close()
	return err
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Engine.ShutdownTimeout+time.Second)
	defer cancel()

	if a.watcher != nil {
		_ = a.watcher.Stop()
	}
	if err := a.engine.Close(ctx); err != nil {
		a.log.Error("Error closing engine", "error", err)
	}
	a.events.Close()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Error closing redis client", "error", err)
		}
	}
	if err := a.shutdownTracing(ctx); err != nil {
		a.log.Warn("Error shutting down tracing", "error", err)
	}
}
