package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/conductor/internal/api"
	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/internal/dispatch"
	"github.com/ShayCichocki/conductor/internal/logging"
	"github.com/ShayCichocki/conductor/internal/metrics"
	"github.com/ShayCichocki/conductor/internal/orchestrator"
	"github.com/ShayCichocki/conductor/internal/registry"
	"github.com/ShayCichocki/conductor/internal/state"
	"github.com/ShayCichocki/conductor/internal/version"
)

var (
	serveAddr       string
	serveDemoAgents bool
	serveRetain     time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordination engine and its HTTP API",
	Long: `Start the agent registry, the scheduler loop and the HTTP API.

Agents register and report outcomes over HTTP (or Redis Streams when
dispatch.driver is "redis"). Tasks and workflows are submitted with
'conductor submit' or POST /api/tasks and /api/workflows.

With --demo-agents a small in-process fleet is registered so tasks have
somewhere to go without any external workers.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveDemoAgents, "demo-agents", false, "register a sample in-process agent fleet")
	serveCmd.Flags().DurationVar(&serveRetain, "retain", 0, "purge finished tasks older than this from the state store at startup (0 keeps all)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	logger, err := logging.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	agents := registry.New(registry.Config{
		HealthCheckInterval: cfg.Registry.HealthCheckInterval,
		SweepInterval:       cfg.Registry.SweepInterval,
		StrictCapacity:      cfg.Registry.StrictCapacity,
	}, registry.WithLogger(logger), registry.WithMetrics(m))

	var db *state.DB
	if cfg.State.Enabled {
		db, err = openState(logger)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	tr, err := newTransport(ctx, logger)
	if err != nil {
		return err
	}
	defer tr.close()

	channel := dispatch.NewGuarded(tr.channel, dispatch.GuardConfig{
		Name:                cfg.Dispatch.Driver,
		RateLimit:           cfg.Dispatch.RateLimit,
		Burst:               cfg.Dispatch.Burst,
		MaxRequests:         cfg.Dispatch.Breaker.MaxRequests,
		Interval:            cfg.Dispatch.Breaker.Interval,
		Timeout:             cfg.Dispatch.Breaker.Timeout,
		ConsecutiveFailures: cfg.Dispatch.Breaker.ConsecutiveFailures,
	}, logger, m)

	tools := orchestrator.NewStaticToolMap(cfg.Tools)
	coordCfg, opts := orchestrator.FromConfig(cfg)
	opts = append(opts,
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(m),
		orchestrator.WithToolMapper(tools),
	)
	coord := orchestrator.New(coordCfg, agents, channel, opts...)

	recorded := make(chan struct{})
	if db != nil {
		rec := state.NewRecorder(db, agents, logger)
		agents.Subscribe(rec)
		events, _ := coord.Subscribe()
		go func() {
			defer close(recorded)
			rec.Run(events)
		}()
	} else {
		close(recorded)
	}

	if tr.redis != nil {
		go tr.redis.ListenOutcomes(ctx, coord)
	}

	if serveDemoAgents {
		if err := startDemoAgents(ctx, agents, cfg.Registry.HealthCheckInterval, tr.bus, tr.redis, coord, logger); err != nil {
			return err
		}
	}

	loader.Watch(func(next *config.Config, err error) {
		if err != nil {
			logger.Warn("config reload rejected", zap.Error(err))
			return
		}
		tools.Replace(next.Tools)
		logger.Info("tool mapping reloaded", zap.Int("capabilities", len(next.Tools)))
	})

	go agents.Run(ctx)
	go coord.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewHandler(coord, agents, promReg, logger).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	logger.Info("conductor started",
		zap.String("version", version.Get()),
		zap.String("addr", cfg.Server.Addr),
		zap.String("dispatch", cfg.Dispatch.Driver),
		zap.Int("max_concurrent_tasks", coordCfg.MaxConcurrentTasks),
		zap.Bool("state", db != nil),
		zap.String("config", loader.ConfigFile()))

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serveErr:
		logger.Error("http server failed", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http shutdown", zap.Error(serr))
	}

	coord.Close()
	<-recorded

	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// openState opens the audit store and closes out whatever a previous run
// left open.
func openState(logger *zap.Logger) (*state.DB, error) {
	db, err := state.Open(cfg.State.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state: %w", err)
	}

	if _, err := state.NewRecoveryManager(db, logger).Clean(time.Now()); err != nil {
		db.Close()
		return nil, err
	}

	if serveRetain > 0 {
		n, err := db.PurgeFinishedTasks(serveRetain)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("purge state: %w", err)
		}
		logger.Info("purged finished tasks", zap.Int64("count", n), zap.Duration("older_than", serveRetain))
	}
	return db, nil
}

// transport is the dispatch channel selected by dispatch.driver. Exactly
// one of bus and redis is set.
type transport struct {
	channel dispatch.Channel
	bus     *dispatch.LocalBus
	redis   *dispatch.RedisChannel
}

func newTransport(ctx context.Context, logger *zap.Logger) (*transport, error) {
	switch cfg.Dispatch.Driver {
	case "redis":
		url := config.RedisURL(cfg)
		logger.Info("connecting to redis", zap.String("url", config.MaskURL(url)))
		rc, err := dispatch.NewRedisChannel(ctx, dispatch.RedisConfig{
			URL:             url,
			Prefix:          cfg.Dispatch.Redis.Prefix,
			SendTimeout:     cfg.Dispatch.Redis.SendTimeout,
			ConnectAttempts: cfg.Dispatch.Redis.ConnectAttempts,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &transport{channel: rc, redis: rc}, nil
	default:
		bus := dispatch.NewLocalBus(cfg.Dispatch.InboxSize)
		return &transport{channel: bus, bus: bus}, nil
	}
}

func (t *transport) close() {
	if t.redis != nil {
		_ = t.redis.Close()
	}
}
