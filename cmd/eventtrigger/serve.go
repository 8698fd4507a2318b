package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/djlord-it/eventtrigger/internal/analytics"
	"github.com/djlord-it/eventtrigger/internal/api"
	"github.com/djlord-it/eventtrigger/internal/circuitbreaker"
	"github.com/djlord-it/eventtrigger/internal/clock"
	"github.com/djlord-it/eventtrigger/internal/config"
	"github.com/djlord-it/eventtrigger/internal/dispatcher"
	"github.com/djlord-it/eventtrigger/internal/firer"
	"github.com/djlord-it/eventtrigger/internal/logging"
	"github.com/djlord-it/eventtrigger/internal/metrics"
	"github.com/djlord-it/eventtrigger/internal/reconciler"
	"github.com/djlord-it/eventtrigger/internal/retention"
	"github.com/djlord-it/eventtrigger/internal/scheduler"
	"github.com/djlord-it/eventtrigger/internal/store/postgres"
	"github.com/djlord-it/eventtrigger/internal/store/sqlite"
	"github.com/djlord-it/eventtrigger/internal/transport/channel"
	"github.com/djlord-it/eventtrigger/internal/trigger"
)

const serveHelp = `Environment Variables:
  DATABASE_URL              PostgreSQL connection string; unset selects SQLite
  SQLITE_PATH               SQLite database file (default: "data/events.db")
  SQLITE_BUSY_TIMEOUT       SQLite busy timeout (default: "5s")
  HTTP_ADDR                 HTTP server address (default: ":8080", or ":$PORT")
  LOG_LEVEL                 debug, info, warn, error (default: "info")
  LOG_FORMAT                json or console (default: "json")
  TIMEZONE                  Zone for fixed_time schedules (default: host local)

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  SCHEDULER_DRAIN_TIMEOUT   Wait for in-flight firings on shutdown (default: "30s")
  FIRING_TIMEOUT            Bound on a single firing (default: "30s")

  RETENTION_INTERVAL        How often old event logs are swept (default: "1h")
  RETENTION_HORIZON         Age after which event logs are deleted (default: "48h")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  REDIS_ADDR                Redis address for firing counters (optional)

  RECONCILE_ENABLED         Periodically re-sync jobs with the store (default: "false")
  RECONCILE_INTERVAL        Reconcile period (default: "5m")

  DELIVERY_ENABLED          POST api trigger firings to their endpoint (default: "false")
  DELIVERY_SECRET           HMAC key for the signature header (optional)
  DELIVERY_TIMEOUT          Per-attempt request timeout (default: "30s")
  DISPATCHER_WORKERS        Concurrent deliveries (default: "1")
  DISPATCHER_DRAIN_TIMEOUT  Delivery drain on shutdown (default: "30s")
  EVENTBUS_BUFFER_SIZE      Pending deliveries buffered in memory (default: "100")
  CIRCUIT_BREAKER_THRESHOLD Failures before an endpoint is skipped; 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Time before a tripped endpoint is retried (default: "2m")`

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API, scheduler and background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := config.Validate(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, logging.New(cfg.LogLevel, cfg.LogFormat))
		},
	}
	cmd.SetHelpTemplate(cmd.HelpTemplate() + "\n" + serveHelp + "\n")
	return cmd
}

// appStore is the union of what the components need from persistence.
type appStore interface {
	trigger.Store
	firer.Store
	retention.Store
	reconciler.Store
	api.HealthChecker
	Migrate(ctx context.Context) error
}

func openStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (appStore, func() error, error) {
	if cfg.UsePostgres() {
		db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
			ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info().
			Str("backend", "postgres").
			Int("max_open", cfg.DBMaxOpenConns).
			Int("max_idle", cfg.DBMaxIdleConns).
			Dur("max_lifetime", cfg.DBConnMaxLifetime).
			Dur("max_idle_time", cfg.DBConnMaxIdleTime).
			Msg("store opened")
		return postgres.New(db, cfg.DBOpTimeout), db.Close, nil
	}

	st, err := sqlite.Open(cfg.SQLitePath, cfg.SQLiteBusyTimeout, cfg.DBOpTimeout)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("backend", "sqlite").Str("path", cfg.SQLitePath).Msg("store opened")
	return st, st.Close, nil
}

func runServe(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	log = logging.Component(log, "main")
	logConfigWarnings(cfg, log)

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	serverErrs := make(chan error, 2)

	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		sink = metrics.NewPrometheusSink(reg, log)

		mux := http.NewServeMux()
		mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsServer = &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go serveHTTP(metricsServer, serverErrs, log.With().Str("server", "metrics").Logger())
		log.Info().Str("port", cfg.MetricsPort).Str("path", cfg.MetricsPath).Msg("metrics enabled")
	} else {
		log.Info().Msg("METRICS_ENABLED not set; metrics disabled")
	}

	clk := clock.Real()
	fire := firer.New(store, clk, log)

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()

		counters := analytics.NewRedisSink(client, analytics.DefaultConfig())
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := counters.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Str("redis", cfg.RedisAddr).Msg("redis unreachable; counters will be retried per firing")
		}
		cancel()
		fire = fire.WithAnalytics(counters)
		log.Info().Str("redis", cfg.RedisAddr).Msg("analytics enabled")
	} else {
		log.Info().Msg("REDIS_ADDR not set; analytics disabled")
	}

	var (
		bus              *channel.EventBus
		dispatcherWg     sync.WaitGroup
		cancelDispatcher = func() {}
	)
	if cfg.DeliveryEnabled {
		bus = channel.NewEventBus(cfg.EventBusBufferSize, channel.WithMetrics(sink))
		fire = fire.WithPublisher(bus)

		disp := dispatcher.New(dispatcher.Config{
			Secret:         cfg.DeliverySecret,
			RequestTimeout: cfg.DeliveryTimeout,
			Workers:        cfg.DispatcherWorkers,
			DrainTimeout:   cfg.DispatcherDrainTimeout,
		}, dispatcher.NewHTTPWebhookSender(), log).WithMetrics(sink)
		if cfg.CircuitBreakerThreshold > 0 {
			disp = disp.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		}

		var dispatcherCtx context.Context
		dispatcherCtx, cancelDispatcher = context.WithCancel(context.Background())
		dispatcherWg.Add(1)
		go func() {
			defer dispatcherWg.Done()
			disp.Run(dispatcherCtx, bus.Channel())
		}()
		log.Info().Int("workers", cfg.DispatcherWorkers).Int("breaker_threshold", cfg.CircuitBreakerThreshold).Msg("delivery enabled")
	} else {
		log.Info().Msg("DELIVERY_ENABLED not set; api trigger delivery disabled")
	}

	sched := scheduler.New(
		scheduler.Config{FiringTimeout: cfg.FiringTimeout, RecoverPanics: true},
		scheduler.NewCompiler(cfg.Location()),
		fire,
		clk,
		log,
	).WithMetrics(sink)

	sweeper := retention.New(store, clk, retention.Config{
		Interval: cfg.RetentionInterval,
		Horizon:  cfg.RetentionHorizon,
	}, log).WithMetrics(sink)
	if err := sweeper.Install(sched); err != nil {
		return err
	}

	recon := reconciler.New(reconciler.Config{Interval: cfg.ReconcileInterval}, store, sched, log).WithMetrics(sink)
	if _, err := recon.Reconcile(ctx); err != nil {
		return fmt.Errorf("restore jobs: %w", err)
	}

	var (
		reconcilerWg     sync.WaitGroup
		cancelReconciler = func() {}
	)
	if cfg.ReconcileEnabled {
		var reconcilerCtx context.Context
		reconcilerCtx, cancelReconciler = context.WithCancel(context.Background())
		reconcilerWg.Add(1)
		go func() {
			defer reconcilerWg.Done()
			recon.Run(reconcilerCtx)
		}()
	} else {
		log.Info().Msg("RECONCILE_ENABLED not set; periodic reconcile disabled")
	}

	service := trigger.NewService(store, sched, fire, clk, log)
	handler := api.NewHandler(service, log).WithHealthChecker(store)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go serveHTTP(httpServer, serverErrs, log.With().Str("server", "api").Logger())

	log.Info().
		Str("http", cfg.HTTPAddr).
		Str("timezone", cfg.Location().String()).
		Dur("retention_horizon", cfg.RetentionHorizon).
		Msg("started")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case runErr = <-serverErrs:
		log.Error().Err(runErr).Msg("shutting down after server failure")
	}

	// Phase 1: stop accepting API calls so no new jobs are installed.
	httpCtx, httpCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}

	// Phase 2: stop the reconciler so it cannot re-install jobs.
	cancelReconciler()
	reconcilerWg.Wait()

	// Phase 3: cancel jobs and let in-flight firings finish.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.SchedulerDrainTimeout)
	defer drainCancel()
	if err := sched.Shutdown(drainCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Error().Err(err).Msg("scheduler shutdown")
	}

	// Phase 4: no more publishers; deliver what is buffered.
	if bus != nil {
		bus.Close()
	}
	cancelDispatcher()
	dispatcherWg.Wait()

	if metricsServer != nil {
		metricsCtx, metricsCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsCancel()
		if err := metricsServer.Shutdown(metricsCtx); err != nil {
			log.Error().Err(err).Msg("metrics server shutdown")
		}
	}

	log.Info().Msg("stopped")
	return runErr
}

func serveHTTP(srv *http.Server, errs chan<- error, log zerolog.Logger) {
	log.Info().Str("addr", srv.Addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs <- fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
}
