package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/kashier-bridge/internal/app"
	"github.com/noah-isme/kashier-bridge/internal/config"
	"github.com/noah-isme/kashier-bridge/internal/events"
	"github.com/noah-isme/kashier-bridge/internal/health"
	"github.com/noah-isme/kashier-bridge/internal/obs"
	"github.com/noah-isme/kashier-bridge/internal/order"
)

const shutdownGrace = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), nil)
	}

	tracingEnabled := cfg.Obs.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "kashier-bridge-api",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var (
		pool       *pgxpool.Pool
		orders     order.Store
		eventStore events.EventStore
	)
	switch cfg.OrderStore {
	case config.OrderStorePostgres:
		if cfg.MigrateOnStart {
			if err := order.Migrate(cfg.DatabaseURL); err != nil {
				logger.Fatal().Err(err).Msg("run migrations")
			}
		}
		pool, err = app.OpenPostgres(startCtx, cfg, "kashier-bridge-api")
		if err != nil {
			logger.Fatal().Err(err).Msg("open database")
		}
		defer pool.Close()
		orders = &order.PGStore{DB: pool}
		eventStore = events.PGStore{DB: pool}
	default:
		logger.Warn().Msg("using in-memory order store; orders are lost on restart")
		orders = order.NewMemoryStore()
	}

	var redisClient *redis.Client
	redisClient, err = app.OpenRedis(startCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open redis")
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	} else {
		logger.Warn().Msg("REDIS_URL not set; replay protection and enrollment queue disabled")
	}

	deps := app.Dependencies{
		Config:      cfg,
		Logger:      logger,
		Orders:      orders,
		EventStore:  eventStore,
		Redis:       redisClient,
		HTTPMetrics: httpMetrics,
		Probes:      app.Probes(cfg, pool, redisClient),
		Tracing:     tracingEnabled,
	}
	if cfg.Obs.MetricsEnabled {
		deps.Registry = prometheus.DefaultGatherer
	}
	server, err := app.New(deps)
	if err != nil {
		logger.Fatal().Err(err).Msg("assemble server")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
		health.SetReady(false)
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}
}
