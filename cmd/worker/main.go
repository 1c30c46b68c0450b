package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/noah-isme/kashier-bridge/internal/app"
	"github.com/noah-isme/kashier-bridge/internal/config"
	"github.com/noah-isme/kashier-bridge/internal/enroll"
	"github.com/noah-isme/kashier-bridge/internal/lock"
	"github.com/noah-isme/kashier-bridge/internal/obs"
	"github.com/noah-isme/kashier-bridge/internal/order"
	"github.com/noah-isme/kashier-bridge/internal/queue"
	"github.com/noah-isme/kashier-bridge/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Obs.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "kashier-bridge-worker",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if cfg.OrderStore != config.OrderStorePostgres {
		logger.Fatal().Msg("worker requires ORDER_STORE=postgres")
	}
	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := app.OpenPostgres(startCtx, cfg, "kashier-bridge-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer pool.Close()

	redisClient, err := app.OpenRedis(startCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open redis")
	}
	if redisClient == nil {
		logger.Fatal().Msg("worker requires REDIS_URL")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	var forwarder enroll.Forwarder = enroll.LogForwarder{Logger: logger}
	if cfg.EnrollmentHookURL != "" {
		forwarder = enroll.HTTPForwarder{
			URL: cfg.EnrollmentHookURL,
			Client: resilience.HTTPClient{
				Client:      app.OutboundClient(cfg.OutboundTimeout),
				Breaker:     resilience.NewBreaker(10, 0.5, 30*time.Second).WithTarget("enrollment-hook").WithLogger(logger),
				Target:      "enrollment-hook",
				BaseBackoff: cfg.RetryBase,
				MaxAttempts: cfg.RetryMaxAttempts,
				Jitter:      0.2,
				Timeout:     cfg.OutboundTimeout,
			},
			Secret: []byte(cfg.EnrollmentHookSecret),
		}
	}

	handler := &enroll.Handler{
		Orders:    &order.PGStore{DB: pool},
		Locker:    lock.Locker{R: redisClient, Prefix: cfg.QueueRedisPrefix, RetryBackoff: 100 * time.Millisecond},
		Forwarder: forwarder,
		LockTTL:   cfg.LockTTL,
		Logger:    &logger,
	}

	worker := queue.Worker{
		R:           redisClient,
		Prefix:      cfg.QueueRedisPrefix,
		Kind:        enroll.TaskKind,
		Concurrency: cfg.QueueConcurrency,
		RetryBase:   cfg.RetryBase,
		RetryJitter: 0.2,
		Logger:      &logger,
		Handler:     handler.Handle,
	}

	logger.Info().Str("kind", enroll.TaskKind).Msg("worker starting")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}
