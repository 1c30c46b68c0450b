package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/kashier-bridge/internal/config"
	"github.com/noah-isme/kashier-bridge/internal/health"
	"github.com/noah-isme/kashier-bridge/internal/obs"
)

// OpenPostgres connects a traced pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, cfg *config.Config, applicationName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// OpenRedis returns nil when REDIS_URL is unset.
func OpenRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.Obs.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Probes builds readiness checks for whichever backends are connected.
func Probes(cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client) []health.Probe {
	var probes []health.Probe
	if pool != nil {
		probes = append(probes, health.Probe{Name: "db", Timeout: cfg.Obs.ReadyDBTimeout, Check: pool.Ping})
	}
	if rdb != nil {
		probes = append(probes, health.Probe{
			Name:    "redis",
			Timeout: cfg.Obs.ReadyRedisTimeout,
			Check:   func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	return probes
}

// OutboundClient is the traced HTTP client used for calls to the host platform.
func OutboundClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
