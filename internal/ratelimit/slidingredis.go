package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter is a sliding-window limiter over a Redis sorted set per key.
type Limiter struct {
	Client *redis.Client
	Prefix string
	Now    func() time.Time
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Allow records a hit for key and reports whether it fits within max hits per
// window. A disabled limiter (no client, non-positive max or window) allows
// everything.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (Decision, error) {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	decision := Decision{Allowed: true, Limit: max, Remaining: max, ResetAt: now.Add(window)}
	if l.Client == nil || max <= 0 || window <= 0 {
		return decision, nil
	}

	redisKey := l.Prefix + key
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", "("+cutoff)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	card := pipe.ZCard(ctx, redisKey)
	oldest := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	pipe.PExpire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return decision, fmt.Errorf("ratelimit: %w", err)
	}

	current := int(card.Val())
	decision.Allowed = current <= max
	decision.Remaining = max - current
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	if first := oldest.Val(); len(first) > 0 {
		decision.ResetAt = time.Unix(0, int64(first[0].Score)).Add(window)
	}
	return decision, nil
}
