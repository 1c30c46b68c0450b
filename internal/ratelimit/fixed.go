package ratelimit

import (
	"fmt"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limitermemory "github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// NewFixedWindow builds a fixed-window limiter from a formatted rate such as
// "60-M". A nil client keeps counters in process memory.
func NewFixedWindow(rdb *redis.Client, prefix, rate string) (*limiter.Limiter, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse rate %q: %w", rate, err)
	}
	opts := limiter.StoreOptions{Prefix: prefix, MaxRetry: 3, CleanUpInterval: time.Minute}
	var store limiter.Store
	if rdb != nil {
		store, err = limiterredis.NewStoreWithOptions(rdb, opts)
		if err != nil {
			return nil, fmt.Errorf("ratelimit: redis store: %w", err)
		}
	} else {
		store = limitermemory.NewStoreWithOptions(opts)
	}
	return limiter.New(store, parsed), nil
}

// FixedWindow applies a fixed-window limiter per key, answering with the
// same headers and body as Handler.
type FixedWindow struct {
	Limiter *limiter.Limiter
	Key     func(*http.Request) string
	OnError func(error)
}

func (f FixedWindow) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.Limiter == nil || f.Key == nil {
			next.ServeHTTP(w, r)
			return
		}
		lctx, err := f.Limiter.Get(r.Context(), f.Key(r))
		if err != nil {
			failOpen(w, r, next, f.OnError, err)
			return
		}
		serve(w, r, next, Decision{
			Allowed:   !lctx.Reached,
			Limit:     int(lctx.Limit),
			Remaining: int(lctx.Remaining),
			ResetAt:   time.Unix(lctx.Reset, 0),
		})
	})
}
