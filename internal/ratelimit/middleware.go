package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/kashier-bridge/internal/common"
)

// Config describes how to derive a rate limit key and thresholds.
type Config struct {
	Name   string
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// ByClientIP keys requests by caller address.
func ByClientIP(r *http.Request) string {
	return common.ClientIP(r)
}

// Handler enforces the sliding-window limit before delegating to next.
type Handler struct {
	Limiter Limiter
	Config  Config
	OnError func(error)
}

// Middleware rejects requests over the limit with 429. When Redis is
// unavailable requests are let through and OnError is notified.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Config.Key == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := h.Config.Key(r)
		if h.Config.Name != "" {
			key = h.Config.Name + ":" + key
		}
		d, err := h.Limiter.Allow(r.Context(), key, h.Config.Window, h.Config.Max)
		if err != nil {
			failOpen(w, r, next, h.OnError, err)
			return
		}
		serve(w, r, next, d)
	})
}

func failOpen(w http.ResponseWriter, r *http.Request, next http.Handler, onError func(error), err error) {
	if onError != nil {
		onError(err)
	}
	next.ServeHTTP(w, r)
}

// serve publishes the decision as X-RateLimit-* headers and either rejects
// the request or hands it to next.
func serve(w http.ResponseWriter, r *http.Request, next http.Handler, d Decision) {
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(max(d.Limit, 0)))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

	if d.Allowed {
		next.ServeHTTP(w, r)
		return
	}
	retryAfter := int(math.Ceil(time.Until(d.ResetAt).Seconds()))
	headers.Set("Retry-After", strconv.Itoa(max(retryAfter, 0)))
	common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", nil)
}
