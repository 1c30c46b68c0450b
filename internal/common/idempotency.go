package common

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const idemPending = "pending"

// Idem replays the first response for a repeated Idempotency-Key. A request
// that arrives while the first one is still running gets 409.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

type idemRecord struct {
	Status   int    `json:"status"`
	Location string `json:"location,omitempty"`
	Body     []byte `json:"body"`
}

// Middleware enforces idempotency semantics for write endpoints.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Idempotency-Key")
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ttl := i.TTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ctx := r.Context()
		key := "idem:" + DigestKey(r.Method, r.URL.Path, header)
		fresh, err := i.R.SetNX(ctx, key, idemPending, ttl).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", nil)
			return
		}
		if !fresh {
			i.replay(ctx, w, key)
			return
		}

		rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			storeCtx := context.WithoutCancel(ctx)
			if rec.status >= 500 {
				_ = i.R.Del(storeCtx, key).Err()
				return
			}
			raw, err := json.Marshal(idemRecord{Status: rec.status, Location: w.Header().Get("Location"), Body: rec.body.Bytes()})
			if err != nil {
				_ = i.R.Del(storeCtx, key).Err()
				return
			}
			_ = i.R.Set(storeCtx, key, raw, ttl).Err()
		}()
		next.ServeHTTP(rec, r)
	})
}

func (i Idem) replay(ctx context.Context, w http.ResponseWriter, key string) {
	raw, err := i.R.Get(ctx, key).Bytes()
	if err != nil || string(raw) == idemPending {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "request with this key is in progress", nil)
		return
	}
	var record idemRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
		return
	}
	w.Header().Set("Idempotent-Replayed", "true")
	if record.Location != "" {
		w.Header().Set("Location", record.Location)
	}
	if len(record.Body) > 0 {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(record.Status)
	_, _ = w.Write(record.Body)
}

type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
