package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kashier-bridge/internal/resilience"
)

const (
	defaultMaxAttempts = 10
	defaultDedupTTL    = 24 * time.Hour
	idleWait           = 100 * time.Millisecond
)

// Task represents a job to be processed asynchronously.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	Attempt        int
}

// Enqueuer publishes tasks to Redis backed queues.
type Enqueuer struct {
	R           *redis.Client
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue inserts the task into the queue. A task with an idempotency key is
// enqueued at most once within the deduplication window.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return errors.New("queue: task kind is required")
	}
	keys := keyspace{prefix: e.Prefix, kind: kind}
	msg := taskMessage{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		MaxAttempts: firstPositive(t.MaxAttempts, e.MaxAttempts, defaultMaxAttempts),
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}

	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = defaultDedupTTL
		}
		fresh, err := e.R.SetNX(ctx, keys.dedup(msg.Key), "1", ttl).Result()
		if err != nil {
			return fmt.Errorf("queue: dedup: %w", err)
		}
		if !fresh {
			return nil
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := e.R.ZAdd(ctx, keys.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err(); err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	readyTasks.WithLabelValues(kind).Inc()
	return nil
}

// Worker consumes tasks for a specific kind.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	Handler           func(context.Context, Task) error
	RetryBase         time.Duration
	RetryJitter       float64
	Logger            *zerolog.Logger
}

// Run processes tasks until the context is cancelled. In-flight tasks are
// tracked in a processing set so a crashed worker's tasks are redelivered
// after the visibility timeout.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return errors.New("queue: worker kind is required")
	}
	keys := keyspace{prefix: w.Prefix, kind: kind}
	concurrency := firstPositive(w.Concurrency, 1)
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	retryBase := w.RetryBase
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	requeueTicker := time.NewTicker(time.Second)
	defer requeueTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-requeueTicker.C:
			if err := w.requeueExpired(ctx, keys); err != nil && ctx.Err() == nil {
				return err
			}
		default:
		}

		msg, raw, ok, err := w.claim(ctx, keys, visibility)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !ok {
			sleep(ctx, idleWait)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		wg.Add(1)
		go func(raw string, m taskMessage) {
			defer func() { <-sem }()
			defer wg.Done()
			jobCtx, cancel := context.WithTimeout(ctx, visibility)
			defer cancel()
			err := w.Handler(jobCtx, Task{Kind: kind, Payload: m.Payload, IdempotencyKey: m.Key, Attempt: m.Attempt, MaxAttempts: m.MaxAttempts})
			// Settle on a detached context so cancellation does not strand the task.
			settleCtx, settleCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer settleCancel()
			if err != nil {
				w.logger().Warn().Err(err).Str("kind", kind).Int("attempt", m.Attempt).Msg("queue task failed")
				w.handleFailure(settleCtx, keys, raw, m, retryBase)
				return
			}
			w.ack(settleCtx, keys, raw)
		}(raw, msg)
	}
}

// claimScript atomically moves the earliest due task from the ready set into
// the processing set, scored by its visibility deadline.
var claimScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
if #due == 0 then
  return false
end
redis.call("ZREM", KEYS[1], due[1])
redis.call("ZADD", KEYS[2], ARGV[2], due[1])
return due[1]
`)

// claim returns the raw member now held in the processing set and the decoded
// message with its attempt counter advanced.
func (w Worker) claim(ctx context.Context, keys keyspace, visibility time.Duration) (taskMessage, string, bool, error) {
	now := time.Now()
	raw, err := claimScript.Run(ctx, w.R,
		[]string{keys.ready(), keys.processing()},
		now.UnixNano(), now.Add(visibility).UnixNano(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return taskMessage{}, "", false, nil
	}
	if err != nil {
		return taskMessage{}, "", false, err
	}
	readyTasks.WithLabelValues(keys.kind).Dec()
	msg, err := decodeMessage(raw)
	if err != nil {
		w.logger().Error().Err(err).Str("kind", keys.kind).Msg("drop undecodable task")
		_ = w.R.ZRem(ctx, keys.processing(), raw).Err()
		return taskMessage{}, "", false, nil
	}
	msg.Attempt++
	return msg, raw, true, nil
}

func (w Worker) handleFailure(ctx context.Context, keys keyspace, raw string, msg taskMessage, base time.Duration) {
	_ = w.R.ZRem(ctx, keys.processing(), raw).Err()
	if msg.MaxAttempts > 0 && msg.Attempt >= msg.MaxAttempts {
		encoded, err := json.Marshal(msg)
		if err != nil {
			return
		}
		_ = w.R.LPush(ctx, keys.dlq(), encoded).Err()
		if msg.Key != "" {
			_ = w.R.Del(ctx, keys.dedup(msg.Key)).Err()
		}
		taskOutcomes.WithLabelValues(keys.kind, "dlq").Inc()
		deadLetters.WithLabelValues(keys.kind).Inc()
		w.logger().Error().Str("kind", keys.kind).Str("key", msg.Key).Int("attempt", msg.Attempt).Msg("queue task moved to dlq")
		return
	}
	delay := resilience.Backoff(base, msg.Attempt, w.RetryJitter)
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := w.R.ZAdd(ctx, keys.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: string(encoded)}).Err(); err == nil {
		readyTasks.WithLabelValues(keys.kind).Inc()
	}
	taskOutcomes.WithLabelValues(keys.kind, "retry").Inc()
}

func (w Worker) ack(ctx context.Context, keys keyspace, raw string) {
	_ = w.R.ZRem(ctx, keys.processing(), raw).Err()
	taskOutcomes.WithLabelValues(keys.kind, "ok").Inc()
}

func (w Worker) requeueExpired(ctx context.Context, keys keyspace) error {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	expired, err := w.R.ZRangeByScore(ctx, keys.processing(), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range expired {
		msg, err := decodeMessage(raw)
		if err != nil {
			_ = w.R.ZRem(ctx, keys.processing(), raw).Err()
			continue
		}
		removed, err := w.R.ZRem(ctx, keys.processing(), raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		msg.Attempt++
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := w.R.ZAdd(ctx, keys.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: string(encoded)}).Err(); err == nil {
			readyTasks.WithLabelValues(keys.kind).Inc()
		}
		w.logger().Warn().Str("kind", keys.kind).Int("attempt", msg.Attempt).Msg("queue task visibility expired")
	}
	return nil
}

func (w Worker) logger() *zerolog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	l := zerolog.Nop()
	return &l
}

// DLQKey returns the Redis list holding dead-lettered tasks of kind.
func DLQKey(prefix, kind string) string {
	return keyspace{prefix: prefix, kind: kind}.dlq()
}

type keyspace struct {
	prefix string
	kind   string
}

func (k keyspace) scoped(parts ...string) string {
	if k.prefix != "" {
		parts = append([]string{k.prefix}, parts...)
	}
	return strings.Join(parts, ":")
}

func (k keyspace) ready() string      { return k.scoped("queue", k.kind) }
func (k keyspace) processing() string { return k.scoped("queue", k.kind, "processing") }
func (k keyspace) dlq() string        { return k.scoped("queue", k.kind, "dlq") }
func (k keyspace) dedup(key string) string {
	return k.scoped("queue", "dedup", k.kind, key)
}

func sanitizeKind(kind string) string {
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == ':':
			continue
		}
		return ""
	}
	return kind
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return taskMessage{}, err
	}
	return msg, nil
}

type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}
