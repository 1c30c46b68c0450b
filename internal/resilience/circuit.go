package resilience

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the circuit breaker refuses a request.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State represents the current breaker state. The numeric value is exported
// as the breaker_state gauge.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

var stateNames = [...]string{Closed: "closed", Open: "open", HalfOpen: "half_open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// outcomes is a fixed-size ring of recent request results.
type outcomes struct {
	buf      []bool
	next     int
	filled   int
	failures int
}

func newOutcomes(size int) outcomes {
	return outcomes{buf: make([]bool, size)}
}

func (o *outcomes) add(failed bool) {
	if o.filled == len(o.buf) {
		if o.buf[o.next] {
			o.failures--
		}
	} else {
		o.filled++
	}
	o.buf[o.next] = failed
	if failed {
		o.failures++
	}
	o.next = (o.next + 1) % len(o.buf)
}

func (o *outcomes) ratio() float64 {
	if o.filled == 0 {
		return 0
	}
	return float64(o.failures) / float64(o.filled)
}

func (o *outcomes) reset() {
	clear(o.buf)
	o.next, o.filled, o.failures = 0, 0, 0
}

// Breaker opens once the failure ratio over the last requests reaches a
// threshold. The window holds twice the minimum sample so stale outcomes age
// out. While half-open exactly one trial request is admitted.
type Breaker struct {
	mu           sync.Mutex
	state        State
	window       outcomes
	trialing     bool
	minRequests  int
	failureRatio float64
	openedAt     time.Time
	openFor      time.Duration
	target       string
	logger       zerolog.Logger
	now          func() time.Time
}

// NewBreaker constructs a breaker that opens once at least minRequests have
// been observed and the failure ratio reaches failureRatio.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	minRequests = max(minRequests, 1)
	if failureRatio <= 0 {
		failureRatio = 0.5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		window:       newOutcomes(minRequests * 2),
		minRequests:  minRequests,
		failureRatio: min(failureRatio, 1),
		openFor:      openFor,
		logger:       zerolog.Nop(),
		now:          time.Now,
	}
}

// WithTarget names the guarded dependency in metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = strings.TrimSpace(target)
	BreakerState.WithLabelValues(b.label()).Set(float64(b.state))
	return b
}

func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a request may proceed. An open breaker moves to
// half-open after the cool-off period and admits a single trial request.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.openFor {
			return false
		}
		b.moveLocked(ctx, HalfOpen)
	}
	if b.state == HalfOpen {
		if b.trialing {
			return false
		}
		b.trialing = true
	}
	return true
}

// Report records the outcome of an admitted request.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
	case HalfOpen:
		b.trialing = false
		if success {
			b.moveLocked(ctx, Closed)
		} else {
			b.moveLocked(ctx, Open)
		}
	default:
		b.window.add(!success)
		if b.window.filled >= b.minRequests && b.window.ratio() >= b.failureRatio {
			b.moveLocked(ctx, Open)
		}
	}
}

func (b *Breaker) moveLocked(ctx context.Context, next State) {
	prev := b.state
	b.state = next
	b.window.reset()
	if next == Open {
		b.openedAt = b.now()
	}

	label := b.label()
	BreakerState.WithLabelValues(label).Set(float64(next))
	if prev == next {
		return
	}
	BreakerTransitions.WithLabelValues(label, prev.String(), next.String()).Inc()
	if next == Open {
		BreakerOpenedTotal.WithLabelValues(label).Inc()
	}

	logger := b.logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		logger = *l
	}
	evt := logger.Info().Str("target", label).Stringer("from", prev).Stringer("to", next)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("circuit breaker state changed")
}

func (b *Breaker) label() string {
	if b.target == "" {
		return "default"
	}
	return b.target
}

const maxBackoffShift = 30

// Backoff returns base doubled per attempt (1-based), spread by up to
// ±jitterPct of the delay.
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	shift := min(max(attempt, 1)-1, maxBackoffShift)
	d := base << shift
	if jitterPct <= 0 {
		return d
	}
	spread := float64(d) * min(jitterPct, 1)
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
