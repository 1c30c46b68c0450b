package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const maxRetryAfter = 30 * time.Second

// StatusError reports a response that was retried until attempts ran out.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("resilience: upstream responded %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// HTTPClient wraps an http.Client with retry, per-attempt timeout and a
// circuit breaker.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	Target      string
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration

	// MaxRetryAfter caps a server supplied Retry-After delay.
	MaxRetryAfter time.Duration
}

// Do executes req, retrying transport errors, 429 and 5xx responses. The
// body is buffered so every attempt sends the same bytes. ErrOpenCircuit is
// returned when the breaker rejects the call.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	maxAttempts := cl.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}
	target := cl.Target
	if target == "" {
		target = req.URL.Host
	}

	var lastErr error
	var hint time.Duration
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if cl.Breaker != nil && !cl.Breaker.Allow(ctx) {
			OutboundAttempts.WithLabelValues(target, "rejected").Inc()
			if lastErr == nil {
				return nil, ErrOpenCircuit
			}
			return nil, errors.Join(ErrOpenCircuit, lastErr)
		}
		resp, err := cl.attempt(ctx, req, body)
		retryable := err != nil || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if cl.Breaker != nil {
			cl.Breaker.Report(ctx, !retryable)
		}
		if !retryable {
			OutboundAttempts.WithLabelValues(target, "ok").Inc()
			return resp, nil
		}
		if err != nil {
			lastErr = err
			OutboundAttempts.WithLabelValues(target, "error").Inc()
		} else {
			lastErr = &StatusError{StatusCode: resp.StatusCode}
			OutboundAttempts.WithLabelValues(target, "status").Inc()
			hint = cl.retryAfter(resp)
			drain(resp)
		}
		if attempt == maxAttempts {
			break
		}
		delay := Backoff(cl.BaseBackoff, attempt, cl.Jitter)
		if hint > delay {
			delay = hint
		}
		hint = 0
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (cl HTTPClient) attempt(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	callCtx := ctx
	var cancel context.CancelFunc = func() {}
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	clone := req.Clone(callCtx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	resp, err := cl.Client.Do(clone)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// retryAfter reads a delay-seconds Retry-After header. HTTP-date values are
// ignored.
func (cl HTTPClient) retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After")))
	if err != nil || secs <= 0 {
		return 0
	}
	limit := cl.MaxRetryAfter
	if limit <= 0 {
		limit = maxRetryAfter
	}
	return min(time.Duration(secs)*time.Second, limit)
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// cancelOnClose keeps the per-attempt context alive until the caller is done
// reading the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
