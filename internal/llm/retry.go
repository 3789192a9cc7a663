package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"remem/internal/logging"
	"remem/internal/types"
)

// Maximum delay honored from a Retry-After header.
const maxRetryAfter = 30 * time.Second

// Policy controls retry behavior for transient API failures.
type Policy struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

// httpStatusError carries an HTTP status through the retry loop so the
// classifier can distinguish transient from terminal failures.
type httpStatusError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("api returned status %d: %s", e.Status, body)
}

// parseRetryAfter reads a Retry-After header as delay-seconds, capped.
func parseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

// retryable reports whether an error is worth retrying: transport-level
// timeouts and resets, plus HTTP 408/429 and 5xx gateway statuses.
// Client errors (400/401/403/404) are terminal.
func retryable(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case http.StatusRequestTimeout, http.StatusTooManyRequests,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "EOF")
}

// delay computes the backoff before attempt i (1-based): base * 2^(i-1)
// with +/-25% jitter. A Retry-After hint from the failed attempt takes
// precedence when longer.
func (p Policy) delay(attempt int, hint time.Duration) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	jitter := 0.75 + rand.Float64()*0.5
	d = time.Duration(float64(d) * jitter)
	if hint > d {
		d = hint
	}
	return d
}

// Do runs fn up to MaxAttempts times, backing off between transient
// failures. Terminal errors and context cancellation abort immediately.
// On exhaustion the last error is wrapped so the causal chain survives.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		var hint time.Duration
		var statusErr *httpStatusError
		if errors.As(lastErr, &statusErr) {
			hint = statusErr.RetryAfter
		}
		wait := p.delay(attempt, hint)
		logging.Gateway("%s attempt %d/%d failed (%v), retrying in %v",
			op, attempt, attempts, lastErr, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	var statusErr *httpStatusError
	if errors.As(lastErr, &statusErr) && statusErr.Status == http.StatusTooManyRequests {
		return types.WrapError(types.KindRateLimited, lastErr,
			"%s rate limited after %d attempts", op, attempts)
	}
	return types.WrapError(types.KindLlm, lastErr,
		"%s failed after %d attempts", op, attempts)
}
