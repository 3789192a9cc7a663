package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remem/internal/types"
)

func TestDelayBounds(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxAttempts: 3}

	for attempt := 1; attempt <= 4; attempt++ {
		base := time.Duration(1<<(attempt-1)) * time.Second
		for i := 0; i < 50; i++ {
			d := p.delay(attempt, 0)
			assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.75),
				"attempt %d below jitter floor", attempt)
			assert.LessOrEqual(t, d, time.Duration(float64(base)*1.25),
				"attempt %d above jitter ceiling", attempt)
		}
	}
}

func TestDelayHonorsLongerRetryAfter(t *testing.T) {
	p := Policy{BaseDelay: 10 * time.Millisecond, MaxAttempts: 3}
	d := p.delay(1, 5*time.Second)
	assert.Equal(t, 5*time.Second, d)
}

func TestParseRetryAfterCapped(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "120")
	assert.Equal(t, maxRetryAfter, parseRetryAfter(h))

	h.Set("Retry-After", "5")
	assert.Equal(t, 5*time.Second, parseRetryAfter(h))

	h.Set("Retry-After", "garbage")
	assert.Equal(t, time.Duration(0), parseRetryAfter(h))
}

func TestRetryableClassification(t *testing.T) {
	for _, status := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, retryable(&httpStatusError{Status: status}), "status %d", status)
	}
	for _, status := range []int{400, 401, 403, 404} {
		assert.False(t, retryable(&httpStatusError{Status: status}), "status %d", status)
	}
	assert.True(t, retryable(errors.New("read tcp: connection reset by peer")))
	assert.False(t, retryable(errors.New("invalid request payload")))
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	p := Policy{BaseDelay: time.Millisecond, MaxAttempts: 3}
	calls := 0
	err := p.Do(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return &httpStatusError{Status: http.StatusServiceUnavailable}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoTerminalErrorNoRetry(t *testing.T) {
	p := Policy{BaseDelay: time.Millisecond, MaxAttempts: 3}
	calls := 0
	err := p.Do(context.Background(), "test", func() error {
		calls++
		return &httpStatusError{Status: http.StatusUnauthorized}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustionPreservesCause(t *testing.T) {
	p := Policy{BaseDelay: time.Millisecond, MaxAttempts: 2}
	err := p.Do(context.Background(), "test", func() error {
		return &httpStatusError{Status: http.StatusBadGateway, Body: "upstream down"}
	})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindLlm))

	var statusErr *httpStatusError
	require.True(t, errors.As(err, &statusErr), "causal chain preserved")
	assert.Equal(t, http.StatusBadGateway, statusErr.Status)
}

func TestDoRateLimitedKind(t *testing.T) {
	p := Policy{BaseDelay: time.Millisecond, MaxAttempts: 2}
	err := p.Do(context.Background(), "test", func() error {
		return &httpStatusError{Status: http.StatusTooManyRequests}
	})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindRateLimited))
}

func TestDoHonorsCancellation(t *testing.T) {
	p := Policy{BaseDelay: 10 * time.Second, MaxAttempts: 3}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "test", func() error {
			return &httpStatusError{Status: http.StatusServiceUnavailable}
		})
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("retry loop ignored cancellation")
	}
}
