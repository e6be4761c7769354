package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/emperorhan/wallet-history/internal/circuitbreaker"
)

type statusError struct{ code int }

func (e statusError) Error() string   { return "http status" }
func (e statusError) HTTPStatus() int { return e.code }

func TestNewLimiter(t *testing.T) {
	l := NewLimiter(10.0, 5, "polkadot")

	require.NotNil(t, l)
	assert.Equal(t, "polkadot", l.chain)
	assert.InDelta(t, 10.0, float64(l.bucket.Limit()), 0.001)
	assert.Equal(t, 5, l.bucket.Burst())
}

func TestLimiter_AllowWithinBurst(t *testing.T) {
	const burst = 5
	l := NewLimiter(100, burst, "polkadot")

	for i := 0; i < burst; i++ {
		start := time.Now()
		require.NoError(t, l.Wait(context.Background()), "request %d should not error", i)
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	}
}

func TestLimiter_DisabledWhenRPSNonPositive(t *testing.T) {
	l := NewLimiter(0, 0, "kusama")
	assert.Equal(t, rate.Inf, l.bucket.Limit())
	assert.Equal(t, 1, l.bucket.Burst())
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
}

func TestLimiter_ContextCanceledWhileWaiting(t *testing.T) {
	l := NewLimiter(0.001, 1, "kusama")
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, "ok"},
		{"canceled", context.Canceled, "canceled"},
		{"429", statusError{code: 429}, "rate_limited"},
		{"502", statusError{code: 502}, "server_error"},
		{"404", statusError{code: 404}, "client_error"},
		{"timeout", errors.New("i/o timeout"), "timeout"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"breaker", fmt.Errorf("subscan: %w", circuitbreaker.ErrCircuitOpen), "circuit_open"},
		{"rate limit message", errors.New("API rate limit exceeded"), "rate_limited"},
		{"reset", errors.New("connection reset by peer"), "network_error"},
		{"other", errors.New("weird"), "client_error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ClassifyError(tc.err))
		})
	}
}
