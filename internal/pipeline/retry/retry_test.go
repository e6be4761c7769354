package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusError struct{ code int }

func (e statusError) Error() string   { return fmt.Sprintf("http status %d", e.code) }
func (e statusError) HTTPStatus() int { return e.code }

type providerError struct {
	msg       string
	retryable bool
}

func (e providerError) Error() string   { return e.msg }
func (e providerError) Retryable() bool { return e.retryable }

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		class  Class
		reason string
	}{
		{"marked transient", Transient(errors.New("invalid params")), ClassTransient, "explicit"},
		{"marked terminal", Terminal(errors.New("timed out")), ClassTerminal, "explicit"},
		{"http 429", fmt.Errorf("fetch transfers: %w", statusError{http.StatusTooManyRequests}), ClassTransient, "http_status"},
		{"http 503", statusError{http.StatusServiceUnavailable}, ClassTransient, "http_status"},
		{"http 501", statusError{http.StatusNotImplemented}, ClassTerminal, "http_status"},
		{"http 400", statusError{http.StatusBadRequest}, ClassTerminal, "http_status"},
		{"provider busy", providerError{"busy", true}, ClassTransient, "provider_code"},
		{"provider rejects", providerError{"timeout", false}, ClassTerminal, "provider_code"},
		{"deadline", fmt.Errorf("page 2: %w", context.DeadlineExceeded), ClassTransient, "context_deadline_exceeded"},
		{"canceled", context.Canceled, ClassTerminal, "context_canceled"},
		{"net timeout", timeoutError{}, ClassTransient, "net_timeout"},
		{"connection reset", errors.New("read tcp: connection reset by peer"), ClassTransient, "message_transient"},
		{"invalid address", errors.New("invalid address format, request timed out"), ClassTerminal, "message_terminal"},
		{"unknown", errors.New("unexpected failure"), ClassTerminal, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Classify(tt.err)
			assert.Equal(t, tt.class, d.Class)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}

	assert.Equal(t, "nil_error", Classify(nil).Reason)
	assert.Nil(t, Transient(nil))
	assert.Nil(t, Terminal(nil))
}

func TestMarkedErrorsUnwrap(t *testing.T) {
	base := errors.New("boom")
	assert.ErrorIs(t, Transient(base), base)
	assert.Equal(t, "boom", Terminal(base).Error())
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, Backoff(1, 100*time.Millisecond, time.Second))
	assert.Equal(t, 200*time.Millisecond, Backoff(2, 100*time.Millisecond, time.Second))
	assert.Equal(t, 400*time.Millisecond, Backoff(3, 100*time.Millisecond, time.Second))
	assert.Equal(t, time.Second, Backoff(10, 100*time.Millisecond, time.Second))
	assert.Equal(t, 100*time.Millisecond, Backoff(3, 100*time.Millisecond, 0))
	assert.Equal(t, time.Duration(0), Backoff(1, 0, time.Second))
}

func TestSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	require.NoError(t, Sleep(context.Background(), 0))
	require.NoError(t, Sleep(context.Background(), time.Millisecond))
}
