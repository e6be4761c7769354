// Package ratelimit paces outbound history API calls per chain and labels
// their outcomes for metrics.
package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/emperorhan/wallet-history/internal/circuitbreaker"
	"github.com/emperorhan/wallet-history/internal/metrics"
	"github.com/emperorhan/wallet-history/internal/pipeline/retry"
)

// Limiter is a per-chain token bucket.
type Limiter struct {
	bucket *rate.Limiter
	chain  string
}

// NewLimiter allows rps calls per second with the given burst. A
// non-positive rps means unlimited.
func NewLimiter(rps float64, burst int, chain string) *Limiter {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Limiter{bucket: rate.NewLimiter(limit, max(burst, 1)), chain: chain}
}

// Wait takes one token, blocking until it is available or ctx is done. A
// call that has to wait is counted in the rate-limit wait metric.
func (l *Limiter) Wait(ctx context.Context) error {
	res := l.bucket.Reserve()
	if !res.OK() {
		return errors.New("ratelimit: burst too small for a single token")
	}
	delay := res.Delay()
	if delay <= 0 {
		return nil
	}

	metrics.RemoteRateLimitWaits.WithLabelValues(l.chain).Inc()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		res.Cancel()
		return ctx.Err()
	}
}

// RecordCall counts one remote call under its outcome label.
func RecordCall(chain, endpoint string, err error) {
	metrics.RemoteCallsTotal.WithLabelValues(chain, endpoint, ClassifyError(err)).Inc()
}

var messageOutcomes = []struct {
	outcome string
	tokens  []string
}{
	{"rate_limited", []string{"rate limit", "too many requests"}},
	{"network_error", []string{"connection refused", "connection reset", "no such host", "broken pipe", "eof"}},
}

// ClassifyError maps a remote call error onto a metric outcome label.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return "circuit_open"
	}

	var status retry.HTTPStatusCarrier
	if errors.As(err, &status) {
		switch code := status.HTTPStatus(); {
		case code == http.StatusTooManyRequests:
			return "rate_limited"
		case code >= http.StatusInternalServerError:
			return "server_error"
		default:
			return "client_error"
		}
	}

	switch retry.Classify(err).Reason {
	case "context_deadline_exceeded", "net_timeout":
		return "timeout"
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "timeout") {
		return "timeout"
	}
	for _, m := range messageOutcomes {
		for _, tok := range m.tokens {
			if strings.Contains(lower, tok) {
				return m.outcome
			}
		}
	}
	return "client_error"
}
