// Package retry decides whether a failed remote call is worth repeating and
// how long to wait before doing so.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
)

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

// Decision is the class of an error plus a short machine-readable reason
// used in logs.
type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

// HTTPStatusCarrier is implemented by errors that carry the HTTP status of
// the failed response.
type HTTPStatusCarrier interface {
	HTTPStatus() int
}

// RetryableCarrier is implemented by provider errors that know whether
// their own error code is worth retrying.
type RetryableCarrier interface {
	Retryable() bool
}

type marked struct {
	err   error
	class Class
}

func (e *marked) Error() string { return e.err.Error() }
func (e *marked) Unwrap() error { return e.err }

// Transient forces err to classify as transient.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, class: ClassTransient}
}

// Terminal forces err to classify as terminal.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, class: ClassTerminal}
}

type rule struct {
	reason string
	match  func(error) (Class, bool)
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{"explicit", func(err error) (Class, bool) {
		var m *marked
		if errors.As(err, &m) {
			return m.class, true
		}
		return "", false
	}},
	{"context_canceled", func(err error) (Class, bool) {
		return ClassTerminal, errors.Is(err, context.Canceled)
	}},
	{"context_deadline_exceeded", func(err error) (Class, bool) {
		return ClassTransient, errors.Is(err, context.DeadlineExceeded)
	}},
	{"http_status", func(err error) (Class, bool) {
		var c HTTPStatusCarrier
		if !errors.As(err, &c) {
			return "", false
		}
		return classifyHTTPStatus(c.HTTPStatus()), true
	}},
	{"provider_code", func(err error) (Class, bool) {
		var c RetryableCarrier
		if !errors.As(err, &c) {
			return "", false
		}
		if c.Retryable() {
			return ClassTransient, true
		}
		return ClassTerminal, true
	}},
	{"net_timeout", func(err error) (Class, bool) {
		var ne net.Error
		return ClassTransient, errors.As(err, &ne) && ne.Timeout()
	}},
	{"message_terminal", func(err error) (Class, bool) {
		return ClassTerminal, containsAny(strings.ToLower(err.Error()), terminalMessageTokens)
	}},
	{"message_transient", func(err error) (Class, bool) {
		return ClassTransient, TransientMessage(err.Error())
	}},
}

// Classify reports whether err is worth retrying. Unrecognized errors are
// terminal.
func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}
	for _, r := range rules {
		if class, ok := r.match(err); ok {
			return Decision{Class: class, Reason: r.reason}
		}
	}
	return Decision{Class: ClassTerminal, Reason: "unknown"}
}

func classifyHTTPStatus(code int) Class {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return ClassTransient
	case code >= 500 && code != http.StatusNotImplemented:
		return ClassTransient
	default:
		return ClassTerminal
	}
}

// TransientMessage reports whether msg reads like a temporary condition
// such as a timeout, a dropped connection or rate limiting.
func TransientMessage(msg string) bool {
	return containsAny(strings.ToLower(msg), transientMessageTokens)
}

// Backoff returns the delay before the given attempt (1-based), doubling
// from initial and capped at max.
func Backoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		return 0
	}
	if max < initial {
		max = initial
	}
	delay := initial
	for i := 1; i < attempt && delay < max; i++ {
		delay *= 2
	}
	return min(delay, max)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"busy",
	"connection reset",
	"connection refused",
	"broken pipe",
	"too many requests",
	"rate limit",
	"server closed idle connection",
}

var terminalMessageTokens = []string{
	"invalid",
	"record not found",
	"parse error",
	"circuit breaker is open",
	"unknown chain",
}
