// Package circuitbreaker stops calling a remote that keeps failing and,
// after a cool-down, admits a bounded number of probe calls to decide
// whether it recovered.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	Name string
	// FailureThreshold consecutive failures open the breaker. Default 5.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before probing. Default 30s.
	Cooldown time.Duration
	// Probes is how many concurrent calls half-open admits; that many
	// successes in a row close the breaker. Default 1.
	Probes int
	// CountsAsFailure reports whether an error says something about the
	// remote's health. Nil counts every error.
	CountsAsFailure func(error) bool
	OnStateChange   func(name string, from, to State)
}

type Breaker struct {
	cfg   Config
	nowFn func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probing   int
	openedAt  time.Time
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	return &Breaker{cfg: cfg, nowFn: time.Now}
}

// Execute runs fn if the breaker admits it and records the outcome. A
// rejected call returns ErrCircuitOpen without running fn.
func (b *Breaker) Execute(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	healthy := err == nil || (b.cfg.CountsAsFailure != nil && !b.cfg.CountsAsFailure(err))
	b.record(probe, healthy)
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cooledLocked()
	return b.state
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cooledLocked()

	switch b.state {
	case StateOpen:
		return false, ErrCircuitOpen
	case StateHalfOpen:
		if b.probing >= b.cfg.Probes {
			return false, ErrCircuitOpen
		}
		b.probing++
		return true, nil
	default:
		return false, nil
	}
}

func (b *Breaker) record(probe, healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe && b.probing > 0 {
		b.probing--
	}

	switch b.state {
	case StateClosed:
		if healthy {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		if !healthy {
			b.transition(StateOpen)
			return
		}
		b.successes++
		if b.successes >= b.cfg.Probes {
			b.transition(StateClosed)
		}
	}
	// Results landing while open belong to calls admitted before it opened.
}

func (b *Breaker) cooledLocked() {
	if b.state == StateOpen && b.nowFn().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.failures, b.successes = 0, 0
	switch to {
	case StateOpen:
		b.openedAt = b.nowFn()
	case StateHalfOpen:
		b.probing = 0
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}
