package scheduler

import "sync"

// Visibility delivers "target became visible" events. Start replaces any
// previous callback; Stop ends delivery until the next Start.
type Visibility interface {
	Start(onVisible func())
	Stop()
}

// ManualTrigger is a Visibility driven by explicit Fire calls, used by the
// HTTP layer and in tests.
type ManualTrigger struct {
	mu        sync.Mutex
	onVisible func()
	observing bool
}

func NewManualTrigger() *ManualTrigger {
	return &ManualTrigger{}
}

func (m *ManualTrigger) Start(onVisible func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onVisible = onVisible
	m.observing = true
}

func (m *ManualTrigger) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observing = false
}

// Fire delivers one visible event and reports whether anyone was observing.
func (m *ManualTrigger) Fire() bool {
	m.mu.Lock()
	fn, observing := m.onVisible, m.observing
	m.mu.Unlock()
	if !observing || fn == nil {
		return false
	}
	fn()
	return true
}

func (m *ManualTrigger) Observing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.observing
}
