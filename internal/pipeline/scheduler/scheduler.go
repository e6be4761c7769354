// Package scheduler turns visibility events into page requests for every
// source that still has data, and stops observing once all are exhausted.
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/emperorhan/wallet-history/internal/metrics"
	"github.com/emperorhan/wallet-history/internal/pipeline/fetcher"
	"github.com/emperorhan/wallet-history/internal/pipeline/identity"
)

// Pager is the slice of fetcher.Source the scheduler drives.
type Pager interface {
	Snapshot() fetcher.State
	FetchNext(ctx context.Context, fp identity.Fingerprint) bool
}

type Scheduler struct {
	ctx        context.Context
	visibility Visibility
	current    func() identity.Fingerprint
	pagers     []Pager
	logger     *slog.Logger

	mu        sync.Mutex
	observing bool
}

// New builds a scheduler. current returns the subject fetches are issued
// for; ctx bounds every fetch it starts.
func New(ctx context.Context, visibility Visibility, current func() identity.Fingerprint, logger *slog.Logger, pagers ...Pager) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		ctx:        ctx,
		visibility: visibility,
		current:    current,
		pagers:     pagers,
		logger:     logger.With("component", "scheduler"),
	}
}

// Start (re)attaches to the visibility source and runs the mount-time
// evaluation as if the target had just become visible.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if !s.observing {
		s.visibility.Start(s.handleVisible)
		s.observing = true
	}
	s.mu.Unlock()
	s.OnVisible()
}

// OnVisible requests the next page of every source that has more data and
// nothing in flight. It returns how many requests were issued.
func (s *Scheduler) OnVisible() int {
	fp := s.current()
	issued := 0
	for _, p := range s.pagers {
		st := p.Snapshot()
		if !st.HasMore || st.IsFetching {
			continue
		}
		if p.FetchNext(s.ctx, fp) {
			issued++
		}
	}

	outcome := "fetched"
	if issued == 0 {
		outcome = "idle"
	}
	metrics.SessionVisibleEvents.WithLabelValues(outcome).Inc()
	s.logger.Debug("visible event handled", "subject", fp.String(), "issued", issued)

	s.Reevaluate()
	return issued
}

// Reevaluate detaches from the visibility source when every source is
// exhausted. It is called after each page completion.
func (s *Scheduler) Reevaluate() {
	for _, p := range s.pagers {
		if p.Snapshot().HasMore {
			return
		}
	}
	s.Stop()
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.observing {
		return
	}
	s.visibility.Stop()
	s.observing = false
	s.logger.Debug("all sources exhausted, stopped observing")
}

func (s *Scheduler) Observing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observing
}

func (s *Scheduler) handleVisible() {
	s.OnVisible()
}
