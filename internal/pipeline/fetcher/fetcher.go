// Package fetcher holds the per-source pagination state machine. A Source
// tracks the next page, the in-flight flag and exhaustion for one remote
// record kind, and discards responses that belong to an older subject.
package fetcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/emperorhan/wallet-history/internal/domain/event"
	"github.com/emperorhan/wallet-history/internal/domain/model"
	"github.com/emperorhan/wallet-history/internal/metrics"
	"github.com/emperorhan/wallet-history/internal/pipeline/identity"
)

const (
	DefaultPageSize   = 20
	DefaultMaxPageCap = 10
)

// FetchFunc requests a single page from the remote provider.
type FetchFunc[R any] func(ctx context.Context, req event.PageRequest) (event.PageResult[R], error)

// State is a point-in-time view of a Source.
type State struct {
	PageNumber int  `json:"pageNumber"`
	IsFetching bool `json:"isFetching"`
	HasMore    bool `json:"hasMore"`
	Failed     bool `json:"failed"`
	Fetched    int  `json:"fetched"`
}

// Exhausted reports whether no further page will ever be requested for the
// current subject.
func (s State) Exhausted() bool { return !s.HasMore }

// Page is delivered to the listener after a response has been applied.
// State is the source state right after this page, so a listener can
// publish progress together with the records it carries.
type Page[R any] struct {
	Fingerprint identity.Fingerprint
	PageNumber  int
	Items       []R
	Err         error
	State       State
}

type Source[R any] struct {
	kind       model.SourceKind
	fetch      FetchFunc[R]
	pageSize   int
	maxPageCap int
	logger     *slog.Logger
	listener   func(Page[R])
	nowFn      func() time.Time

	// deliverMu is held from applying a response until its listener
	// returns, so pages reach the listener in page order.
	deliverMu sync.Mutex

	mu            sync.Mutex
	fp            identity.Fingerprint
	addressPrefix uint16
	state         State
	items         []R

	inflight sync.WaitGroup
}

type Option[R any] func(*Source[R])

func WithPageSize[R any](n int) Option[R] {
	return func(s *Source[R]) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func WithMaxPageCap[R any](n int) Option[R] {
	return func(s *Source[R]) {
		if n > 0 {
			s.maxPageCap = n
		}
	}
}

// WithListener registers fn to run after every applied page or failure.
// It is never called for stale responses and never under the Source lock.
// Calls are serialized and follow page order.
func WithListener[R any](fn func(Page[R])) Option[R] {
	return func(s *Source[R]) { s.listener = fn }
}

func New[R any](kind model.SourceKind, fetch FetchFunc[R], logger *slog.Logger, opts ...Option[R]) *Source[R] {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source[R]{
		kind:       kind,
		fetch:      fetch,
		pageSize:   DefaultPageSize,
		maxPageCap: DefaultMaxPageCap,
		logger:     logger.With("component", "fetcher", "source", kind.String()),
		nowFn:      time.Now,
		state:      State{HasMore: true},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Source[R]) Kind() model.SourceKind { return s.kind }

// Reset binds the source to a new subject and returns it to its initial
// state. Responses for any earlier fingerprint become stale.
func (s *Source[R]) Reset(fp identity.Fingerprint, addressPrefix uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fp = fp
	s.addressPrefix = addressPrefix
	s.state = State{HasMore: true}
	s.items = nil
}

// Exhaust marks the source as having no data for fp without fetching.
func (s *Source[R]) Exhaust(fp identity.Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fp != fp {
		return
	}
	s.state.HasMore = false
	s.logger.Debug("source exhausted without fetching", "subject", fp.String())
}

// Begin claims the next page for fp. It returns false when a fetch is
// already in flight, the source is exhausted, or fp is not current.
func (s *Source[R]) Begin(fp identity.Fingerprint) (event.PageRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fp.IsZero() || s.fp != fp || s.state.IsFetching || !s.state.HasMore {
		return event.PageRequest{}, false
	}
	s.state.IsFetching = true
	return event.PageRequest{
		For:           fp.String(),
		Source:        s.kind,
		Account:       fp.Account,
		Chain:         fp.Chain,
		PageNumber:    s.state.PageNumber,
		PageSize:      s.pageSize,
		AddressPrefix: s.addressPrefix,
	}, true
}

// Complete applies the outcome of req. It reports whether the outcome was
// applied; a response for a fingerprint that is no longer current is
// dropped without touching state.
func (s *Source[R]) Complete(req event.PageRequest, res event.PageResult[R], err error) bool {
	token := req.For
	if err == nil && res.For != "" {
		token = res.For
	}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	fp := s.fp
	if !fp.Matches(token) || token != req.For || req.PageNumber != s.state.PageNumber || !s.state.IsFetching {
		s.mu.Unlock()
		metrics.FetcherStaleResponses.WithLabelValues(req.Chain.String(), s.kind.String()).Inc()
		s.logger.Debug("stale response discarded",
			"request", req.For,
			"response", res.For,
			"current", fp.String(),
			"page", req.PageNumber,
		)
		return false
	}

	s.state.IsFetching = false
	page := Page[R]{Fingerprint: fp, PageNumber: req.PageNumber, Err: err}
	if err != nil {
		s.state.HasMore = false
		s.state.Failed = true
		page.State = s.state
		s.mu.Unlock()

		metrics.FetcherFailures.WithLabelValues(fp.Chain.String(), s.kind.String()).Inc()
		s.logger.Warn("page fetch failed, source exhausted",
			"account", fp.Account,
			"chain", fp.Chain,
			"page", req.PageNumber,
			"error", err,
		)
		s.notify(page)
		return true
	}

	s.items = append(s.items, res.Items...)
	next := s.state.PageNumber + 1
	s.state.PageNumber = next
	s.state.Fetched = len(s.items)
	s.state.HasMore = next*s.pageSize < res.Count && next < s.maxPageCap
	hasMore := s.state.HasMore
	page.State = s.state
	s.mu.Unlock()

	metrics.FetcherPagesApplied.WithLabelValues(fp.Chain.String(), s.kind.String()).Inc()
	metrics.FetcherRecordsFetched.WithLabelValues(fp.Chain.String(), s.kind.String()).Add(float64(len(res.Items)))
	s.logger.Debug("page applied",
		"account", fp.Account,
		"chain", fp.Chain,
		"page", req.PageNumber,
		"items", len(res.Items),
		"count", res.Count,
		"has_more", hasMore,
	)

	page.Items = res.Items
	s.notify(page)
	return true
}

// FetchNext claims the next page for fp and fetches it in the background.
// It reports whether a request was issued.
func (s *Source[R]) FetchNext(ctx context.Context, fp identity.Fingerprint) bool {
	req, ok := s.Begin(fp)
	if !ok {
		return false
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		start := s.nowFn()
		res, err := s.fetch(ctx, req)
		metrics.FetcherLatency.WithLabelValues(req.Chain.String(), s.kind.String()).Observe(s.nowFn().Sub(start).Seconds())
		s.Complete(req, res, err)
	}()
	return true
}

// Wait blocks until every fetch started by FetchNext has completed.
func (s *Source[R]) Wait() {
	s.inflight.Wait()
}

func (s *Source[R]) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Items returns a copy of the accumulated raw records in arrival order.
func (s *Source[R]) Items() []R {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]R, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Source[R]) Fingerprint() identity.Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fp
}

func (s *Source[R]) notify(p Page[R]) {
	if s.listener != nil {
		s.listener(p)
	}
}
