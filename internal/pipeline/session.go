// Package pipeline hosts the Session dispatcher: it owns one fetch state
// machine per source, the cached history and the merged list for a single
// account+chain subject, and republishes a snapshot whenever the cache
// loads or a page is applied.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/emperorhan/wallet-history/internal/domain/model"
	"github.com/emperorhan/wallet-history/internal/metrics"
	"github.com/emperorhan/wallet-history/internal/pipeline/fetcher"
	"github.com/emperorhan/wallet-history/internal/pipeline/grouping"
	"github.com/emperorhan/wallet-history/internal/pipeline/identity"
	"github.com/emperorhan/wallet-history/internal/pipeline/merger"
	"github.com/emperorhan/wallet-history/internal/pipeline/normalizer"
	"github.com/emperorhan/wallet-history/internal/pipeline/scheduler"
	"github.com/emperorhan/wallet-history/internal/source"
	"github.com/emperorhan/wallet-history/internal/store"
	"github.com/emperorhan/wallet-history/internal/tracing"
)

const (
	DefaultMaxCachedRecords = 50
	cacheLoadTimeout        = 5 * time.Second
)

var ErrInvalidSubject = errors.New("invalid subject")

type Config struct {
	PageSize         int
	MaxPageCap       int
	MaxCachedRecords int
	// Location decides which calendar day a record is bucketed under.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = fetcher.DefaultPageSize
	}
	if c.MaxPageCap <= 0 {
		c.MaxPageCap = fetcher.DefaultMaxPageCap
	}
	if c.MaxCachedRecords <= 0 {
		c.MaxCachedRecords = DefaultMaxCachedRecords
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Snapshot is the state published to subscribers after every change.
type Snapshot struct {
	Subject     string                    `json:"subject"`
	Account     string                    `json:"account"`
	Chain       model.Chain               `json:"chain"`
	Version     uint64                    `json:"version"`
	CacheLoaded bool                      `json:"cacheLoaded"`
	Loading     bool                      `json:"loading"`
	Observing   bool                      `json:"observing"`
	Transfers   fetcher.State             `json:"transfers"`
	Governance  fetcher.State             `json:"governance"`
	Records     []model.TransactionRecord `json:"-"`
}

// Pending reports whether either source may still deliver records. It
// follows the pages applied to the session, not the live fetch state, so a
// page whose records are not merged yet still counts as pending.
func (s Snapshot) Pending() bool {
	return s.Loading
}

func pending(st fetcher.State) bool {
	return st.HasMore || st.IsFetching
}

type Session struct {
	cfg     Config
	cache   store.HistoryCache
	writer  *cacheWriter
	logger  *slog.Logger
	tracer  trace.Tracer
	ctx     context.Context
	cancel  context.CancelFunc
	trigger *scheduler.ManualTrigger

	transfers  *fetcher.Source[source.RawTransfer]
	governance *fetcher.Source[source.RawExtrinsic]
	sched      *scheduler.Scheduler
	loads      sync.WaitGroup

	mu          sync.Mutex
	fp          identity.Fingerprint
	epoch       uint64
	chain       model.ChainInfo
	norm        *normalizer.Normalizer
	cacheLoaded bool
	// txApplied and govApplied are the source states as of the last page
	// merged into the session.
	txApplied  fetcher.State
	govApplied fetcher.State
	cached     []model.TransactionRecord
	fromTx     []model.TransactionRecord
	fromGov    []model.TransactionRecord
	merged     []model.TransactionRecord
	version    uint64
	subs       map[int]func(Snapshot)
	nextSub    int
	closed     bool
}

func NewSession(
	ctx context.Context,
	transfers source.TransferSource,
	governance source.GovernanceSource,
	cache store.HistoryCache,
	cfg Config,
	logger *slog.Logger,
) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	logger = logger.With("component", "session")

	s := &Session{
		cfg:     cfg,
		cache:   cache,
		writer:  newCacheWriter(cache, logger),
		logger:  logger,
		tracer:  tracing.Tracer("session"),
		ctx:     ctx,
		cancel:  cancel,
		trigger: scheduler.NewManualTrigger(),
		subs:    make(map[int]func(Snapshot)),
	}
	s.transfers = fetcher.New(model.SourceTransfers, transfers.FetchTransfers, logger,
		fetcher.WithPageSize[source.RawTransfer](cfg.PageSize),
		fetcher.WithMaxPageCap[source.RawTransfer](cfg.MaxPageCap),
		fetcher.WithListener(s.onTransferPage),
	)
	s.governance = fetcher.New(model.SourceGovernance, governance.FetchGovernance, logger,
		fetcher.WithPageSize[source.RawExtrinsic](cfg.PageSize),
		fetcher.WithMaxPageCap[source.RawExtrinsic](cfg.MaxPageCap),
		fetcher.WithListener(s.onGovernancePage),
	)
	s.sched = scheduler.New(ctx, s.trigger, s.Fingerprint, logger, s.transfers, s.governance)

	metrics.SessionsActive.Inc()
	return s
}

// SetSubject binds the session to account on chain, discarding all state
// for the previous subject. In-flight responses for it become stale.
func (s *Session) SetSubject(account string, chain model.ChainInfo) error {
	account = identity.CanonicalAddress(account)
	if account == "" || chain.Chain == "" {
		return ErrInvalidSubject
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return context.Canceled
	}
	s.epoch++
	fp := identity.NewFingerprint(account, chain.Chain, s.epoch)
	s.fp = fp
	s.chain = chain
	s.norm = normalizer.New(account, chain, s.logger)
	s.cacheLoaded = false
	s.cached, s.fromTx, s.fromGov, s.merged = nil, nil, nil, nil
	s.version++

	s.transfers.Reset(fp, chain.AddressPrefix)
	s.governance.Reset(fp, chain.AddressPrefix)
	s.txApplied = fetcher.State{HasMore: true}
	s.govApplied = fetcher.State{HasMore: true}
	if !chain.GovernanceEnabled {
		s.governance.Exhaust(fp)
		s.govApplied.HasMore = false
	}
	s.mu.Unlock()

	s.logger.Info("subject changed", "account", account, "chain", chain.Chain, "subject", fp.String())

	s.loads.Add(1)
	go s.loadCache(fp)

	s.publish()
	s.sched.Start()
	return nil
}

func (s *Session) loadCache(fp identity.Fingerprint) {
	defer s.loads.Done()

	ctx, cancel := context.WithTimeout(s.ctx, cacheLoadTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "session.loadCache",
		trace.WithAttributes(tracing.SubjectAttributes(fp.Account, fp.Chain.String())...))
	defer span.End()

	records, found, err := s.cache.Load(ctx, fp.Account, fp.Chain)
	if err != nil {
		tracing.Fail(span, err)
		s.logger.Warn("cache read failed, continuing without cache",
			"account", fp.Account,
			"chain", fp.Chain,
			"error", err,
		)
		records, found = nil, false
	}
	span.SetAttributes(attribute.Bool("found", found), attribute.Int("records", len(records)))

	s.mu.Lock()
	if s.fp != fp {
		s.mu.Unlock()
		s.logger.Debug("stale cache load discarded", "subject", fp.String())
		return
	}
	s.cached = records
	s.cacheLoaded = true
	s.recomputeLocked(len(s.fromTx)+len(s.fromGov) > 0)
	s.mu.Unlock()

	s.publish()
}

func (s *Session) onTransferPage(p fetcher.Page[source.RawTransfer]) {
	s.applyPage(p.Fingerprint, p.Err, func(n *normalizer.Normalizer) {
		s.txApplied = p.State
		if p.Err == nil {
			s.fromTx = append(s.fromTx, n.Transfers(p.Items)...)
		}
	})
}

func (s *Session) onGovernancePage(p fetcher.Page[source.RawExtrinsic]) {
	s.applyPage(p.Fingerprint, p.Err, func(n *normalizer.Normalizer) {
		s.govApplied = p.State
		if p.Err == nil {
			s.fromGov = append(s.fromGov, n.Governance(p.Items)...)
		}
	})
}

// applyPage runs apply and the resulting merge in one critical section, so
// readers never see a source as finished before its records are merged.
func (s *Session) applyPage(fp identity.Fingerprint, err error, apply func(*normalizer.Normalizer)) {
	s.mu.Lock()
	if s.fp != fp {
		s.mu.Unlock()
		return
	}
	apply(s.norm)
	if err == nil {
		s.recomputeLocked(true)
	} else {
		s.version++
	}
	s.mu.Unlock()

	s.publish()
	s.sched.Reevaluate()
}

// recomputeLocked rebuilds the merged list. persist schedules a cache
// write, which only happens once the cache read has resolved so a slow
// read is never clobbered.
func (s *Session) recomputeLocked(persist bool) {
	s.merged = merger.Merge(s.cached, s.fromTx, s.fromGov)
	s.version++

	chain := s.fp.Chain.String()
	metrics.MergeCycles.WithLabelValues(chain).Inc()
	metrics.MergedRecords.WithLabelValues(chain).Observe(float64(len(s.merged)))

	if persist && s.cacheLoaded {
		s.writer.submit(writeJob{
			account: s.fp.Account,
			chain:   s.fp.Chain,
			records: merger.Newest(s.merged, s.cfg.MaxCachedRecords),
		})
	}
}

// Visible delivers a "target became visible" event. It reports whether the
// session was still observing, i.e. whether any source had data left.
func (s *Session) Visible() bool {
	return s.trigger.Fire()
}

// View returns the grouped history for the current subject.
func (s *Session) View(filter *grouping.Filter) grouping.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked(filter)
}

func (s *Session) viewLocked(filter *grouping.Filter) grouping.Result {
	progress := grouping.Progress{
		CacheLoaded: s.cacheLoaded,
		Pending:     s.loadingLocked(),
	}
	return grouping.Group(s.merged, filter, progress, s.cfg.Location)
}

func (s *Session) loadingLocked() bool {
	return pending(s.txApplied) || pending(s.govApplied)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	records := make([]model.TransactionRecord, len(s.merged))
	copy(records, s.merged)
	return Snapshot{
		Subject:     s.fp.String(),
		Account:     s.fp.Account,
		Chain:       s.fp.Chain,
		Version:     s.version,
		CacheLoaded: s.cacheLoaded,
		Loading:     s.loadingLocked(),
		Observing:   s.sched.Observing(),
		Transfers:   s.transfers.Snapshot(),
		Governance:  s.governance.Snapshot(),
		Records:     records,
	}
}

func (s *Session) Fingerprint() identity.Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fp
}

func (s *Session) Chain() model.ChainInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chain
}

// Subscribe registers fn for every published snapshot and returns a
// function that removes it. fn runs on the goroutine that caused the change
// and must not block.
func (s *Session) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Session) publish() {
	s.mu.Lock()
	if len(s.subs) == 0 {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Wait blocks until in-flight fetches, cache reads and cache writes have
// settled.
func (s *Session) Wait() {
	s.transfers.Wait()
	s.governance.Wait()
	s.loads.Wait()
	s.writer.flush()
}

// Close cancels outstanding fetches and waits for pending cache writes.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.sched.Stop()
	s.cancel()
	s.Wait()
	metrics.SessionsActive.Dec()
}
