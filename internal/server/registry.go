package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emperorhan/wallet-history/internal/cache"
	"github.com/emperorhan/wallet-history/internal/domain/model"
	"github.com/emperorhan/wallet-history/internal/pipeline"
	"github.com/emperorhan/wallet-history/internal/source"
	"github.com/emperorhan/wallet-history/internal/store"
)

const (
	DefaultIdleTTL         = 15 * time.Minute
	DefaultSessionCapacity = 1024
	defaultSweepInterval   = time.Minute
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUnknownChain    = errors.New("unknown chain")
)

// ChainLookup resolves a chain name to its registry entry.
type ChainLookup interface {
	Lookup(chain model.Chain) (model.ChainInfo, bool)
}

type RegistryConfig struct {
	Session  pipeline.Config
	IdleTTL  time.Duration
	Capacity int
}

// Registry owns the live sessions. A session idle for longer than IdleTTL,
// or pushed out by capacity, is closed.
type Registry struct {
	ctx        context.Context
	transfers  source.TransferSource
	governance source.GovernanceSource
	history    store.HistoryCache
	chains     ChainLookup
	cfg        pipeline.Config
	logger     *slog.Logger
	sessions   *cache.LRU[string, *pipeline.Session]
}

func NewRegistry(
	ctx context.Context,
	transfers source.TransferSource,
	governance source.GovernanceSource,
	history store.HistoryCache,
	chains ChainLookup,
	cfg RegistryConfig,
	logger *slog.Logger,
) *Registry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultSessionCapacity
	}
	r := &Registry{
		ctx:        ctx,
		transfers:  transfers,
		governance: governance,
		history:    history,
		chains:     chains,
		cfg:        cfg.Session,
		logger:     logger.With("component", "session_registry"),
	}
	r.sessions = cache.NewLRU[string, *pipeline.Session](cfg.Capacity, cfg.IdleTTL,
		cache.WithEvictCallback(r.onEvict))
	return r
}

func (r *Registry) onEvict(id string, s *pipeline.Session, reason cache.EvictReason) {
	s.Close()
	r.logger.Info("session closed", "session", id, "reason", reason.String())
}

func (r *Registry) resolveChain(name string) (model.ChainInfo, error) {
	info, ok := r.chains.Lookup(model.Chain(strings.ToLower(strings.TrimSpace(name))))
	if !ok {
		return model.ChainInfo{}, fmt.Errorf("%w: %q", ErrUnknownChain, name)
	}
	return info, nil
}

// Create opens a session bound to account on chain and starts its first
// fetches.
func (r *Registry) Create(account, chain string) (string, *pipeline.Session, error) {
	info, err := r.resolveChain(chain)
	if err != nil {
		return "", nil, err
	}

	s := pipeline.NewSession(r.ctx, r.transfers, r.governance, r.history, r.cfg, r.logger)
	if err := s.SetSubject(account, info); err != nil {
		s.Close()
		return "", nil, fmt.Errorf("create session: %w", err)
	}

	id := uuid.NewString()
	r.sessions.Put(id, s)
	r.logger.Info("session created", "session", id, "chain", info.Chain)
	return id, s, nil
}

func (r *Registry) Get(id string) (*pipeline.Session, error) {
	s, ok := r.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// SetSubject rebinds an existing session.
func (r *Registry) SetSubject(id, account, chain string) (*pipeline.Session, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	info, err := r.resolveChain(chain)
	if err != nil {
		return nil, err
	}
	if err := s.SetSubject(account, info); err != nil {
		if errors.Is(err, context.Canceled) {
			// Closed after lookup: evicted or swept.
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("set subject: %w", err)
	}
	return s, nil
}

func (r *Registry) Delete(id string) error {
	if !r.sessions.Delete(id) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

func (r *Registry) Len() int {
	return r.sessions.Len()
}

// Run sweeps idle sessions every interval until ctx is done, then closes
// every remaining session.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n := r.sessions.Purge()
			r.logger.Info("session registry stopped", "closed", n)
			return nil
		case <-ticker.C:
			if n := r.sessions.Sweep(); n > 0 {
				r.logger.Debug("idle sessions swept", "count", n)
			}
		}
	}
}
