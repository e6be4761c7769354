package store

import (
	"context"

	"github.com/emperorhan/wallet-history/internal/domain/model"
	"github.com/emperorhan/wallet-history/internal/metrics"
)

// Instrumented wraps a HistoryCache with read/write outcome metrics.
type Instrumented struct {
	inner   HistoryCache
	backend string
}

func NewInstrumented(inner HistoryCache, backend string) *Instrumented {
	return &Instrumented{inner: inner, backend: backend}
}

func (c *Instrumented) Load(ctx context.Context, account string, chain model.Chain) ([]model.TransactionRecord, bool, error) {
	records, ok, err := c.inner.Load(ctx, account, chain)
	switch {
	case err != nil:
		metrics.CacheReads.WithLabelValues(c.backend, "error").Inc()
	case ok:
		metrics.CacheReads.WithLabelValues(c.backend, "hit").Inc()
	default:
		metrics.CacheReads.WithLabelValues(c.backend, "miss").Inc()
	}
	return records, ok, err
}

func (c *Instrumented) Save(ctx context.Context, account string, chain model.Chain, records []model.TransactionRecord) error {
	err := c.inner.Save(ctx, account, chain, records)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.CacheWrites.WithLabelValues(c.backend, outcome).Inc()
	return err
}
