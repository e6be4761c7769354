package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/emperorhan/wallet-history/internal/domain/model"
	"github.com/emperorhan/wallet-history/internal/pipeline/identity"
	"github.com/emperorhan/wallet-history/internal/store"
)

const cacheWriteTimeout = 5 * time.Second

type writeJob struct {
	account string
	chain   model.Chain
	records []model.TransactionRecord
}

// cacheWriter persists whole record sets in the background. Only the most
// recent pending set per account+chain is written; older ones are dropped.
type cacheWriter struct {
	cache  store.HistoryCache
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]writeJob
	order   []string
	running bool
	idle    *sync.Cond
}

func newCacheWriter(cache store.HistoryCache, logger *slog.Logger) *cacheWriter {
	w := &cacheWriter{
		cache:   cache,
		logger:  logger,
		pending: make(map[string]writeJob),
	}
	w.idle = sync.NewCond(&w.mu)
	return w
}

func (w *cacheWriter) submit(job writeJob) {
	key := identity.CacheKey(job.account, job.chain)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, queued := w.pending[key]; !queued {
		w.order = append(w.order, key)
	}
	w.pending[key] = job
	if w.running {
		return
	}
	w.running = true
	go w.drain()
}

func (w *cacheWriter) drain() {
	for {
		w.mu.Lock()
		if len(w.order) == 0 {
			w.running = false
			w.idle.Broadcast()
			w.mu.Unlock()
			return
		}
		key := w.order[0]
		w.order = w.order[1:]
		job := w.pending[key]
		delete(w.pending, key)
		w.mu.Unlock()

		w.write(job)
	}
}

func (w *cacheWriter) write(job writeJob) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
	defer cancel()
	if err := w.cache.Save(ctx, job.account, job.chain, job.records); err != nil {
		w.logger.Warn("cache write failed",
			"account", job.account,
			"chain", job.chain,
			"records", len(job.records),
			"error", err,
		)
	}
}

// flush blocks until every submitted write has been attempted.
func (w *cacheWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.running {
		w.idle.Wait()
	}
}
