// Package memory keeps cached histories in a process-local sharded LRU.
package memory

import (
	"context"
	"slices"
	"time"

	"github.com/emperorhan/wallet-history/internal/cache"
	"github.com/emperorhan/wallet-history/internal/domain/model"
	"github.com/emperorhan/wallet-history/internal/pipeline/identity"
)

const (
	DefaultCapacity = 4096
	DefaultTTL      = 7 * 24 * time.Hour
)

type Store struct {
	entries cache.Cache[string, []model.TransactionRecord]
}

func New(capacity int, ttl time.Duration) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		entries: cache.NewShardedLRU[string, []model.TransactionRecord](capacity, ttl, func(k string) string { return k }),
	}
}

func (s *Store) Load(ctx context.Context, account string, chain model.Chain) ([]model.TransactionRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	records, ok := s.entries.Get(identity.CacheKey(account, chain))
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(records), true, nil
}

func (s *Store) Save(ctx context.Context, account string, chain model.Chain, records []model.TransactionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.entries.Put(identity.CacheKey(account, chain), slices.Clone(records))
	return nil
}
