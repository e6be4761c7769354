package store

import (
	"context"
	"errors"

	"github.com/emperorhan/wallet-history/internal/domain/model"
)

//go:generate mockgen -destination=mocks/mock_history_cache.go -package=mocks . HistoryCache

// ErrCorruptEntry is returned when a persisted entry cannot be decoded.
var ErrCorruptEntry = errors.New("corrupt history cache entry")

// HistoryCache persists the most recent canonical records per account+chain.
// Save replaces the whole set; the last writer wins.
type HistoryCache interface {
	// Load returns the cached records and whether an entry existed.
	Load(ctx context.Context, account string, chain model.Chain) ([]model.TransactionRecord, bool, error)
	Save(ctx context.Context, account string, chain model.Chain, records []model.TransactionRecord) error
}
