package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emperorhan/wallet-history/internal/domain/model"
	"github.com/emperorhan/wallet-history/internal/pipeline/identity"
	"github.com/emperorhan/wallet-history/internal/store"
)

// HistoryCacheRepo keeps one JSONB row per account+chain.
type HistoryCacheRepo struct {
	db *DB
}

func NewHistoryCacheRepo(db *DB) *HistoryCacheRepo {
	return &HistoryCacheRepo{db: db}
}

func (r *HistoryCacheRepo) Load(ctx context.Context, account string, chain model.Chain) ([]model.TransactionRecord, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT records FROM history_cache WHERE account = $1 AND chain = $2`,
		identity.CanonicalAddress(account), string(chain),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select history_cache %s/%s: %w", chain, account, err)
	}

	var records []model.TransactionRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, false, fmt.Errorf("%w: %v", store.ErrCorruptEntry, err)
	}
	return records, true, nil
}

func (r *HistoryCacheRepo) Save(ctx context.Context, account string, chain model.Chain, records []model.TransactionRecord) error {
	if records == nil {
		records = []model.TransactionRecord{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO history_cache (account, chain, records, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (account, chain) DO UPDATE
		SET records = EXCLUDED.records, updated_at = EXCLUDED.updated_at
	`, identity.CanonicalAddress(account), string(chain), raw)
	if err != nil {
		return fmt.Errorf("upsert history_cache %s/%s: %w", chain, account, err)
	}
	return nil
}
