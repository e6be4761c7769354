// Package redis stores cached histories as JSON documents in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/emperorhan/wallet-history/internal/domain/model"
	"github.com/emperorhan/wallet-history/internal/pipeline/identity"
	"github.com/emperorhan/wallet-history/internal/store"
)

const documentVersion = 1

type document struct {
	Version int                       `json:"v"`
	Records []model.TransactionRecord `json:"records"`
}

type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore dials url and fails fast when the server is unreachable.
// A zero ttl keeps entries until overwritten.
func NewStore(ctx context.Context, url string, ttl time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewStoreFromClient(client, ttl), nil
}

func NewStoreFromClient(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) Load(ctx context.Context, account string, chain model.Chain) ([]model.TransactionRecord, bool, error) {
	raw, err := s.client.Get(ctx, identity.CacheKey(account, chain)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s/%s: %w", chain, account, err)
	}
	records, err := decode(raw)
	if err != nil {
		return nil, false, err
	}
	return records, true, nil
}

func (s *Store) Save(ctx context.Context, account string, chain model.Chain, records []model.TransactionRecord) error {
	raw, err := encode(records)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, identity.CacheKey(account, chain), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s/%s: %w", chain, account, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func encode(records []model.TransactionRecord) ([]byte, error) {
	if records == nil {
		records = []model.TransactionRecord{}
	}
	raw, err := json.Marshal(document{Version: documentVersion, Records: records})
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	return raw, nil
}

func decode(raw []byte) ([]model.TransactionRecord, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrCorruptEntry, err)
	}
	if doc.Version != documentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", store.ErrCorruptEntry, doc.Version)
	}
	return doc.Records, nil
}
