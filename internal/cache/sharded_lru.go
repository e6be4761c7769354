package cache

import (
	"hash/fnv"
	"time"
)

const defaultShardCount = 16

// Cache is satisfied by both LRU and ShardedLRU.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Put(key K, value V)
	Delete(key K) bool
	Sweep() int
	Len() int
	Stats() (hits, misses int64)
}

var (
	_ Cache[string, int] = (*LRU[string, int])(nil)
	_ Cache[string, int] = (*ShardedLRU[string, int])(nil)
)

// ShardedLRU spreads keys over independent LRU shards picked by FNV-32a of
// keyFn(key), so hot keys on one shard do not serialize the rest.
type ShardedLRU[K comparable, V any] struct {
	shards []*LRU[K, V]
	keyFn  func(K) string
}

func NewShardedLRU[K comparable, V any](totalCapacity int, ttl time.Duration, keyFn func(K) string, opts ...Option[K, V]) *ShardedLRU[K, V] {
	return NewShardedLRUWithCount(totalCapacity, ttl, keyFn, defaultShardCount, opts...)
}

func NewShardedLRUWithCount[K comparable, V any](totalCapacity int, ttl time.Duration, keyFn func(K) string, shardCount int, opts ...Option[K, V]) *ShardedLRU[K, V] {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	perShard := totalCapacity / shardCount
	if perShard < 1 {
		perShard = 1
	}
	shards := make([]*LRU[K, V], shardCount)
	for i := range shards {
		shards[i] = NewLRU(perShard, ttl, opts...)
	}
	return &ShardedLRU[K, V]{shards: shards, keyFn: keyFn}
}

func (s *ShardedLRU[K, V]) shard(key K) *LRU[K, V] {
	h := fnv.New32a()
	h.Write([]byte(s.keyFn(key)))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *ShardedLRU[K, V]) Get(key K) (V, bool) { return s.shard(key).Get(key) }

func (s *ShardedLRU[K, V]) Put(key K, value V) { s.shard(key).Put(key, value) }

func (s *ShardedLRU[K, V]) Delete(key K) bool { return s.shard(key).Delete(key) }

func (s *ShardedLRU[K, V]) Sweep() int {
	n := 0
	for _, sh := range s.shards {
		n += sh.Sweep()
	}
	return n
}

func (s *ShardedLRU[K, V]) Len() int {
	total := 0
	for _, sh := range s.shards {
		total += sh.Len()
	}
	return total
}

func (s *ShardedLRU[K, V]) Stats() (hits, misses int64) {
	for _, sh := range s.shards {
		h, m := sh.Stats()
		hits += h
		misses += m
	}
	return hits, misses
}
