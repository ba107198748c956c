package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// shardCount is the number of independent lock domains in the in-memory
// store. Keys are assigned to shards by hash, so requests for different
// keys rarely contend on the same mutex while requests for the same key
// are always serialized by it.
const shardCount = 32

// InMemoryStore is a thread-safe in-memory implementation of Store.
//
// State is partitioned into shards, each holding a map from key to its
// recorded timestamps under its own mutex. Timestamps for a key are
// appended in arrival order, so each slice is sorted by construction and
// trimming only ever removes a prefix.
//
// Memory is bounded two ways:
//   - Cleanup drops keys whose timestamps have all expired; it is meant to
//     be called periodically (e.g., from a cron job).
//   - MaxKeysPerShard caps each shard; when full, the key with the oldest
//     most-recent timestamp in the shard is evicted to admit a new one.
type InMemoryStore struct {
	shards       [shardCount]shard
	maxPerShard  int
}

type shard struct {
	mu   sync.Mutex
	keys map[string]*window
}

// window holds the recorded timestamps for one key.
type window struct {
	timestamps []time.Time
}

// InMemoryStoreConfig holds configuration for InMemoryStore.
type InMemoryStoreConfig struct {
	// MaxKeys is the maximum number of keys to track across all shards.
	// When a shard reaches its share of this limit, the stalest key in
	// that shard is evicted. Default: 10000.
	MaxKeys int
}

// NewInMemoryStore creates a new in-memory store with the given configuration.
func NewInMemoryStore(cfg InMemoryStoreConfig) *InMemoryStore {
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	perShard := cfg.MaxKeys / shardCount
	if perShard < 1 {
		perShard = 1
	}

	s := &InMemoryStore{maxPerShard: perShard}
	for i := range s.shards {
		s.shards[i].keys = make(map[string]*window)
	}
	return s
}

// CheckAndAdd atomically checks the count for key within the window and
// records the request when admitted.
//
// The trim, the check against limit, and the append all run while holding
// the shard mutex, so admissions for a single key are linearizable: no
// interleaving of concurrent calls can admit more than limit requests
// within any window.
//
// Boundary convention: only timestamps strictly after cutoff count. A
// timestamp exactly at cutoff is expired.
func (s *InMemoryStore) CheckAndAdd(ctx context.Context, key string, now, cutoff time.Time, limit int) (bool, int, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, exists := sh.keys[key]
	if exists {
		w.trim(cutoff)
	}

	count := 0
	if exists {
		count = len(w.timestamps)
	}

	if count >= limit {
		// Denied requests consume no slot.
		return false, count, nil
	}

	if !exists {
		if len(sh.keys) >= s.maxPerShard {
			sh.evictStalest()
		}
		w = &window{timestamps: make([]time.Time, 0, limit)}
		sh.keys[key] = w
	}
	w.timestamps = append(w.timestamps, now)

	return true, count + 1, nil
}

// Cleanup removes expired timestamps from every key and deletes keys left
// empty. Returns the number of keys deleted.
func (s *InMemoryStore) Cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	for i := range s.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, w := range sh.keys {
			w.trim(cutoff)
			if len(w.timestamps) == 0 {
				delete(sh.keys, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// KeyCount returns the number of keys currently tracked across all shards.
func (s *InMemoryStore) KeyCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		total += len(sh.keys)
		sh.mu.Unlock()
	}
	return total, nil
}

// shardFor maps a key to its shard by FNV-1a hash.
func (s *InMemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%shardCount]
}

// trim drops timestamps at or before cutoff. Timestamps are appended in
// arrival order, so expired entries form a prefix of the slice.
func (w *window) trim(cutoff time.Time) {
	i := 0
	for i < len(w.timestamps) && !w.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.timestamps = append(w.timestamps[:0], w.timestamps[i:]...)
	}
}

// evictStalest removes the key whose newest timestamp is oldest. Must be
// called while holding the shard mutex.
func (sh *shard) evictStalest() {
	var stalest string
	var stalestAt time.Time
	first := true
	for key, w := range sh.keys {
		last := time.Time{}
		if n := len(w.timestamps); n > 0 {
			last = w.timestamps[n-1]
		}
		if first || last.Before(stalestAt) {
			stalest = key
			stalestAt = last
			first = false
		}
	}
	if !first {
		delete(sh.keys, stalest)
	}
}
