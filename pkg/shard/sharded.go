// Package shard provides a sharded store: a facade over N independent
// single-file stores. Each key lives in exactly one shard, chosen as
// Hash64(key) mod N, so placement is stable across processes as long as
// the shard count does not change. Shards are independent files with no
// cross-shard atomicity.
package shard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"shardkv/pkg/codec"
	"shardkv/pkg/store"
)

// Sharded routes operations across its shards and fans batched work out
// concurrently. All methods are safe for concurrent use.
type Sharded[K, V any] struct {
	kc     codec.Key[K]
	stores []*store.Store[K, V]
}

// Path returns the log file path of shard i under basePath.
func Path(basePath string, i int) string {
	return fmt.Sprintf("%s.shard%02d.log", basePath, i)
}

// Open opens shards single-file stores at <basePath>.shardNN.log, creating
// the parent directory if needed. Opening an existing basePath with a
// different shard count silently misroutes keys and is unsupported;
// callers rehash offline instead.
func Open[K, V any](basePath string, shards int, kc codec.Key[K], vc codec.Value[V], opts store.Options) (*Sharded[K, V], error) {
	if shards <= 0 {
		return nil, fmt.Errorf("shardkv: shard count must be positive, got %d", shards)
	}
	if kc == nil {
		var err error
		if kc, err = codec.KeyFor[K](); err != nil {
			return nil, err
		}
	}
	if dir := filepath.Dir(basePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	stores := make([]*store.Store[K, V], shards)
	for i := range stores {
		st, err := store.Open(Path(basePath, i), kc, vc, opts)
		if err != nil {
			for _, open := range stores[:i] {
				open.Close()
			}
			return nil, fmt.Errorf("open shard %d: %w", i, err)
		}
		stores[i] = st
	}
	return &Sharded[K, V]{kc: kc, stores: stores}, nil
}

// ShardIndex returns the shard key routes to.
func (s *Sharded[K, V]) ShardIndex(key K) int {
	return int(s.kc.Hash64(key) % uint64(len(s.stores)))
}

// ShardCount returns the number of shards.
func (s *Sharded[K, V]) ShardCount() int { return len(s.stores) }

// Shard returns the underlying store of shard i.
func (s *Sharded[K, V]) Shard(i int) *store.Store[K, V] { return s.stores[i] }

func (s *Sharded[K, V]) shardFor(key K) *store.Store[K, V] {
	return s.stores[s.ShardIndex(key)]
}

// Get returns the current value for key.
func (s *Sharded[K, V]) Get(key K) (V, bool, error) {
	return s.shardFor(key).Get(key)
}

// Put upserts one pair.
func (s *Sharded[K, V]) Put(key K, value V) error {
	return s.shardFor(key).Put(key, value)
}

// Delete removes key, reporting whether a live key became absent.
func (s *Sharded[K, V]) Delete(key K) (bool, error) {
	return s.shardFor(key).Delete(key)
}

// PutBatch groups pairs by shard and writes the per-shard sub-batches
// concurrently, waiting for all of them. Sub-batches may become visible
// at different moments in different shards.
func (s *Sharded[K, V]) PutBatch(ctx context.Context, pairs []store.Pair[K, V], flush bool) error {
	buckets := make([][]store.Pair[K, V], len(s.stores))
	for _, p := range pairs {
		i := s.ShardIndex(p.Key)
		buckets[i] = append(buckets[i], p)
	}
	return s.eachShard(func(i int, st *store.Store[K, V]) error {
		if len(buckets[i]) == 0 {
			return nil
		}
		return st.PutBatch(ctx, buckets[i], flush)
	})
}

// DeleteBatch groups keys by shard and deletes the per-shard sub-batches
// concurrently.
func (s *Sharded[K, V]) DeleteBatch(ctx context.Context, keys []K, flush bool) error {
	buckets := make([][]K, len(s.stores))
	for _, k := range keys {
		i := s.ShardIndex(k)
		buckets[i] = append(buckets[i], k)
	}
	return s.eachShard(func(i int, st *store.Store[K, V]) error {
		if len(buckets[i]) == 0 {
			return nil
		}
		return st.DeleteBatch(ctx, buckets[i], flush)
	})
}

// Seed bulk-loads pairs, optionally truncating every shard first.
func (s *Sharded[K, V]) Seed(ctx context.Context, pairs []store.Pair[K, V], truncate bool) error {
	buckets := make([][]store.Pair[K, V], len(s.stores))
	for _, p := range pairs {
		i := s.ShardIndex(p.Key)
		buckets[i] = append(buckets[i], p)
	}
	return s.eachShard(func(i int, st *store.Store[K, V]) error {
		if !truncate && len(buckets[i]) == 0 {
			return nil
		}
		return st.Seed(ctx, buckets[i], truncate)
	})
}

// ScanLive iterates the live sets of all shards, one shard after another.
// There is no cross-shard ordering guarantee.
func (s *Sharded[K, V]) ScanLive() *Iterator[K, V] {
	its := make([]*store.Iterator[K, V], len(s.stores))
	for i, st := range s.stores {
		its[i] = st.ScanLive()
	}
	return &Iterator[K, V]{its: its}
}

// Snapshot materialises the live pairs of all shards into one snapshot.
func (s *Sharded[K, V]) Snapshot() (*store.Snapshot[K, V], error) {
	var pairs []store.Pair[K, V]
	it := s.ScanLive()
	for it.Next() {
		pairs = append(pairs, store.Pair[K, V]{Key: it.Key(), Value: it.Value()})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return store.NewSnapshot(s.kc, pairs), nil
}

// CompactAll compacts every shard concurrently.
func (s *Sharded[K, V]) CompactAll(ctx context.Context) error {
	return s.eachShard(func(_ int, st *store.Store[K, V]) error {
		return st.Compact(ctx)
	})
}

// Flush durably syncs every shard.
func (s *Sharded[K, V]) Flush() error {
	return s.eachShard(func(_ int, st *store.Store[K, V]) error {
		return st.Flush()
	})
}

// Close releases every shard.
func (s *Sharded[K, V]) Close() error {
	return s.eachShard(func(_ int, st *store.Store[K, V]) error {
		return st.Close()
	})
}

// Count returns the number of live keys across all shards.
func (s *Sharded[K, V]) Count() int {
	counts := make([]int, len(s.stores))
	s.eachShard(func(i int, st *store.Store[K, V]) error {
		counts[i] = st.Count()
		return nil
	})
	total := 0
	for _, c := range counts {
		total += c
	}
	return total
}

// eachShard runs fn once per shard concurrently and joins the errors.
func (s *Sharded[K, V]) eachShard(fn func(int, *store.Store[K, V]) error) error {
	errs := make([]error, len(s.stores))
	var wg sync.WaitGroup
	for i, st := range s.stores {
		i, st := i, st
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn(i, st)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Iterator concatenates per-shard live scans.
type Iterator[K, V any] struct {
	its []*store.Iterator[K, V]
	cur int
	err error
}

// Next advances to the next live pair across shards.
func (it *Iterator[K, V]) Next() bool {
	for it.cur < len(it.its) {
		if it.its[it.cur].Next() {
			return true
		}
		if err := it.its[it.cur].Err(); err != nil {
			it.err = err
			return false
		}
		it.cur++
	}
	return false
}

// Key returns the key of the current pair.
func (it *Iterator[K, V]) Key() K { return it.its[it.cur].Key() }

// Value returns the value of the current pair.
func (it *Iterator[K, V]) Value() V { return it.its[it.cur].Value() }

// Err returns the first error the iteration hit, if any.
func (it *Iterator[K, V]) Err() error { return it.err }
