package store

import (
	"fmt"

	"shardkv/pkg/codec"
)

// liveRef is one element of an eager index snapshot.
type liveRef struct {
	key  []byte
	off  int64
	size uint32
}

// snapshotRefs collects the live entries of the index under the read gate.
func (s *Store[K, V]) snapshotRefs() ([]liveRef, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	if s.closed.Load() {
		return nil, ErrClosed
	}

	refs := make([]liveRef, 0, s.idx.Len())
	s.idx.Range(func(k []byte, e entry) bool {
		if !e.tombstone {
			refs = append(refs, liveRef{key: k, off: e.off, size: e.size})
		}
		return true
	})
	return refs, nil
}

// ScanLive iterates the live set. The index snapshot is taken eagerly when
// ScanLive is called; entries written afterwards may or may not appear.
// Each value is freshly read from disk as the iterator advances, and no
// lock is held between yielded items.
func (s *Store[K, V]) ScanLive() *Iterator[K, V] {
	refs, err := s.snapshotRefs()
	return &Iterator[K, V]{s: s, refs: refs, err: err}
}

// Iterator walks an eager snapshot of the live set.
//
//	it := st.ScanLive()
//	for it.Next() {
//		use(it.Key(), it.Value())
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator[K, V any] struct {
	s    *Store[K, V]
	refs []liveRef
	pos  int
	key  K
	val  V
	err  error
}

// Next advances to the next live pair, reading its value from disk. It
// returns false at the end of the snapshot or on the first error.
func (it *Iterator[K, V]) Next() bool {
	if it.err != nil || it.pos >= len(it.refs) {
		return false
	}
	ref := it.refs[it.pos]
	it.pos++

	k, err := it.s.kc.Decode(ref.key)
	if err != nil {
		it.err = fmt.Errorf("decode key: %w", err)
		return false
	}

	it.s.gate.RLock()
	if it.s.closed.Load() {
		it.s.gate.RUnlock()
		it.err = ErrClosed
		return false
	}
	buf, err := it.s.readValue(entry{off: ref.off, size: ref.size})
	it.s.gate.RUnlock()
	if err != nil {
		it.err = err
		return false
	}

	v, err := it.s.vc.Unmarshal(buf)
	if err != nil {
		it.err = fmt.Errorf("decode value at %d: %w", ref.off, err)
		return false
	}
	it.key, it.val = k, v
	return true
}

// Key returns the key of the current pair.
func (it *Iterator[K, V]) Key() K { return it.key }

// Value returns the value of the current pair.
func (it *Iterator[K, V]) Value() V { return it.val }

// Err returns the first error the iteration hit, if any.
func (it *Iterator[K, V]) Err() error { return it.err }

// Snapshot materialises all live pairs into memory.
func (s *Store[K, V]) Snapshot() (*Snapshot[K, V], error) {
	it := s.ScanLive()
	var pairs []Pair[K, V]
	for it.Next() {
		pairs = append(pairs, Pair[K, V]{Key: it.Key(), Value: it.Value()})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return NewSnapshot(s.kc, pairs), nil
}

// Snapshot is an in-memory copy of a live set, addressable by key.
type Snapshot[K, V any] struct {
	kc    codec.Key[K]
	pairs []Pair[K, V]
	byKey map[string]int
}

// NewSnapshot builds a snapshot from pairs. Later pairs win on duplicate
// keys.
func NewSnapshot[K, V any](kc codec.Key[K], pairs []Pair[K, V]) *Snapshot[K, V] {
	sn := &Snapshot[K, V]{
		kc:    kc,
		pairs: pairs,
		byKey: make(map[string]int, len(pairs)),
	}
	for i, p := range pairs {
		sn.byKey[string(kc.Encode(p.Key))] = i
	}
	return sn
}

// Get returns the snapshotted value for key.
func (sn *Snapshot[K, V]) Get(key K) (V, bool) {
	if i, ok := sn.byKey[string(sn.kc.Encode(key))]; ok {
		return sn.pairs[i].Value, true
	}
	var zero V
	return zero, false
}

// Len returns the number of pairs in the snapshot.
func (sn *Snapshot[K, V]) Len() int { return len(sn.byKey) }

// Pairs returns the snapshotted pairs. The slice is owned by the snapshot.
func (sn *Snapshot[K, V]) Pairs() []Pair[K, V] { return sn.pairs }
