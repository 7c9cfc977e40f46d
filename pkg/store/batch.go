package store

import (
	"context"
	"fmt"

	"shardkv/pkg/record"
)

// Pair is one element of a batch.
type Pair[K, V any] struct {
	Key   K
	Value V
}

// maxChunkBytes bounds the contiguous buffer a batch serialises before
// issuing a single write, keeping syscall and allocation overhead per
// record low without holding the writer slot for an unbounded stretch.
const maxChunkBytes = 8 << 20

type pendingRecord struct {
	op  record.Op
	key []byte
	val []byte
}

// PutBatch upserts all pairs. Records are chunked into contiguous buffers
// of at most maxChunkBytes and each chunk is issued as one write. flush
// fsyncs each chunk before its index entries become visible. Cancellation
// is observed between chunks; chunks already written stay durable.
func (s *Store[K, V]) PutBatch(ctx context.Context, pairs []Pair[K, V], flush bool) error {
	recs := make([]pendingRecord, 0, len(pairs))
	for _, p := range pairs {
		vb, err := s.vc.Marshal(p.Value)
		if err != nil {
			return fmt.Errorf("encode value: %w", err)
		}
		recs = append(recs, pendingRecord{op: record.OpPut, key: s.kc.Encode(p.Key), val: vb})
	}
	return s.appendChunks(ctx, recs, flush, false)
}

// DeleteBatch deletes all keys with the same chunking policy as PutBatch.
// Keys that are absent or already tombstoned are suppressed so the log
// only grows with real state changes, matching Delete.
func (s *Store[K, V]) DeleteBatch(ctx context.Context, keys []K, flush bool) error {
	recs := make([]pendingRecord, 0, len(keys))
	for _, k := range keys {
		recs = append(recs, pendingRecord{op: record.OpDel, key: s.kc.Encode(k)})
	}
	return s.appendChunks(ctx, recs, flush, true)
}

// Seed bulk-loads pairs. With truncate the log is reset to length zero and
// the index cleared first; either way the batch is written flushed.
func (s *Store[K, V]) Seed(ctx context.Context, pairs []Pair[K, V], truncate bool) error {
	if truncate {
		if err := s.reset(); err != nil {
			return err
		}
	}
	return s.PutBatch(ctx, pairs, true)
}

// reset truncates the log to zero and clears the index under the
// exclusive gate.
func (s *Store[K, V]) reset() error {
	s.gate.Lock()
	defer s.gate.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}

	s.wslot <- struct{}{}
	defer func() { <-s.wslot }()

	if err := s.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate %s: %w", s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("fsync %s: %w", s.path, err)
	}
	s.cursor = 0
	s.idx = newIndex()
	return nil
}

func (s *Store[K, V]) appendChunks(ctx context.Context, recs []pendingRecord, flush, liveOnly bool) error {
	for start := 0; start < len(recs); {
		if err := ctx.Err(); err != nil {
			return err
		}

		end, size := start, 0
		for end < len(recs) {
			rs := record.Size(len(recs[end].key), len(recs[end].val))
			if end > start && size+rs > maxChunkBytes {
				break
			}
			size += rs
			end++
		}

		if err := s.appendChunk(recs[start:end], size, flush, liveOnly); err != nil {
			return err
		}
		start = end
	}
	return nil
}

// appendChunk serialises one chunk end-to-end, writes it at the cursor in
// a single call, and only after the write (and any fsync) has returned
// walks the chunk again to point the index at the new offsets.
func (s *Store[K, V]) appendChunk(recs []pendingRecord, sizeHint int, flush, liveOnly bool) error {
	s.gate.RLock()
	defer s.gate.RUnlock()
	if s.closed.Load() {
		return ErrClosed
	}

	s.wslot <- struct{}{}
	defer func() { <-s.wslot }()

	if liveOnly {
		// Filter under the slot so the liveness check is serialised with
		// every other writer. A key repeated within the chunk is kept once.
		kept := recs[:0:len(recs)]
		seen := make(map[string]struct{}, len(recs))
		for _, r := range recs {
			if e, ok := s.idx.Load(r.key); ok && !e.tombstone {
				if _, dup := seen[string(r.key)]; dup {
					continue
				}
				seen[string(r.key)] = struct{}{}
				kept = append(kept, r)
			}
		}
		recs = kept
		if len(recs) == 0 {
			return nil
		}
	}

	buf := make([]byte, 0, sizeHint)
	for _, r := range recs {
		buf = record.Append(buf, r.op, r.key, r.val)
	}

	writeOff, err := s.write(buf, flush || s.writeThrough)
	if err != nil {
		return err
	}

	off := writeOff
	for _, r := range recs {
		if r.op == record.OpDel {
			s.idx.Store(ownedCopy(r.key), entry{tombstone: true})
		} else {
			s.idx.Store(ownedCopy(r.key), entry{
				off:  record.ValueOffset(off, len(r.key)),
				size: uint32(len(r.val)),
			})
		}
		off += int64(record.Size(len(r.key), len(r.val)))
	}
	return nil
}
