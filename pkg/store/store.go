// Package store implements the single-file store: one append-only log,
// one in-memory index mapping each key to the offset of its latest value,
// and the recovery and compaction machinery around them.
//
// Readers share a gate and use positional reads, so they never contend
// with appenders over a file cursor. Appenders serialise on a writer slot.
// Compaction, flush, seed-with-truncate and close take the gate
// exclusively. The index is updated only after the corresponding bytes
// are on disk.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"shardkv/pkg/codec"
	"shardkv/pkg/record"
)

// Options control open-time behavior of a store.
type Options struct {
	// WriteThrough fsyncs every successful mutating operation before it
	// returns.
	WriteThrough bool
}

// entry locates the latest record for a key. off points at the first byte
// of the value inside the log, not at the record start. A tombstone carries
// a zero offset and length.
type entry struct {
	off       int64
	size      uint32
	tombstone bool
}

type index = skipmap.FuncMap[[]byte, entry]

// The index is keyed by the codec's encoded key form, ordered bytewise.
// Encode is injective (Decode inverts it), so bytewise equality of encoded
// keys coincides with the codec's equality relation.
func newIndex() *index {
	return skipmap.NewFunc[[]byte, entry](func(a, b []byte) bool {
		return bytes.Compare(a, b) < 0
	})
}

// Store is a single-file key-value store. All methods are safe for
// concurrent use.
type Store[K, V any] struct {
	path         string
	kc           codec.Key[K]
	vc           codec.Value[V]
	writeThrough bool

	// gate admits many concurrent readers or one exclusive operation.
	// wslot (capacity 1) serialises appenders among themselves, so reads
	// keep flowing while a writer appends.
	gate  sync.RWMutex
	wslot chan struct{}

	file   *os.File
	cursor int64 // durable end of the log, owned by the writer slot holder
	idx    *index

	closed atomic.Bool
}

// Open opens the log at path, creating it if absent, and rebuilds the
// index by replaying the file. A partial record at the tail is truncated
// away; corruption anywhere before the tail fails the open. A nil key or
// value codec selects the built-in default for the type, when one exists.
func Open[K, V any](path string, kc codec.Key[K], vc codec.Value[V], opts Options) (*Store[K, V], error) {
	if kc == nil {
		var err error
		if kc, err = codec.KeyFor[K](); err != nil {
			return nil, err
		}
	}
	if vc == nil {
		vc = codec.ValueFor[V]()
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	s := &Store[K, V]{
		path:         path,
		kc:           kc,
		vc:           vc,
		writeThrough: opts.WriteThrough,
		wslot:        make(chan struct{}, 1),
		file:         file,
	}
	if err := s.load(); err != nil {
		file.Close()
		return nil, err
	}
	return s, nil
}

// load replays the log from offset 0, rebuilding the index and setting the
// cursor to the durable end. Called at open and after compaction swaps the
// file.
func (s *Store[K, V]) load() error {
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", s.path, err)
	}
	size := info.Size()

	idx := newIndex()
	r := record.NewReader(s.file, size)
	for {
		ent, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, record.ErrPartialTail) {
			slog.Warn("truncating partial record at log tail",
				"path", s.path, "offset", r.Offset(), "dropped", size-r.Offset())
			if terr := s.file.Truncate(r.Offset()); terr != nil {
				return fmt.Errorf("truncate %s to %d: %w", s.path, r.Offset(), terr)
			}
			if serr := s.file.Sync(); serr != nil {
				return fmt.Errorf("fsync %s: %w", s.path, serr)
			}
			size = r.Offset()
			break
		}
		if err != nil {
			return fmt.Errorf("replay %s: %w", s.path, err)
		}
		if ent.Op == record.OpDel {
			idx.Store(ent.Key, entry{tombstone: true})
		} else {
			idx.Store(ent.Key, entry{off: ent.ValueOff, size: ent.ValueLen})
		}
	}

	s.idx = idx
	s.cursor = size
	return nil
}

// Get returns the current value for key, or false when the key is absent
// or tombstoned.
func (s *Store[K, V]) Get(key K) (V, bool, error) {
	var zero V

	s.gate.RLock()
	defer s.gate.RUnlock()
	if s.closed.Load() {
		return zero, false, ErrClosed
	}

	e, ok := s.idx.Load(s.kc.Encode(key))
	if !ok || e.tombstone {
		return zero, false, nil
	}

	buf, err := s.readValue(e)
	if err != nil {
		return zero, false, err
	}
	v, err := s.vc.Unmarshal(buf)
	if err != nil {
		return zero, false, fmt.Errorf("decode value at %d: %w", e.off, err)
	}
	return v, true, nil
}

// readValue reads e.size bytes at e.off positionally. Caller holds at
// least the read side of the gate.
func (s *Store[K, V]) readValue(e entry) ([]byte, error) {
	buf := make([]byte, e.size)
	n, err := s.file.ReadAt(buf, e.off)
	if n == len(buf) {
		// ReadAt may pair a full read with io.EOF.
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: want %d bytes at %d, got %d", ErrShortRead, e.size, e.off, n)
	}
	return nil, fmt.Errorf("read value at %d: %w", e.off, err)
}

// Put upserts one key-value pair.
func (s *Store[K, V]) Put(key K, value V) error {
	vb, err := s.vc.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	kb := s.kc.Encode(key)

	s.gate.RLock()
	defer s.gate.RUnlock()
	if s.closed.Load() {
		return ErrClosed
	}

	s.wslot <- struct{}{}
	defer func() { <-s.wslot }()

	writeOff, err := s.write(record.Append(nil, record.OpPut, kb, vb), s.writeThrough)
	if err != nil {
		return err
	}
	s.idx.Store(ownedCopy(kb), entry{
		off:  record.ValueOffset(writeOff, len(kb)),
		size: uint32(len(vb)),
	})
	return nil
}

// Delete removes key. It reports true iff a live key became absent; when
// the key is already absent or tombstoned no record is written.
func (s *Store[K, V]) Delete(key K) (bool, error) {
	kb := s.kc.Encode(key)

	s.gate.RLock()
	defer s.gate.RUnlock()
	if s.closed.Load() {
		return false, ErrClosed
	}

	s.wslot <- struct{}{}
	defer func() { <-s.wslot }()

	e, ok := s.idx.Load(kb)
	if !ok || e.tombstone {
		return false, nil
	}
	if _, err := s.write(record.Append(nil, record.OpDel, kb, nil), s.writeThrough); err != nil {
		return false, err
	}
	s.idx.Store(ownedCopy(kb), entry{tombstone: true})
	return true, nil
}

// write appends buf at the cursor and advances it. Caller holds the writer
// slot. On a write error the file is truncated back to the old boundary so
// the log never carries a torn chunk; the index is untouched either way.
func (s *Store[K, V]) write(buf []byte, flush bool) (int64, error) {
	writeOff := s.cursor
	if _, err := s.file.WriteAt(buf, writeOff); err != nil {
		if terr := s.file.Truncate(writeOff); terr != nil {
			return 0, fmt.Errorf("write at %d: %w (truncate to boundary also failed: %v)", writeOff, err, terr)
		}
		return 0, fmt.Errorf("write at %d: %w", writeOff, err)
	}
	s.cursor = writeOff + int64(len(buf))
	if flush {
		if err := s.file.Sync(); err != nil {
			return 0, fmt.Errorf("fsync %s: %w", s.path, err)
		}
	}
	return writeOff, nil
}

// Flush durably syncs all outstanding writes.
func (s *Store[K, V]) Flush() error {
	s.gate.Lock()
	defer s.gate.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("fsync %s: %w", s.path, err)
	}
	return nil
}

// Close releases the file handle. No implicit flush happens beyond what
// earlier operations already performed.
func (s *Store[K, V]) Close() error {
	s.gate.Lock()
	defer s.gate.Unlock()
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.path, err)
	}
	return nil
}

// Count returns the number of live keys.
func (s *Store[K, V]) Count() int {
	s.gate.RLock()
	defer s.gate.RUnlock()

	n := 0
	s.idx.Range(func(_ []byte, e entry) bool {
		if !e.tombstone {
			n++
		}
		return true
	})
	return n
}

// Path returns the log file path.
func (s *Store[K, V]) Path() string { return s.path }

// Size returns the current length of the log file.
func (s *Store[K, V]) Size() (int64, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	if s.closed.Load() {
		return 0, ErrClosed
	}
	info, err := s.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", s.path, err)
	}
	return info.Size(), nil
}

// ownedCopy detaches key bytes from caller-owned buffers before they go
// into the index.
func ownedCopy(b []byte) []byte {
	return append([]byte(nil), b...)
}
