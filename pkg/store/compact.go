package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"shardkv/pkg/record"
)

// CompactSuffix is appended to the log path to name the temporary file a
// compaction writes before swapping it into place. A leftover from an
// interrupted compaction is removed by the next one.
const CompactSuffix = ".compacting"

// Compact rewrites the log to hold exactly one put record per live key,
// fsyncs the rewrite, atomically replaces the live file and rebuilds the
// index from it. The store is stopped for readers and writers for the
// duration. Cancellation is observed between records; an interrupted
// compaction leaves the original file untouched.
func (s *Store[K, V]) Compact(ctx context.Context) error {
	s.gate.Lock()
	defer s.gate.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}

	s.wslot <- struct{}{}
	defer func() { <-s.wslot }()

	var refs []liveRef
	s.idx.Range(func(k []byte, e entry) bool {
		if !e.tombstone {
			refs = append(refs, liveRef{key: k, off: e.off, size: e.size})
		}
		return true
	})

	tmpPath := s.path + CompactSuffix
	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale %s: %w", tmpPath, err)
	}
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmpPath, err)
	}

	written, err := s.writeCompacted(ctx, tmp, refs)
	if err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}

	// The old handle still references the replaced inode; reopen the
	// path and replay it to rebuild index and cursor.
	old := s.file
	f, err := os.OpenFile(s.path, os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("reopen %s after compaction: %w", s.path, err)
	}
	old.Close()
	s.file = f
	if err := s.load(); err != nil {
		return fmt.Errorf("rebuild index after compaction: %w", err)
	}

	slog.Info("compaction finished", "path", s.path, "live", len(refs), "bytes", written)
	return nil
}

// writeCompacted streams one put record per live entry into tmp, buffering
// up to a chunk before each write.
func (s *Store[K, V]) writeCompacted(ctx context.Context, tmp *os.File, refs []liveRef) (int64, error) {
	var written int64
	buf := make([]byte, 0, maxChunkBytes/8)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		n, err := tmp.Write(buf)
		written += int64(n)
		if err != nil {
			return fmt.Errorf("write compacted log: %w", err)
		}
		buf = buf[:0]
		return nil
	}

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		val, err := s.readValue(entry{off: ref.off, size: ref.size})
		if err != nil {
			return written, err
		}
		buf = record.Append(buf, record.OpPut, ref.key, val)
		if len(buf) >= maxChunkBytes {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	return written, flush()
}
