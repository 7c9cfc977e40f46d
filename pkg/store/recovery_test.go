package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"shardkv/pkg/codec"
	"shardkv/pkg/record"
)

// recordBoundary returns the start offset of record n (0-based) in the log
// at path.
func recordBoundary(t *testing.T, path string, n int) int64 {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}

	r := record.NewReader(f, info.Size())
	for i := 0; i < n; i++ {
		if _, err := r.Next(); err != nil {
			t.Fatalf("log has fewer than %d records: %v", n, err)
		}
	}
	return r.Offset()
}

func TestRecoveryTruncatesTornTail(t *testing.T) {
	const total = 2000
	const torn = 1500

	path := filepath.Join(t.TempDir(), "kv.log")

	s, err := Open(path, codec.String(), codec.StringValue(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < total; i++ {
		if err := s.Put(fmt.Sprintf("k%04d", i), fmt.Sprintf("v%04d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Crash-simulate: cut the file a few bytes into the torn-th record.
	boundary := recordBoundary(t, path, torn)
	if err := os.Truncate(path, boundary+3); err != nil {
		t.Fatal(err)
	}

	s, err = Open(path, codec.String(), codec.StringValue(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	for i := 0; i < torn; i++ {
		v, ok, err := s.Get(fmt.Sprintf("k%04d", i))
		if err != nil {
			t.Fatal(err)
		}
		if !ok || v != fmt.Sprintf("v%04d", i) {
			t.Fatalf("k%04d: ok=%v v=%q, want the originally written value", i, ok, v)
		}
	}
	for i := torn; i < total; i++ {
		if _, ok, _ := s.Get(fmt.Sprintf("k%04d", i)); ok {
			t.Fatalf("k%04d survived past the truncation point", i)
		}
	}

	size, err := s.Size()
	if err != nil {
		t.Fatal(err)
	}
	if size != boundary {
		t.Fatalf("file length = %d, want the record boundary %d", size, boundary)
	}
}

func TestRecoveryOnePutThenGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.log")

	s, err := Open(path, codec.String(), codec.StringValue(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("k", "v"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	boundary := recordBoundary(t, path, 1)

	// Append garbage that reads as a torn record: an absurd length prefix.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte{0xff, 0xff, 0xff, 0xff, 0xde, 0xad, 0xbe, 0xef}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	s, err = Open(path, codec.String(), codec.StringValue(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	v, ok, err := s.Get("k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("get after recovery: v=%q ok=%v err=%v", v, ok, err)
	}

	size, err := s.Size()
	if err != nil {
		t.Fatal(err)
	}
	if size != boundary {
		t.Fatalf("file length = %d, want exactly one record (%d bytes)", size, boundary)
	}
}

func TestOpenFailsOnMidFileCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.log")

	s, err := Open(path, codec.String(), codec.StringValue(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("first", "value"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("second", "value"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Flip a byte in the first record's tail sentinel: the record is fully
	// present, so this is corruption, not a torn tail.
	boundary := recordBoundary(t, path, 1)
	f, err := os.OpenFile(path, os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0xff}, boundary-1); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if _, err := Open(path, codec.String(), codec.StringValue(), Options{}); !errors.Is(err, record.ErrCorrupt) {
		t.Fatalf("want ErrCorrupt from open, got %v", err)
	}
}

func TestRecoveryReplaysDeletes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.log")

	s, err := Open(path, codec.String(), codec.StringValue(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PutBatch(context.Background(), []Pair[string, string]{
		{"a", "1"}, {"b", "2"}, {"c", "3"},
	}, true); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Delete("b"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(path, codec.String(), codec.StringValue(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, ok, _ := s.Get("b"); ok {
		t.Fatal("deleted key resurrected by recovery")
	}
	if s.Count() != 2 {
		t.Fatalf("live count = %d, want 2", s.Count())
	}
}
