package shard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shardkv/pkg/codec"
	"shardkv/pkg/store"
)

func openSharded(t *testing.T, base string, shards int) *Sharded[string, string] {
	t.Helper()

	s, err := Open(base, shards, codec.String(), codec.StringValue(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesShardFiles(t *testing.T) {
	base := filepath.Join(t.TempDir(), "data", "kv")

	openSharded(t, base, 4)

	for i := 0; i < 4; i++ {
		path := fmt.Sprintf("%s.shard%02d.log", base, i)
		_, err := os.Stat(path)
		assert.NoError(t, err, "shard file %s missing", path)
		assert.Equal(t, path, Path(base, i))
	}
}

func TestOpenRejectsBadShardCount(t *testing.T) {
	base := filepath.Join(t.TempDir(), "kv")

	_, err := Open(base, 0, codec.String(), codec.StringValue(), store.Options{})
	assert.Error(t, err)
	_, err = Open(base, -3, codec.String(), codec.StringValue(), store.Options{})
	assert.Error(t, err)
}

func TestRoutingIsStableAcrossReopen(t *testing.T) {
	base := filepath.Join(t.TempDir(), "data", "kv")
	ctx := context.Background()
	kc := codec.String()

	s := openSharded(t, base, 4)

	pairs := make([]store.Pair[string, string], 1000)
	for i := range pairs {
		pairs[i] = store.Pair[string, string]{
			Key:   fmt.Sprintf("key%04d", i),
			Value: fmt.Sprintf("%d", i),
		}
	}
	require.NoError(t, s.PutBatch(ctx, pairs, true))
	require.Equal(t, 1000, s.Count())

	// Every key lives in exactly the shard its hash names, and no other.
	for _, p := range pairs {
		want := int(kc.Hash64(p.Key) % 4)
		assert.Equal(t, want, s.ShardIndex(p.Key))

		for i := 0; i < 4; i++ {
			_, ok, err := s.Shard(i).Get(p.Key)
			require.NoError(t, err)
			assert.Equal(t, i == want, ok, "key %q in shard %d", p.Key, i)
		}
	}

	require.NoError(t, s.Close())

	// Reopening with the same shard count finds the same live set.
	s = openSharded(t, base, 4)
	assert.Equal(t, 1000, s.Count())
	for _, p := range pairs[:50] {
		v, ok, err := s.Get(p.Key)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, p.Value, v)
	}
}

func TestPointOpsAcrossShards(t *testing.T) {
	s := openSharded(t, filepath.Join(t.TempDir(), "kv"), 3)

	require.NoError(t, s.Put("a", "1"))
	require.NoError(t, s.Put("b", "2"))

	v, ok, err := s.Get("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	removed, err := s.Delete("a")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Delete("a")
	require.NoError(t, err)
	assert.False(t, removed)

	_, ok, err = s.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, s.Count())
}

func TestDeleteBatchAcrossShards(t *testing.T) {
	s := openSharded(t, filepath.Join(t.TempDir(), "kv"), 4)
	ctx := context.Background()

	pairs := make([]store.Pair[string, string], 100)
	keys := make([]string, 0, 50)
	for i := range pairs {
		pairs[i] = store.Pair[string, string]{Key: fmt.Sprintf("k%03d", i), Value: "v"}
		if i%2 == 0 {
			keys = append(keys, fmt.Sprintf("k%03d", i))
		}
	}
	require.NoError(t, s.PutBatch(ctx, pairs, true))
	require.NoError(t, s.DeleteBatch(ctx, keys, true))

	assert.Equal(t, 50, s.Count())
	for i := 0; i < 100; i++ {
		_, ok, err := s.Get(fmt.Sprintf("k%03d", i))
		require.NoError(t, err)
		assert.Equal(t, i%2 == 1, ok)
	}
}

func TestScanAndSnapshotAcrossShards(t *testing.T) {
	s := openSharded(t, filepath.Join(t.TempDir(), "kv"), 4)
	ctx := context.Background()

	want := map[string]string{}
	var pairs []store.Pair[string, string]
	for i := 0; i < 200; i++ {
		k, v := fmt.Sprintf("k%03d", i), fmt.Sprintf("v%03d", i)
		pairs = append(pairs, store.Pair[string, string]{Key: k, Value: v})
		want[k] = v
	}
	require.NoError(t, s.PutBatch(ctx, pairs, true))

	got := map[string]string{}
	it := s.ScanLive()
	for it.Next() {
		got[it.Key()] = it.Value()
	}
	require.NoError(t, it.Err())
	assert.Equal(t, want, got)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, len(want), snap.Len())
	for k, v := range want {
		sv, ok := snap.Get(k)
		assert.True(t, ok)
		assert.Equal(t, v, sv)
	}
}

func TestCompactAllPreservesLiveSet(t *testing.T) {
	base := filepath.Join(t.TempDir(), "kv")
	ctx := context.Background()

	s := openSharded(t, base, 4)

	var pairs []store.Pair[string, string]
	for i := 0; i < 300; i++ {
		pairs = append(pairs, store.Pair[string, string]{Key: fmt.Sprintf("k%03d", i), Value: "v1"})
	}
	require.NoError(t, s.PutBatch(ctx, pairs, true))
	// Overwrite and delete to make garbage for every shard.
	require.NoError(t, s.PutBatch(ctx, pairs[:150], true))
	var dead []string
	for i := 150; i < 300; i++ {
		dead = append(dead, fmt.Sprintf("k%03d", i))
	}
	require.NoError(t, s.DeleteBatch(ctx, dead, true))

	sizeBefore := totalSize(t, s)
	require.NoError(t, s.CompactAll(ctx))
	sizeAfter := totalSize(t, s)

	assert.Less(t, sizeAfter, sizeBefore, "compaction must shrink the shard files")
	assert.Equal(t, 150, s.Count())
	for i := 0; i < 150; i++ {
		v, ok, err := s.Get(fmt.Sprintf("k%03d", i))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v1", v)
	}
}

func totalSize(t *testing.T, s *Sharded[string, string]) int64 {
	t.Helper()

	var total int64
	for i := 0; i < s.ShardCount(); i++ {
		size, err := s.Shard(i).Size()
		require.NoError(t, err)
		total += size
	}
	return total
}

func TestSeedTruncateAcrossShards(t *testing.T) {
	s := openSharded(t, filepath.Join(t.TempDir(), "kv"), 4)
	ctx := context.Background()

	require.NoError(t, s.Put("old", "junk"))

	pairs := []store.Pair[string, string]{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}
	require.NoError(t, s.Seed(ctx, pairs, true))

	assert.Equal(t, 2, s.Count())
	_, ok, err := s.Get("old")
	require.NoError(t, err)
	assert.False(t, ok, "seed with truncate clears every shard")
}

func TestInt64KeysRouteDeterministically(t *testing.T) {
	base := filepath.Join(t.TempDir(), "kv")

	s, err := Open[int64, string](base, 8, codec.Int64(), codec.StringValue(), store.Options{})
	require.NoError(t, err)
	defer s.Close()

	kc := codec.Int64()
	for i := int64(0); i < 100; i++ {
		require.NoError(t, s.Put(i, "v"))
		assert.Equal(t, int(kc.Hash64(i)%8), s.ShardIndex(i))
	}
	assert.Equal(t, 100, s.Count())
}
