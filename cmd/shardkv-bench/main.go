// Command shardkv-bench drives a synthetic workload against a sharded
// store and prints throughput: sequential batch loading, random point
// reads, and point writes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/zhangyunhao116/fastrand"

	"shardkv/pkg/codec"
	"shardkv/pkg/shard"
	"shardkv/pkg/store"
)

func main() {
	dir := flag.String("dir", "", "data directory (default: temp dir, removed afterwards)")
	shards := flag.Int("shards", 4, "shard count")
	n := flag.Int("n", 100_000, "number of keys")
	valueSize := flag.Int("value-size", 128, "value size in bytes")
	writeThrough := flag.Bool("write-through", false, "fsync every mutation")
	flag.Parse()

	dataDir := *dir
	if dataDir == "" {
		tmp, err := os.MkdirTemp("", "shardkv-bench-")
		if err != nil {
			log.Fatal(err)
		}
		defer os.RemoveAll(tmp)
		dataDir = tmp
	}

	db, err := shard.Open(dataDir+"/bench", *shards, codec.String(), codec.RawValue(),
		store.Options{WriteThrough: *writeThrough})
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	value := make([]byte, *valueSize)
	for i := range value {
		value[i] = byte(fastrand.Uint32())
	}

	pairs := make([]store.Pair[string, []byte], *n)
	for i := range pairs {
		pairs[i] = store.Pair[string, []byte]{Key: fmt.Sprintf("key%08d", i), Value: value}
	}

	start := time.Now()
	if err := db.PutBatch(ctx, pairs, true); err != nil {
		log.Fatal(err)
	}
	report("batch put", *n, time.Since(start))

	start = time.Now()
	for i := 0; i < *n; i++ {
		key := fmt.Sprintf("key%08d", fastrand.Intn(*n))
		if _, _, err := db.Get(key); err != nil {
			log.Fatal(err)
		}
	}
	report("random get", *n, time.Since(start))

	start = time.Now()
	for i := 0; i < *n/10; i++ {
		key := fmt.Sprintf("key%08d", fastrand.Intn(*n))
		if err := db.Put(key, value); err != nil {
			log.Fatal(err)
		}
	}
	report("point put", *n/10, time.Since(start))

	start = time.Now()
	if err := db.CompactAll(ctx); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%-10s %d keys in %v\n", "compact", db.Count(), time.Since(start))
}

func report(name string, ops int, d time.Duration) {
	fmt.Printf("%-10s %d ops in %v (%.0f ops/sec)\n", name, ops, d, float64(ops)/d.Seconds())
}
