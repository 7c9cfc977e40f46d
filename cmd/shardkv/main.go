// Command shardkv is an interactive shell over a sharded store: open a
// base path, then get/set/del/scan/compact it from a prompt. Useful for
// inspecting data files and exercising maintenance operations by hand.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/kballard/go-shellquote"

	"shardkv/pkg/codec"
	"shardkv/pkg/shard"
	"shardkv/pkg/store"
)

func main() {
	configPath := flag.String("config", "shardkv.yaml", "config file path")
	dataPath := flag.String("data", "", "shard base path (overrides config)")
	shards := flag.Int("shards", 0, "shard count (overrides config)")
	flag.Parse()

	cfg, err := initConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	initLogger(&cfg)

	if *dataPath != "" {
		cfg.Store.Path = *dataPath
	}
	if *shards > 0 {
		cfg.Store.Shards = *shards
	}

	db, err := shard.Open(cfg.Store.Path, cfg.Store.Shards, codec.String(), codec.StringValue(),
		store.Options{WriteThrough: cfg.Store.WriteThrough})
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	fmt.Printf("Opened %s (%d shards)\n", cfg.Store.Path, cfg.Store.Shards)
	fmt.Println("Type commands. 'help' for information or 'exit' to quit.")

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("> ")

		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println("input error:", err)
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") {
			return
		}

		args, err := shellquote.Split(line)
		if err != nil {
			fmt.Println("parse error:", err)
			continue
		}

		if err := run(db, args); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func run(db *shard.Sharded[string, string], args []string) error {
	switch strings.ToLower(args[0]) {
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: get <key>")
		}
		v, ok, err := db.Get(args[1])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("nil")
			return nil
		}
		fmt.Println(v)

	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: set <key> <value>")
		}
		if err := db.Put(args[1], args[2]); err != nil {
			return err
		}
		fmt.Println("ok")

	case "del":
		if len(args) != 2 {
			return fmt.Errorf("usage: del <key>")
		}
		removed, err := db.Delete(args[1])
		if err != nil {
			return err
		}
		fmt.Println(removed)

	case "count":
		fmt.Println(db.Count())

	case "scan":
		it := db.ScanLive()
		for it.Next() {
			fmt.Printf("%s = %s\n", it.Key(), it.Value())
		}
		if err := it.Err(); err != nil {
			return err
		}

	case "shard":
		if len(args) != 2 {
			return fmt.Errorf("usage: shard <key>")
		}
		fmt.Println(db.ShardIndex(args[1]))

	case "compact":
		if err := db.CompactAll(context.Background()); err != nil {
			return err
		}
		fmt.Println("ok")

	case "flush":
		if err := db.Flush(); err != nil {
			return err
		}
		fmt.Println("ok")

	case "help":
		fmt.Print(helpText)

	default:
		return fmt.Errorf("unknown command %q, try 'help'", args[0])
	}
	return nil
}

const helpText = `Available commands:

GET <key>          Print the value for a key, or nil.
SET <key> <value>  Store a value (quote values with spaces).
DEL <key>          Delete a key; prints whether a live key was removed.
COUNT              Number of live keys across all shards.
SCAN               Print every live key-value pair.
SHARD <key>        Print the shard index a key routes to.
COMPACT            Compact every shard.
FLUSH              Fsync every shard.
EXIT               Quit.
`
