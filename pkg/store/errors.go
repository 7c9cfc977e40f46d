package store

import "errors"

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("shardkv: store closed")

	// ErrShortRead means a value read at a recorded offset came back short.
	// It indicates drift between the index and the file and is fatal for
	// the store instance.
	ErrShortRead = errors.New("shardkv: short read at recorded offset")
)
