// Package codec defines the key and value codecs the storage engine is
// polymorphic over. A key codec fixes the wire form of a key, its equality
// relation and a 64-bit hash that is stable across processes and platforms,
// so the shard a key routes to never changes between runs.
package codec

import "errors"

var (
	// ErrNoCodec is returned by KeyFor when no built-in key codec exists
	// for the requested type. ValueFor never fails: it falls back to JSON.
	ErrNoCodec = errors.New("shardkv: no default codec for type")

	// ErrBadEncoding is returned by Decode when the byte form is not a
	// valid encoding for the codec's key type.
	ErrBadEncoding = errors.New("shardkv: malformed key encoding")
)

// Key converts keys of type K to and from their byte form.
//
// Encode and Decode must be inverses. Hash64 must be deterministic across
// runs and platforms; it may not depend on process state or host endianness.
type Key[K any] interface {
	Encode(k K) []byte
	Decode(b []byte) (K, error)
	Equal(a, b K) bool
	Hash64(k K) uint64
}

// Value converts values of type V to and from their byte form.
type Value[V any] interface {
	Marshal(v V) ([]byte, error)
	Unmarshal(b []byte) (V, error)
}
