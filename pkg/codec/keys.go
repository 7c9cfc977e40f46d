package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// String returns the key codec for UTF-8 string keys. FNV-1a hashing.
func String() Key[string] { return stringKey{} }

type stringKey struct{}

func (stringKey) Encode(k string) []byte { return []byte(k) }

func (stringKey) Decode(b []byte) (string, error) { return string(b), nil }

func (stringKey) Equal(a, b string) bool { return a == b }

func (stringKey) Hash64(k string) uint64 { return fnv1a64String(k) }

// Bytes returns the key codec for raw byte-sequence keys. FNV-1a hashing.
func Bytes() Key[[]byte] { return bytesKey{} }

type bytesKey struct{}

func (bytesKey) Encode(k []byte) []byte { return k }

func (bytesKey) Decode(b []byte) ([]byte, error) {
	// Copy so callers never alias a buffer owned by the store.
	return append([]byte(nil), b...), nil
}

func (bytesKey) Equal(a, b []byte) bool { return bytes.Equal(a, b) }

func (bytesKey) Hash64(k []byte) uint64 { return fnv1a64(k) }

// GUID returns the key codec for 128-bit GUID keys. The wire form is the
// 16-byte little-endian GUID layout: the three leading fields are
// byte-swapped, the trailing eight bytes are verbatim. FNV-1a hashing over
// the wire form.
func GUID() Key[uuid.UUID] { return guidKey{} }

type guidKey struct{}

func (guidKey) Encode(k uuid.UUID) []byte {
	b := make([]byte, 16)
	b[0], b[1], b[2], b[3] = k[3], k[2], k[1], k[0]
	b[4], b[5] = k[5], k[4]
	b[6], b[7] = k[7], k[6]
	copy(b[8:], k[8:])
	return b
}

func (guidKey) Decode(b []byte) (uuid.UUID, error) {
	var k uuid.UUID
	if len(b) != 16 {
		return k, fmt.Errorf("%w: GUID needs 16 bytes, got %d", ErrBadEncoding, len(b))
	}
	k[0], k[1], k[2], k[3] = b[3], b[2], b[1], b[0]
	k[4], k[5] = b[5], b[4]
	k[6], k[7] = b[7], b[6]
	copy(k[8:], b[8:])
	return k, nil
}

func (guidKey) Equal(a, b uuid.UUID) bool { return a == b }

func (g guidKey) Hash64(k uuid.UUID) uint64 { return fnv1a64(g.Encode(k)) }

// Int64 returns the key codec for 64-bit signed integer keys, encoded as
// 8 little-endian bytes. Knuth multiplicative hashing.
func Int64() Key[int64] { return int64Key{} }

type int64Key struct{}

func (int64Key) Encode(k int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(k))
	return b
}

func (int64Key) Decode(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: int64 needs 8 bytes, got %d", ErrBadEncoding, len(b))
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (int64Key) Equal(a, b int64) bool { return a == b }

func (int64Key) Hash64(k int64) uint64 { return uint64(k) * knuth64 }
