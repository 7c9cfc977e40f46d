package codec

import "github.com/google/uuid"

// KeyFor returns the built-in key codec for K, or ErrNoCodec when K has no
// default. Callers with their own key types supply a codec instead.
func KeyFor[K any]() (Key[K], error) {
	var zero K
	switch any(zero).(type) {
	case string:
		return any(String()).(Key[K]), nil
	case []byte:
		return any(Bytes()).(Key[K]), nil
	case uuid.UUID:
		return any(GUID()).(Key[K]), nil
	case int64:
		return any(Int64()).(Key[K]), nil
	}
	return nil, ErrNoCodec
}

// ValueFor returns the built-in value codec for V. Strings and byte slices
// get their dedicated codecs; every other type falls back to JSON.
func ValueFor[V any]() Value[V] {
	var zero V
	switch any(zero).(type) {
	case string:
		return any(StringValue()).(Value[V])
	case []byte:
		return any(RawValue()).(Value[V])
	}
	return JSONValue[V]()
}
