package codec

import "encoding/json"

// RawValue returns the pass-through codec for byte-sequence values.
func RawValue() Value[[]byte] { return rawValue{} }

type rawValue struct{}

func (rawValue) Marshal(v []byte) ([]byte, error) { return v, nil }

func (rawValue) Unmarshal(b []byte) ([]byte, error) {
	return append([]byte(nil), b...), nil
}

// StringValue returns the codec for UTF-8 string values.
func StringValue() Value[string] { return stringValue{} }

type stringValue struct{}

func (stringValue) Marshal(v string) ([]byte, error) { return []byte(v), nil }

func (stringValue) Unmarshal(b []byte) (string, error) { return string(b), nil }

// JSONValue returns a codec that stores values of any type T as JSON.
func JSONValue[T any]() Value[T] { return jsonValue[T]{} }

type jsonValue[T any] struct{}

func (jsonValue[T]) Marshal(v T) ([]byte, error) { return json.Marshal(v) }

func (jsonValue[T]) Unmarshal(b []byte) (T, error) {
	var v T
	err := json.Unmarshal(b, &v)
	return v, err
}
