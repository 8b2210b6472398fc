package glacialcache

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// SerializerKind names one of the three recognized encode/decode
// strategies. It is recorded verbatim into the value_type column so
// readers can detect a mismatch between how a value was written and how
// the reader expects to decode it.
type SerializerKind string

const (
	SerializerBinaryPacked SerializerKind = "binary-packed"
	SerializerJSONBytes    SerializerKind = "json-bytes"
	SerializerCustom       SerializerKind = "custom"
)

// Serializer encodes and decodes values of type T for GetEntry/SetEntry.
// It is a value-typed strategy table, not a reflection-based codec: each
// call site picks a concrete Serializer for its T, so no runtime type
// switch or reflect.Value walk is involved.
type Serializer[T any] struct {
	Tag    SerializerKind
	Encode func(v T) ([]byte, error)
	Decode func(data []byte) (T, error)
}

// BinaryPacked returns a Serializer using encoding/gob, suitable for
// structs without custom marshaling. "Binary-packed" in the sense of the
// configuration option name; the encoding itself is gob.
func BinaryPacked[T any]() Serializer[T] {
	return Serializer[T]{
		Tag: SerializerBinaryPacked,
		Encode: func(v T) ([]byte, error) {
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(v); err != nil {
				return nil, fmt.Errorf("binary-packed encode: %w", err)
			}
			return buf.Bytes(), nil
		},
		Decode: func(data []byte) (T, error) {
			var v T
			if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
				return v, fmt.Errorf("binary-packed decode: %w", err)
			}
			return v, nil
		},
	}
}

// JSONBytes returns a Serializer using encoding/json.
func JSONBytes[T any]() Serializer[T] {
	return Serializer[T]{
		Tag: SerializerJSONBytes,
		Encode: func(v T) ([]byte, error) {
			data, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("json-bytes encode: %w", err)
			}
			return data, nil
		},
		Decode: func(data []byte) (T, error) {
			var v T
			if err := json.Unmarshal(data, &v); err != nil {
				return v, fmt.Errorf("json-bytes decode: %w", err)
			}
			return v, nil
		},
	}
}

// CustomSerializer wraps a caller-supplied encode/decode pair, tagged
// "custom" in value_type so readers can tell it apart from the two
// built-in strategies.
func CustomSerializer[T any](encode func(T) ([]byte, error), decode func([]byte) (T, error)) Serializer[T] {
	return Serializer[T]{Tag: SerializerCustom, Encode: encode, Decode: decode}
}
