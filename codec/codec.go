// Package codec implements the canonical byte encoding shared by wire
// messages and persisted records. Encoding is deterministic: integers are
// fixed-width little-endian, variable-length data carries a u32 length
// prefix, and struct fields are walked in declaration order.
package codec

import (
	"bytes"
	"fmt"
)

// Encode serializes the given object using the canonical encoding rules.
func Encode(obj interface{}) ([]byte, error) {
	buffer := bytes.NewBuffer(nil)
	encoder := NewEncoder(buffer)

	err := encoder.Encode(obj)
	if err != nil {
		return nil, fmt.Errorf("encoding failed: %w", err)
	}

	return buffer.Bytes(), nil
}

// MustEncode runs Encode and panics on error. Reserved for types that are
// statically known to encode.
func MustEncode(obj interface{}) []byte {
	b, err := Encode(obj)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode deserializes the given byte slice into the object pointed to by typ.
func Decode(inp []byte, typ interface{}) error {
	decoder := NewDecoder(bytes.NewReader(inp))

	err := decoder.Decode(typ)
	if err != nil {
		return fmt.Errorf("decoding failed: %w", err)
	}

	return nil
}

// Marshaler is the interface for custom canonical marshalling for a given type
type Marshaler interface {
	MarshalCanonical() ([]byte, error)
}
