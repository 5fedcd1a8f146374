package storage

import (
	"encoding/json"
	"strings"
)

// Codec converts values to and from their stored string form.
type Codec interface {
	Marshal(v any) (string, error)
	Unmarshal(data string, v any) error
}

// JSONCodec stores values as JSON text.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (JSONCodec) Unmarshal(data string, v any) error {
	return json.Unmarshal([]byte(data), v)
}

// Load reads and decodes key. ok is false when the key is absent or holds a
// JSON null. Errors are *BackendError or *DeserializationError.
func Load[T any](b Backend, c Codec, key string) (value T, ok bool, err error) {
	var zero T
	raw, found, err := b.Get(key)
	if err != nil {
		return zero, false, wrapBackend("get", key, err)
	}
	if !found || strings.TrimSpace(raw) == "null" {
		return zero, false, nil
	}
	if err := c.Unmarshal(raw, &value); err != nil {
		return zero, false, &DeserializationError{Key: key, Raw: raw, Err: err}
	}
	return value, true, nil
}

// Save encodes v and writes it under key, returning the encoded form.
// Errors are *SerializationError or *BackendError.
func Save[T any](b Backend, c Codec, key string, v T) (string, error) {
	raw, err := c.Marshal(v)
	if err != nil {
		return "", &SerializationError{Key: key, Err: err}
	}
	if err := b.Set(key, raw); err != nil {
		return "", wrapBackend("set", key, err)
	}
	return raw, nil
}
