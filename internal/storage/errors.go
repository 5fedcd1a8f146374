package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded is returned when a write would push a store over its byte quota.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// BackendError reports a failure of the store itself.
type BackendError struct {
	Op  string
	Key string
	Err error
}

func (e *BackendError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Key == "" {
		return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *BackendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// SerializationError reports a value that could not be encoded.
type SerializationError struct {
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("storage: encode %q: %v", e.Key, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// DeserializationError reports stored bytes that do not decode into the
// requested type.
type DeserializationError struct {
	Key string
	Raw string
	Err error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("storage: decode %q: %v", e.Key, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// AttributionMismatchError reports a change event whose key matches but whose
// store does not. It is a naming collision, not corruption.
type AttributionMismatchError struct {
	Key  string
	Want Handle
	Got  *Handle
}

func (e *AttributionMismatchError) Error() string {
	got := "<none>"
	if e.Got != nil {
		got = e.Got.String()
	}
	return fmt.Sprintf("storage: event for %q came from %s, expected %s", e.Key, got, e.Want)
}

func wrapBackend(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Op: op, Key: key, Err: err}
}
