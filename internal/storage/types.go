package storage

import "fmt"

// Kind names which of the two backing stores a key belongs to.
type Kind string

const (
	// KindLocal is shared by every context and survives restarts.
	KindLocal Kind = "local"
	// KindSession is scoped to a single context.
	KindSession Kind = "session"
)

// ParseKind maps an area name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindLocal, KindSession:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown storage area %q", s)
	}
}

// Handle identifies one concrete store. Two handles are the same store iff
// they compare equal.
type Handle struct {
	Kind Kind
	ID   string
}

func (h Handle) String() string {
	return string(h.Kind) + ":" + h.ID
}

// ChangeEvent describes a mutation made to a store by some context. A nil Key
// means the whole store was cleared.
type ChangeEvent struct {
	Seq      int64
	Key      *string
	OldValue *string
	NewValue *string
	Area     *Handle
	Origin   string
}

// Backend is a synchronous string key/value store.
type Backend interface {
	// Get returns the raw stored value; ok is false when the key is absent.
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	// Delete removes key. Removing an absent key is not an error.
	Delete(key string) error
	Clear() error
	Keys() ([]string, error)
	Handle() Handle
}

func strPtr(s string) *string { return &s }
