package content

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies one of the fixed domain record categories.
type Kind string

const (
	KindNews        Kind = "news"
	KindProducer    Kind = "producer"
	KindService     Kind = "service"
	KindPartnership Kind = "partnership"
	KindResource    Kind = "resource"
	KindEvent       Kind = "event"
	KindMessage     Kind = "message"
	KindProfile     Kind = "profile"
)

// Kinds lists every known entity kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindNews, KindProducer, KindService, KindPartnership,
		KindResource, KindEvent, KindMessage, KindProfile,
	}
}

// ParseKind validates a kind string supplied by a caller.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// Fields is the canonical camelCase payload of a record. List-valued fields
// (products, tags) hold []string after normalization.
type Fields map[string]any

// Clone returns a shallow copy so callers cannot mutate stored state.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Record is the generic shape shared by every entity kind. The backing store
// owns the authoritative copy; values returned from a store are copies.
type Record struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Fields    Fields    `json:"fields"`

	// Degraded lists columns the remote backend no longer carries; the
	// record is usable but incomplete (see SchemaDrift handling in store/pg).
	Degraded []string `json:"degraded,omitempty"`
}

// Status returns the record's status field, or "" when absent.
func (r Record) Status() string {
	s, _ := r.Fields["status"].(string)
	return s
}

var (
	ErrNotFound    = errors.New("content: not found")
	ErrInvalidKind = errors.New("content: invalid kind")
)

// TransportError wraps a failure of the remote backend call itself. The store
// surfaces it raw; fallback decisions belong to the layer above.
type TransportError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("content: %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UploadError indicates the file upload collaborator failed before the record
// write was attempted.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string { return fmt.Sprintf("content: upload: %v", e.Err) }

func (e *UploadError) Unwrap() error { return e.Err }
