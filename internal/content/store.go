package content

import "context"

// ListOptions narrows and orders a FetchAll call.
type ListOptions struct {
	// Filters are matched by equality; nil or empty string values are ignored.
	Filters map[string]any
	// OrderBy names a field (createdAt, updatedAt, id or a payload field).
	OrderBy    string
	Descending bool
	// Limit <= 0 means no limit. Offset applies after ordering.
	Limit  int
	Offset int
}

// Store is the generic keyed-collection contract implemented by both the
// remote backend and the local fallback. Implementations stamp
// CreatedAt/UpdatedAt themselves and perform hard deletes.
type Store interface {
	Create(ctx context.Context, kind Kind, fields Fields) (Record, error)
	FetchAll(ctx context.Context, kind Kind, opts ListOptions) ([]Record, error)
	FetchByID(ctx context.Context, kind Kind, id string) (Record, error)
	Update(ctx context.Context, kind Kind, id string, fields Fields) (Record, error)
	Delete(ctx context.Context, kind Kind, id string) error
	// Search performs a case-insensitive substring match across the given
	// payload fields; a record matches if any field contains the term.
	Search(ctx context.Context, kind Kind, term string, fields []string) ([]Record, error)
}
