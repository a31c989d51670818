// Package docstore defines the document store contract the lending services
// persist through, plus helpers shared by its implementations.
//
// A document is any value that encodes to a JSON object. Every stored document
// carries a string "id" together with "created_at" and "updated_at" stamps
// written by the store itself.
package docstore

import (
	"context"
	"errors"
)

// Reserved document fields maintained by every Store implementation.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

var (
	ErrNotFound          = errors.New("document not found")
	ErrDuplicateID       = errors.New("duplicate document id")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrInvalidField      = errors.New("invalid field name")
	ErrUnavailable       = errors.New("document store unavailable")
)

// Store is a collection-oriented document store with single-document
// atomicity. Implementations must be safe for concurrent use.
type Store interface {
	// InsertOne stores doc and returns its id. A missing id is generated; an
	// id that is already taken fails with ErrDuplicateID.
	InsertOne(ctx context.Context, collection string, doc any) (string, error)

	// FindOne decodes the first document matching filter into out.
	// Returns ErrNotFound when nothing matches.
	FindOne(ctx context.Context, collection string, filter Filter, out any) error

	// Find returns a single-pass cursor over matching documents.
	Find(ctx context.Context, collection string, filter Filter, opts ...FindOption) (Cursor, error)

	// UpdateOne applies update to the first document matching filter and
	// reports how many documents matched (0 or 1). The match and the write
	// happen atomically, so a filter can act as a guard.
	UpdateOne(ctx context.Context, collection string, filter Filter, update Update) (int64, error)

	// DeleteOne removes the first document matching filter and reports how
	// many documents were deleted (0 or 1).
	DeleteOne(ctx context.Context, collection string, filter Filter) (int64, error)

	// Collections lists the collection names known to the store.
	Collections(ctx context.Context) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// Update describes the mutation applied by UpdateOne. Set replaces field
// values, Inc adds to numeric fields. "updated_at" is always stamped.
type Update struct {
	Set map[string]any
	Inc map[string]int
}

// Cursor iterates a result set once. It cannot be rewound.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(out any) error
	Err() error
	Close(ctx context.Context) error
}

// SortField orders results by a document field.
type SortField struct {
	Field string
	Desc  bool
}

// FindOptions collects the options passed to Find.
type FindOptions struct {
	Sort  []SortField
	Limit int
}

// FindOption configures a Find call.
type FindOption func(*FindOptions)

// SortAsc orders results by field, ascending.
func SortAsc(field string) FindOption {
	return func(o *FindOptions) {
		o.Sort = append(o.Sort, SortField{Field: field})
	}
}

// SortDesc orders results by field, descending.
func SortDesc(field string) FindOption {
	return func(o *FindOptions) {
		o.Sort = append(o.Sort, SortField{Field: field, Desc: true})
	}
}

// Limit caps the number of results. Zero means no limit.
func Limit(n int) FindOption {
	return func(o *FindOptions) {
		o.Limit = n
	}
}

// ApplyFindOptions folds opts into a FindOptions value.
func ApplyFindOptions(opts ...FindOption) FindOptions {
	var o FindOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Collect drains cur into a slice of T and closes it.
func Collect[T any](ctx context.Context, cur Cursor) ([]T, error) {
	defer cur.Close(ctx)

	out := make([]T, 0)
	for cur.Next(ctx) {
		var v T
		if err := cur.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
