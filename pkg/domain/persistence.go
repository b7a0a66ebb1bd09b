package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// IDField is the store-assigned identifier field present on every document.
const IDField = "_id"

// Document is a schemaless record as held by a DocumentStore. Values are the
// JSON-decoded forms (string, float64, bool, nested maps and slices).
type Document map[string]any

// ID returns the store-assigned identifier, or "" when unset.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return v
	}
}

// Filter selects documents by string equality on top-level fields. An empty
// filter matches every document in a collection.
type Filter map[string]string

// Matches reports whether doc satisfies every equality in the filter.
func (f Filter) Matches(doc Document) bool {
	for field, want := range f {
		got, ok := doc[field].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Patch sets top-level fields on a matched document.
type Patch map[string]any

// Apply writes the patch fields into doc. The identifier is never overwritten.
func (p Patch) Apply(doc Document) {
	for k, v := range p {
		if k == IDField {
			continue
		}
		doc[k] = cloneValue(v)
	}
}

// FindOptions controls ordering and paging of Find results. Results are in
// insertion order unless Newest is set.
type FindOptions struct {
	Skip   int
	Limit  int
	Newest bool
}

// InsertResult reports the outcome of InsertOne.
type InsertResult struct {
	ID           string `json:"insertedId"`
	Acknowledged bool   `json:"acknowledged"`
}

// UpdateResult reports the outcome of UpdateOne.
type UpdateResult struct {
	MatchedCount int64 `json:"matchedCount"`
	Acknowledged bool  `json:"acknowledged"`
}

// DeleteResult reports the outcome of DeleteOne.
type DeleteResult struct {
	DeletedCount int64 `json:"deletedCount"`
	Acknowledged bool  `json:"acknowledged"`
}

// ErrDuplicateKey is returned by InsertOne when the document identifier is taken.
var ErrDuplicateKey = errors.New("document store: duplicate key")

// DocumentStore is the per-collection record store consumed by the core. It
// offers no multi-document atomicity. UpdateOne and DeleteOne evaluate their
// filter and apply the write as one atomic step per document, so a filter that
// pins the current status acts as a compare-and-swap.
type DocumentStore interface {
	FindOne(ctx context.Context, collection string, filter Filter) (Document, bool, error)
	Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error)
	Count(ctx context.Context, collection string, filter Filter) (int64, error)
	InsertOne(ctx context.Context, collection string, doc Document) (InsertResult, error)
	UpdateOne(ctx context.Context, collection string, filter Filter, patch Patch) (UpdateResult, error)
	DeleteOne(ctx context.Context, collection string, filter Filter) (DeleteResult, error)
	Close() error
}

// ToDocument converts a typed record into its document form.
func ToDocument[T any](value T) (Document, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// FromDocument converts a document into a typed record.
func FromDocument[T any](doc Document) (T, error) {
	var out T
	raw, err := json.Marshal(doc)
	if err != nil {
		return out, fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}
