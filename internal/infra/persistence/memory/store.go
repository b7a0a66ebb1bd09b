// Package memory provides an in-memory implementation of the document store
// used for tests and ephemeral environments.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"nexurabuild/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.DocumentStore = (*Store)(nil)

type (
	// Document aliases domain.Document for in-memory persistence operations.
	Document = domain.Document
	// Filter aliases domain.Filter.
	Filter = domain.Filter
	// Patch aliases domain.Patch.
	Patch = domain.Patch
)

type collection struct {
	docs  map[string]Document
	order []string
}

func newCollection() *collection {
	return &collection{docs: make(map[string]Document)}
}

func (c *collection) remove(id string) {
	delete(c.docs, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// ids returns document identifiers in the requested order.
func (c *collection) ids(newest bool) []string {
	out := make([]string, len(c.order))
	if !newest {
		copy(out, c.order)
		return out
	}
	for i, id := range c.order {
		out[len(c.order)-1-i] = id
	}
	return out
}

// Snapshot captures a point-in-time clone of every collection, in insertion order.
type Snapshot map[string][]Document

// Store keeps documents in process memory. Every write holds the store lock
// for the full match-and-apply step, which gives UpdateOne and DeleteOne their
// compare-and-swap semantics.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{collections: make(map[string]*collection)}
}

func (s *Store) newID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

func (s *Store) collection(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = newCollection()
		s.collections[name] = c
	}
	return c
}

func (s *Store) first(name string, filter Filter) (*collection, string, bool) {
	c, ok := s.collections[name]
	if !ok {
		return nil, "", false
	}
	if id, pinned := filter[domain.IDField]; pinned {
		doc, ok := c.docs[id]
		if !ok || !filter.Matches(doc) {
			return c, "", false
		}
		return c, id, true
	}
	for _, id := range c.order {
		if filter.Matches(c.docs[id]) {
			return c, id, true
		}
	}
	return c, "", false
}

// FindOne returns the first document matching filter in insertion order.
func (s *Store) FindOne(ctx context.Context, name string, filter Filter) (Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, id, ok := s.first(name, filter)
	if !ok {
		return nil, false, nil
	}
	return c.docs[id].Clone(), true, nil
}

// Find returns every document matching filter, honoring skip, limit and ordering.
func (s *Store) Find(ctx context.Context, name string, filter Filter, opts domain.FindOptions) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return []Document{}, nil
	}
	out := make([]Document, 0)
	skipped := 0
	for _, id := range c.ids(opts.Newest) {
		doc := c.docs[id]
		if !filter.Matches(doc) {
			continue
		}
		if skipped < opts.Skip {
			skipped++
			continue
		}
		out = append(out, doc.Clone())
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// Count returns the number of documents matching filter.
func (s *Store) Count(ctx context.Context, name string, filter Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, doc := range c.docs {
		if filter.Matches(doc) {
			n++
		}
	}
	return n, nil
}

// InsertOne stores doc, assigning an identifier when absent.
func (s *Store) InsertOne(ctx context.Context, name string, doc Document) (domain.InsertResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.InsertResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(name)
	stored := doc.Clone()
	if stored == nil {
		stored = Document{}
	}
	id := stored.ID()
	if id == "" {
		id = s.newID()
		stored[domain.IDField] = id
	}
	if _, exists := c.docs[id]; exists {
		return domain.InsertResult{}, fmt.Errorf("%s %q: %w", name, id, domain.ErrDuplicateKey)
	}
	c.docs[id] = stored
	c.order = append(c.order, id)
	return domain.InsertResult{ID: id, Acknowledged: true}, nil
}

// UpdateOne applies patch to the first document matching filter.
func (s *Store) UpdateOne(ctx context.Context, name string, filter Filter, patch Patch) (domain.UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.UpdateResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, id, ok := s.first(name, filter)
	if !ok {
		return domain.UpdateResult{Acknowledged: true}, nil
	}
	updated := c.docs[id].Clone()
	patch.Apply(updated)
	c.docs[id] = updated
	return domain.UpdateResult{MatchedCount: 1, Acknowledged: true}, nil
}

// DeleteOne removes the first document matching filter.
func (s *Store) DeleteOne(ctx context.Context, name string, filter Filter) (domain.DeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.DeleteResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, id, ok := s.first(name, filter)
	if !ok {
		return domain.DeleteResult{Acknowledged: true}, nil
	}
	c.remove(id)
	return domain.DeleteResult{DeletedCount: 1, Acknowledged: true}, nil
}

// ExportState clones the current store contents. Tests compare snapshots to
// assert that failed operations left no net change.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Snapshot, len(s.collections))
	for name, c := range s.collections {
		docs := make([]Document, 0, len(c.order))
		for _, id := range c.order {
			docs = append(docs, c.docs[id].Clone())
		}
		out[name] = docs
	}
	return out
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }
