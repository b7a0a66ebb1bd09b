// Package postgres provides a Postgres-backed document store. Documents live in
// a single JSONB table; filters use JSONB containment.
package postgres

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	sqldocs "nexurabuild/docs/schema/sql"
	"nexurabuild/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.DocumentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenDocumentStore defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/nexurabuild?sslmode=disable"

	uniqueViolation = "23505"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists documents to Postgres.
type Store struct {
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN)
// and ensures the documents table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, sqldocs.Postgres); err != nil {
		return fmt.Errorf("ensure documents table: %w", err)
	}
	return nil
}

func newID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// containment renders the non-identifier part of a filter as a JSONB document
// for the @> operator and returns the pinned identifier, if any.
func containment(filter domain.Filter) (string, string, error) {
	fields := make(map[string]string, len(filter))
	var id string
	for k, v := range filter {
		if k == domain.IDField {
			id = v
			continue
		}
		fields[k] = v
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", "", fmt.Errorf("encode filter: %w", err)
	}
	return string(raw), id, nil
}

// selector is the shared row selection clause; $1 collection, $2 containment, $3 id or ''.
const selector = `collection = $1 AND payload @> $2::jsonb AND ($3 = '' OR id = $3)`

// FindOne returns the first document matching filter in insertion order.
func (s *Store) FindOne(ctx context.Context, collection string, filter domain.Filter) (domain.Document, bool, error) {
	docs, err := s.Find(ctx, collection, filter, domain.FindOptions{Limit: 1})
	if err != nil {
		return nil, false, err
	}
	if len(docs) == 0 {
		return nil, false, nil
	}
	return docs[0], true, nil
}

// Find returns documents matching filter, honoring skip, limit and ordering.
func (s *Store) Find(ctx context.Context, collection string, filter domain.Filter, opts domain.FindOptions) ([]domain.Document, error) {
	contains, id, err := containment(filter)
	if err != nil {
		return nil, err
	}
	order := "ASC"
	if opts.Newest {
		order = "DESC"
	}
	var limit any
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	query := `SELECT payload FROM documents WHERE ` + selector + ` ORDER BY seq ` + order + ` LIMIT $4 OFFSET $5`
	rows, err := s.db.QueryContext(ctx, query, collection, contains, id, limit, opts.Skip)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]domain.Document, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		var doc domain.Document
		if err := json.Unmarshal(payload, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", collection, err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return out, nil
}

// Count returns the number of documents matching filter.
func (s *Store) Count(ctx context.Context, collection string, filter domain.Filter) (int64, error) {
	contains, id, err := containment(filter)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE `+selector, collection, contains, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

// InsertOne stores doc, assigning an identifier when absent.
func (s *Store) InsertOne(ctx context.Context, collection string, doc domain.Document) (domain.InsertResult, error) {
	stored := doc.Clone()
	if stored == nil {
		stored = domain.Document{}
	}
	id := stored.ID()
	if id == "" {
		id = newID()
		stored[domain.IDField] = id
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return domain.InsertResult{}, fmt.Errorf("encode %s: %w", collection, err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO documents(collection, id, payload) VALUES($1, $2, $3::jsonb)`, collection, id, string(payload)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.InsertResult{}, fmt.Errorf("%s %q: %w", collection, id, domain.ErrDuplicateKey)
		}
		return domain.InsertResult{}, fmt.Errorf("insert %s: %w", collection, err)
	}
	return domain.InsertResult{ID: id, Acknowledged: true}, nil
}

// UpdateOne merges patch into the first document matching filter. The target
// row is locked and the containment predicate re-checked, so concurrent
// conditional updates on the same document serialize.
func (s *Store) UpdateOne(ctx context.Context, collection string, filter domain.Filter, patch domain.Patch) (domain.UpdateResult, error) {
	contains, id, err := containment(filter)
	if err != nil {
		return domain.UpdateResult{}, err
	}
	fields := make(map[string]any, len(patch))
	for k, v := range patch {
		if k == domain.IDField {
			continue
		}
		fields[k] = v
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return domain.UpdateResult{}, fmt.Errorf("encode patch: %w", err)
	}
	query := `UPDATE documents SET payload = payload || $4::jsonb
		WHERE seq = (SELECT seq FROM documents WHERE ` + selector + ` ORDER BY seq LIMIT 1 FOR UPDATE)
		AND payload @> $2::jsonb`
	res, err := s.db.ExecContext(ctx, query, collection, contains, id, string(raw))
	if err != nil {
		return domain.UpdateResult{}, fmt.Errorf("update %s: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.UpdateResult{}, fmt.Errorf("update %s: %w", collection, err)
	}
	return domain.UpdateResult{MatchedCount: n, Acknowledged: true}, nil
}

// DeleteOne removes the first document matching filter.
func (s *Store) DeleteOne(ctx context.Context, collection string, filter domain.Filter) (domain.DeleteResult, error) {
	contains, id, err := containment(filter)
	if err != nil {
		return domain.DeleteResult{}, err
	}
	query := `DELETE FROM documents
		WHERE seq = (SELECT seq FROM documents WHERE ` + selector + ` ORDER BY seq LIMIT 1 FOR UPDATE)
		AND payload @> $2::jsonb`
	res, err := s.db.ExecContext(ctx, query, collection, contains, id)
	if err != nil {
		return domain.DeleteResult{}, fmt.Errorf("delete %s: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.DeleteResult{}, fmt.Errorf("delete %s: %w", collection, err)
	}
	return domain.DeleteResult{DeletedCount: n, Acknowledged: true}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
