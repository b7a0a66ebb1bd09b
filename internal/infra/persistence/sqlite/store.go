// Package sqlite provides a durable document store on an embedded SQLite file.
package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	sqldocs "nexurabuild/docs/schema/sql"
	"nexurabuild/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.DocumentStore = (*Store)(nil)

const defaultPath = "nexura.db"

// Store keeps every collection in a single documents table with JSON payloads.
// Conditional writes are single UPDATE/DELETE statements whose target row is
// selected by the filter inside the same statement, so SQLite's write lock
// makes match-and-apply atomic across processes.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the SQLite database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(sqldocs.SQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func newID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// where renders the filter as a SQL predicate plus its arguments.
func where(collection string, filter domain.Filter) (string, []any, error) {
	clauses := []string{"collection = ?"}
	args := []any{collection}
	fields := make([]string, 0, len(filter))
	for field := range filter {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if field == domain.IDField {
			clauses = append(clauses, "id = ?")
			args = append(args, filter[field])
			continue
		}
		if !fieldName.MatchString(field) {
			return "", nil, fmt.Errorf("invalid filter field %q", field)
		}
		clauses = append(clauses, fmt.Sprintf("json_type(payload, '$.%s') = 'text' AND json_extract(payload, '$.%s') = ?", field, field))
		args = append(args, filter[field])
	}
	return strings.Join(clauses, " AND "), args, nil
}

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
	pred, args, err := where(collection, filter)
	if err != nil {
		return nil, err
	}
	order := "ASC"
	if opts.Newest {
		order = "DESC"
	}
	limit := -1
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	query := fmt.Sprintf(`SELECT payload FROM documents WHERE %s ORDER BY seq %s LIMIT ? OFFSET ?`, pred, order)
	args = append(args, limit, opts.Skip)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]domain.Document, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		var doc domain.Document
		if err := json.Unmarshal([]byte(payload), &doc); err != nil {
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
	pred, args, err := where(collection, filter)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE `+pred, args...).Scan(&n); err != nil {
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
	if _, err := s.db.ExecContext(ctx, `INSERT INTO documents(collection, id, payload) VALUES(?, ?, ?)`, collection, id, string(payload)); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.InsertResult{}, fmt.Errorf("%s %q: %w", collection, id, domain.ErrDuplicateKey)
		}
		return domain.InsertResult{}, fmt.Errorf("insert %s: %w", collection, err)
	}
	return domain.InsertResult{ID: id, Acknowledged: true}, nil
}

// UpdateOne merges patch into the first document matching filter.
func (s *Store) UpdateOne(ctx context.Context, collection string, filter domain.Filter, patch domain.Patch) (domain.UpdateResult, error) {
	pred, args, err := where(collection, filter)
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
	query := fmt.Sprintf(`UPDATE documents SET payload = json_patch(payload, ?)
		WHERE seq = (SELECT seq FROM documents WHERE %s ORDER BY seq LIMIT 1)`, pred)
	res, err := s.db.ExecContext(ctx, query, append([]any{string(raw)}, args...)...)
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
	pred, args, err := where(collection, filter)
	if err != nil {
		return domain.DeleteResult{}, err
	}
	query := fmt.Sprintf(`DELETE FROM documents WHERE seq = (SELECT seq FROM documents WHERE %s ORDER BY seq LIMIT 1)`, pred)
	res, err := s.db.ExecContext(ctx, query, args...)
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

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
