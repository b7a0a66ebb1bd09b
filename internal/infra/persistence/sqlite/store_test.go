package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"nexurabuild/internal/infra/persistence/storetest"
	"nexurabuild/pkg/domain"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.DocumentStore {
		store, err := NewStore(filepath.Join(t.TempDir(), "nexura.db"))
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		return store
	})
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "nexura.db")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.InsertOne(ctx, "users", domain.Document{"email": "a@x.com", "role": "member"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	doc, ok, err := reopened.FindOne(ctx, "users", domain.Filter{"email": "a@x.com"})
	if err != nil || !ok {
		t.Fatalf("find after reopen: ok=%v err=%v", ok, err)
	}
	if doc["role"] != "member" {
		t.Fatalf("unexpected role %v", doc["role"])
	}
	if reopened.Path() != path {
		t.Fatalf("unexpected path %s", reopened.Path())
	}
}

func TestWhereRejectsUnsafeFields(t *testing.T) {
	if _, _, err := where("users", domain.Filter{"email') OR 1=1 --": "x"}); err == nil {
		t.Fatalf("expected invalid field to be rejected")
	}
	pred, args, err := where("users", domain.Filter{"role": "member", domain.IDField: "abc"})
	if err != nil {
		t.Fatalf("where: %v", err)
	}
	if !strings.Contains(pred, "id = ?") || !strings.Contains(pred, "'$.role'") {
		t.Fatalf("unexpected predicate %s", pred)
	}
	if len(args) != 3 || args[0] != "users" {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestFilterDoesNotMatchNonStringValues(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(filepath.Join(t.TempDir(), "nexura.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	if _, err := store.InsertOne(ctx, "apartment", domain.Document{"floor_no": 3.0}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, ok, err := store.FindOne(ctx, "apartment", domain.Filter{"floor_no": "3"}); err != nil || ok {
		t.Fatalf("numeric field must not match a string filter, ok=%v err=%v", ok, err)
	}
}
