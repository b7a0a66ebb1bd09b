// Package blobtest holds the behaviour every archive driver must share.
package blobtest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"nexurabuild/internal/blob/core"
)

// Run exercises store with agreement archive style keys.
func Run(t *testing.T, store core.Store) {
	t.Helper()
	ctx := context.Background()
	accepted := "agreements/tenant@example.com/ag-1-accepted.json"
	cancelled := "agreements/tenant@example.com/ag-1-cancelled.json"
	other := "agreements/other@example.com/ag-2-accepted.json"

	info, err := store.Put(ctx, accepted, strings.NewReader(`{"event":"accepted"}`), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"event": "accepted"},
	})
	if err != nil {
		t.Fatalf("put accepted: %v", err)
	}
	if info.Key != accepted || info.Size != int64(len(`{"event":"accepted"}`)) {
		t.Fatalf("unexpected put info %+v", info)
	}
	for _, key := range []string{cancelled, other} {
		if _, err := store.Put(ctx, key, strings.NewReader(`{}`), core.PutOptions{ContentType: "application/json"}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	if _, err := store.Put(ctx, accepted, strings.NewReader(`{}`), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists on rewrite, got %v", err)
	}

	got, rc, err := store.Get(ctx, accepted)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"event":"accepted"}` {
		t.Fatalf("unexpected body %q", body)
	}
	if got.ContentType != "application/json" || got.Metadata["event"] != "accepted" {
		t.Fatalf("attributes lost: %+v", got)
	}

	entries, err := store.List(ctx, "agreements/tenant@example.com/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].Key != accepted || entries[1].Key != cancelled {
		t.Fatalf("expected the tenant's two entries in key order, got %+v", entries)
	}
	if none, err := store.List(ctx, "agreements/nobody@example.com/"); err != nil || len(none) != 0 {
		t.Fatalf("expected empty listing, got %+v err=%v", none, err)
	}

	if _, err := store.Head(ctx, "agreements/missing.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
	if _, _, err := store.Get(ctx, "agreements/missing.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}

	removed, err := store.Delete(ctx, other)
	if err != nil || !removed {
		t.Fatalf("expected delete to report removal, removed=%v err=%v", removed, err)
	}
	removed, err = store.Delete(ctx, other)
	if err != nil || removed {
		t.Fatalf("expected second delete to be a no-op, removed=%v err=%v", removed, err)
	}
}
