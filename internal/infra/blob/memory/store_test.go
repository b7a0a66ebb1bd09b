package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"nexurabuild/internal/blob/blobtest"
	"nexurabuild/internal/blob/core"
)

func TestStoreConformance(t *testing.T) {
	blobtest.Run(t, New())
}

func TestPutRejectsEmptyKey(t *testing.T) {
	if _, err := New().Put(context.Background(), "", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestReturnedInfoIsDetached(t *testing.T) {
	s := New()
	fixed := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()
	meta := map[string]string{"event": "accepted"}
	info, err := s.Put(ctx, "agreements/a.json", strings.NewReader("{}"), core.PutOptions{Metadata: meta})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !info.LastModified.Equal(fixed) {
		t.Fatalf("expected clock time, got %v", info.LastModified)
	}
	meta["event"] = "tampered"
	info.Metadata["event"] = "tampered"
	head, err := s.Head(ctx, "agreements/a.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Metadata["event"] != "accepted" {
		t.Fatalf("stored metadata was mutated: %+v", head.Metadata)
	}
	_, rc, _ := s.Get(ctx, "agreements/a.json")
	body, _ := io.ReadAll(rc)
	if string(body) != "{}" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().List(ctx, ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
