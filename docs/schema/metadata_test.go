package schema

import "testing"

func TestAPIMetadata(t *testing.T) {
	got, err := APIMetadata()
	if err != nil {
		t.Fatalf("APIMetadata: %v", err)
	}
	if got.Title != "NexuraBuild API" {
		t.Fatalf("unexpected title %q", got.Title)
	}
	if got.Version == "" {
		t.Fatal("expected non-empty API version")
	}
}
