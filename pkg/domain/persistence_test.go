package domain

import (
	"testing"
	"time"
)

func TestFilterMatchesStringEquality(t *testing.T) {
	doc := Document{"status": "pending", "floor_no": float64(3), "apartment_no": "A-1"}
	cases := []struct {
		filter Filter
		want   bool
	}{
		{nil, true},
		{Filter{"status": "pending"}, true},
		{Filter{"status": "pending", "apartment_no": "A-1"}, true},
		{Filter{"status": "rented"}, false},
		{Filter{"floor_no": "3"}, false},
		{Filter{"missing": ""}, false},
	}
	for _, c := range cases {
		if got := c.filter.Matches(doc); got != c.want {
			t.Errorf("%v.Matches = %v, want %v", c.filter, got, c.want)
		}
	}
}

func TestPatchKeepsIdentifier(t *testing.T) {
	doc := Document{IDField: "abc", "status": "available"}
	Patch{IDField: "other", "status": "pending", "tags": []any{"x"}}.Apply(doc)
	if doc.ID() != "abc" || doc["status"] != "pending" {
		t.Fatalf("unexpected document %v", doc)
	}
}

func TestCloneIsDeep(t *testing.T) {
	doc := Document{"nested": map[string]any{"k": "v"}, "list": []any{"a"}}
	clone := doc.Clone()
	clone["nested"].(map[string]any)["k"] = "changed"
	clone["list"].([]any)[0] = "b"
	if doc["nested"].(map[string]any)["k"] != "v" || doc["list"].([]any)[0] != "a" {
		t.Fatalf("clone shares state with the original: %v", doc)
	}
	if Document(nil).Clone() != nil {
		t.Fatalf("nil clone must stay nil")
	}
}

func TestDocumentConversion(t *testing.T) {
	created := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	doc, err := ToDocument(User{ID: "u1", Email: "a@x.com", Role: RoleMember, CreatedAt: created})
	if err != nil {
		t.Fatalf("to document: %v", err)
	}
	if doc.ID() != "u1" || doc["role"] != "member" || doc["email"] != "a@x.com" {
		t.Fatalf("unexpected document %v", doc)
	}
	if _, ok := doc["photoURL"]; ok {
		t.Fatalf("empty optional fields must be omitted: %v", doc)
	}
	user, err := FromDocument[User](doc)
	if err != nil {
		t.Fatalf("from document: %v", err)
	}
	if user.Role != RoleMember || !user.CreatedAt.Equal(created) {
		t.Fatalf("unexpected user %+v", user)
	}
	if _, err := FromDocument[Apartment](Document{"floor_no": "three"}); err == nil {
		t.Fatalf("expected decode error for mistyped field")
	}
}
