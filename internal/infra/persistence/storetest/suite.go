// Package storetest provides a conformance suite shared by every
// domain.DocumentStore backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"nexurabuild/pkg/domain"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) domain.DocumentStore

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, store domain.DocumentStore)
	}{
		{"InsertAssignsID", testInsertAssignsID},
		{"InsertDuplicateID", testInsertDuplicateID},
		{"FindOneFilters", testFindOneFilters},
		{"FindOrderingAndPaging", testFindOrderingAndPaging},
		{"UpdateCompareAndSwap", testUpdateCompareAndSwap},
		{"DeleteOne", testDeleteOne},
		{"ConcurrentCompareAndSwap", testConcurrentCompareAndSwap},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(t)
			t.Cleanup(func() { _ = store.Close() })
			tc.fn(t, store)
		})
	}
}

func testInsertAssignsID(t *testing.T, store domain.DocumentStore) {
	ctx := context.Background()
	res, err := store.InsertOne(ctx, "apartment", domain.Document{"apartment_no": "A-101", "status": "available", "rent": 1200.5})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if res.ID == "" || !res.Acknowledged {
		t.Fatalf("expected acknowledged insert with id, got %+v", res)
	}
	doc, ok, err := store.FindOne(ctx, "apartment", domain.Filter{domain.IDField: res.ID})
	if err != nil || !ok {
		t.Fatalf("find inserted: ok=%v err=%v", ok, err)
	}
	if doc["apartment_no"] != "A-101" {
		t.Fatalf("unexpected document %v", doc)
	}
	if rent, _ := doc["rent"].(float64); rent != 1200.5 {
		t.Fatalf("expected numeric rent to round-trip, got %v", doc["rent"])
	}
}

func testInsertDuplicateID(t *testing.T, store domain.DocumentStore) {
	ctx := context.Background()
	if _, err := store.InsertOne(ctx, "agreements", domain.Document{domain.IDField: "fixed", "status": "pending"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := store.InsertOne(ctx, "agreements", domain.Document{domain.IDField: "fixed", "status": "pending"})
	if !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
	// identifiers are scoped per collection
	if _, err := store.InsertOne(ctx, "users", domain.Document{domain.IDField: "fixed"}); err != nil {
		t.Fatalf("insert into other collection: %v", err)
	}
}

func testFindOneFilters(t *testing.T, store domain.DocumentStore) {
	ctx := context.Background()
	for _, no := range []string{"A-1", "A-2", "A-3"} {
		if _, err := store.InsertOne(ctx, "apartment", domain.Document{"apartment_no": no, "status": "available"}); err != nil {
			t.Fatalf("insert %s: %v", no, err)
		}
	}
	doc, ok, err := store.FindOne(ctx, "apartment", domain.Filter{"apartment_no": "A-2", "status": "available"})
	if err != nil || !ok {
		t.Fatalf("find A-2: ok=%v err=%v", ok, err)
	}
	if doc["apartment_no"] != "A-2" {
		t.Fatalf("wrong document %v", doc)
	}
	if _, ok, err := store.FindOne(ctx, "apartment", domain.Filter{"apartment_no": "A-2", "status": "rented"}); err != nil || ok {
		t.Fatalf("expected no match for rented A-2, ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.FindOne(ctx, "missing_collection", domain.Filter{}); err != nil || ok {
		t.Fatalf("expected empty collection miss, ok=%v err=%v", ok, err)
	}
	n, err := store.Count(ctx, "apartment", domain.Filter{"status": "available"})
	if err != nil || n != 3 {
		t.Fatalf("expected count 3, got %d err=%v", n, err)
	}
}

func testFindOrderingAndPaging(t *testing.T, store domain.DocumentStore) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := store.InsertOne(ctx, "announcements", domain.Document{"post_title": fmt.Sprintf("t%d", i)}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	all, err := store.Find(ctx, "announcements", nil, domain.FindOptions{})
	if err != nil || len(all) != 5 {
		t.Fatalf("expected 5 documents, got %d err=%v", len(all), err)
	}
	if all[0]["post_title"] != "t0" || all[4]["post_title"] != "t4" {
		t.Fatalf("expected insertion order, got %v .. %v", all[0], all[4])
	}
	newest, err := store.Find(ctx, "announcements", nil, domain.FindOptions{Newest: true, Limit: 2})
	if err != nil || len(newest) != 2 {
		t.Fatalf("expected 2 newest, got %d err=%v", len(newest), err)
	}
	if newest[0]["post_title"] != "t4" || newest[1]["post_title"] != "t3" {
		t.Fatalf("unexpected newest ordering %v", newest)
	}
	page, err := store.Find(ctx, "announcements", nil, domain.FindOptions{Skip: 2, Limit: 2})
	if err != nil || len(page) != 2 || page[0]["post_title"] != "t2" {
		t.Fatalf("unexpected page %v err=%v", page, err)
	}
}

func testUpdateCompareAndSwap(t *testing.T, store domain.DocumentStore) {
	ctx := context.Background()
	if _, err := store.InsertOne(ctx, "apartment", domain.Document{"apartment_no": "B-7", "status": "available"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	res, err := store.UpdateOne(ctx, "apartment", domain.Filter{"apartment_no": "B-7", "status": "available"}, domain.Patch{"status": "pending"})
	if err != nil || res.MatchedCount != 1 || !res.Acknowledged {
		t.Fatalf("expected matched update, got %+v err=%v", res, err)
	}
	res, err = store.UpdateOne(ctx, "apartment", domain.Filter{"apartment_no": "B-7", "status": "available"}, domain.Patch{"status": "pending"})
	if err != nil || res.MatchedCount != 0 || !res.Acknowledged {
		t.Fatalf("expected stale swap to match nothing, got %+v err=%v", res, err)
	}
	doc, _, _ := store.FindOne(ctx, "apartment", domain.Filter{"apartment_no": "B-7"})
	if doc["status"] != "pending" {
		t.Fatalf("expected pending, got %v", doc["status"])
	}
	if _, err := store.UpdateOne(ctx, "apartment", domain.Filter{"apartment_no": "B-7"}, domain.Patch{domain.IDField: "hijack", "block_name": "B"}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	doc, _, _ = store.FindOne(ctx, "apartment", domain.Filter{"apartment_no": "B-7"})
	if doc.ID() == "hijack" || doc["block_name"] != "B" {
		t.Fatalf("patch must not replace the identifier: %v", doc)
	}
}

func testDeleteOne(t *testing.T, store domain.DocumentStore) {
	ctx := context.Background()
	ins, err := store.InsertOne(ctx, "agreements", domain.Document{"apartment_no": "C-1", "status": "pending"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	res, err := store.DeleteOne(ctx, "agreements", domain.Filter{domain.IDField: ins.ID, "status": "accepted"})
	if err != nil || res.DeletedCount != 0 {
		t.Fatalf("expected guarded delete to miss, got %+v err=%v", res, err)
	}
	res, err = store.DeleteOne(ctx, "agreements", domain.Filter{domain.IDField: ins.ID})
	if err != nil || res.DeletedCount != 1 || !res.Acknowledged {
		t.Fatalf("expected delete, got %+v err=%v", res, err)
	}
	res, err = store.DeleteOne(ctx, "agreements", domain.Filter{domain.IDField: ins.ID})
	if err != nil || res.DeletedCount != 0 {
		t.Fatalf("expected second delete to miss, got %+v err=%v", res, err)
	}
}

func testConcurrentCompareAndSwap(t *testing.T, store domain.DocumentStore) {
	ctx := context.Background()
	if _, err := store.InsertOne(ctx, "apartment", domain.Document{"apartment_no": "D-4", "status": "available"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.UpdateOne(ctx, "apartment", domain.Filter{"apartment_no": "D-4", "status": "available"}, domain.Patch{"status": "pending"})
			if err != nil {
				t.Errorf("update: %v", err)
				return
			}
			if res.MatchedCount == 1 {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one successful swap, got %d", winners)
	}
}
