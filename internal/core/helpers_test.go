package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"nexurabuild/internal/infra/persistence/memory"
	"nexurabuild/pkg/domain"
)

var (
	admin    = Caller{Email: "admin@x.com", Role: domain.RoleAdmin}
	tenant   = Caller{Email: "a@x.com", Role: domain.RoleUser}
	frozenAt = time.Date(2024, 3, 9, 15, 4, 5, 0, time.UTC)
)

func frozenClock() Clock { return ClockFunc(func() time.Time { return frozenAt }) }

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (l *captureLogger) record(level, msg string) {
	l.mu.Lock()
	l.calls = append(l.calls, level+":"+msg)
	l.mu.Unlock()
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.record("d", msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.record("i", msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.record("w", msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.record("e", msg) }

func (l *captureLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.calls {
		if c == entry {
			return true
		}
	}
	return false
}

// faultStore wraps a DocumentStore and fails selected writes.
type faultStore struct {
	domain.DocumentStore
	mu sync.Mutex
	// failUpdate is consulted before every UpdateOne; a non-nil error aborts the write.
	failUpdate func(collection string, filter domain.Filter, patch domain.Patch) error
	failDelete func(collection string, filter domain.Filter) error
	failInsert func(collection string, doc domain.Document) error
	// unacked reports writes the store drops and answers with Acknowledged false.
	unacked func(collection string) bool
	writes  int
}

var errInjected = errors.New("injected transport failure")

func (f *faultStore) InsertOne(ctx context.Context, collection string, doc domain.Document) (domain.InsertResult, error) {
	f.mu.Lock()
	hook, drop := f.failInsert, f.unacked
	f.writes++
	f.mu.Unlock()
	if hook != nil {
		if err := hook(collection, doc); err != nil {
			return domain.InsertResult{}, err
		}
	}
	if drop != nil && drop(collection) {
		return domain.InsertResult{}, nil
	}
	return f.DocumentStore.InsertOne(ctx, collection, doc)
}

func (f *faultStore) UpdateOne(ctx context.Context, collection string, filter domain.Filter, patch domain.Patch) (domain.UpdateResult, error) {
	f.mu.Lock()
	hook, drop := f.failUpdate, f.unacked
	f.writes++
	f.mu.Unlock()
	if hook != nil {
		if err := hook(collection, filter, patch); err != nil {
			return domain.UpdateResult{}, err
		}
	}
	if drop != nil && drop(collection) {
		return domain.UpdateResult{}, nil
	}
	return f.DocumentStore.UpdateOne(ctx, collection, filter, patch)
}

func (f *faultStore) DeleteOne(ctx context.Context, collection string, filter domain.Filter) (domain.DeleteResult, error) {
	f.mu.Lock()
	hook, drop := f.failDelete, f.unacked
	f.writes++
	f.mu.Unlock()
	if hook != nil {
		if err := hook(collection, filter); err != nil {
			return domain.DeleteResult{}, err
		}
	}
	if drop != nil && drop(collection) {
		return domain.DeleteResult{}, nil
	}
	return f.DocumentStore.DeleteOne(ctx, collection, filter)
}

func (f *faultStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

type fixture struct {
	svc    *Service
	store  *faultStore
	mem    *memory.Store
	logger *captureLogger
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	mem := memory.NewStore()
	store := &faultStore{DocumentStore: mem}
	logger := &captureLogger{}
	opts = append([]Option{WithLogger(logger), WithClock(frozenClock())}, opts...)
	f := &fixture{svc: NewService(store, opts...), store: store, mem: mem, logger: logger}
	f.seedUser(t, admin.Email, domain.RoleAdmin)
	f.seedUser(t, tenant.Email, domain.RoleUser)
	return f
}

// state snapshots every collection for before/after comparisons.
func (f *fixture) state() memory.Snapshot { return f.mem.ExportState() }

func (f *fixture) seedUser(t *testing.T, email string, role domain.Role) {
	t.Helper()
	if _, err := f.svc.SeedUser(context.Background(), domain.User{Email: email, Name: email, Role: role}); err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
}

func (f *fixture) seedApartments(t *testing.T, numbers ...string) {
	t.Helper()
	for i, no := range numbers {
		if _, err := f.svc.AddApartment(context.Background(), domain.Apartment{ApartmentNo: no, FloorNo: i + 1, BlockName: "A", Rent: 1000 + float64(i)}); err != nil {
			t.Fatalf("seed apartment %s: %v", no, err)
		}
	}
}

func (f *fixture) apartment(t *testing.T, no string) domain.Apartment {
	t.Helper()
	apt, ok, err := f.svc.Records().Apartments.Get(context.Background(), domain.Filter{"apartment_no": no})
	if err != nil || !ok {
		t.Fatalf("apartment %s: ok=%v err=%v", no, ok, err)
	}
	return apt
}

func (f *fixture) user(t *testing.T, email string) domain.User {
	t.Helper()
	u, ok, err := f.svc.Records().Users.Get(context.Background(), domain.Filter{"email": email})
	if err != nil || !ok {
		t.Fatalf("user %s: ok=%v err=%v", email, ok, err)
	}
	return u
}

func (f *fixture) agreements(t *testing.T) []domain.Agreement {
	t.Helper()
	out, err := f.svc.Records().Agreements.List(context.Background(), nil, domain.FindOptions{})
	if err != nil {
		t.Fatalf("list agreements: %v", err)
	}
	return out
}

// apply submits an application for email on apartment no as that user.
func (f *fixture) apply(t *testing.T, no, email string) ApplyResult {
	t.Helper()
	res, err := f.svc.Apply(context.Background(), Caller{Email: email, Role: domain.RoleUser}, domain.Agreement{ApartmentNo: no, UserEmail: email})
	if err != nil {
		t.Fatalf("apply %s for %s: %v", no, email, err)
	}
	return res
}

func (f *fixture) assertConsistent(t *testing.T) {
	t.Helper()
	res, err := f.svc.Audit(context.Background())
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if res.HasBlocking() {
		t.Fatalf("expected consistent records, got %+v", res.Violations)
	}
}

func expectKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

func failOn(collection string) func(string, domain.Filter, domain.Patch) error {
	return func(c string, _ domain.Filter, _ domain.Patch) error {
		if c == collection {
			return fmt.Errorf("%s: %w", c, errInjected)
		}
		return nil
	}
}

func only(collection domain.EntityType) func(string) bool {
	return func(c string) bool { return c == string(collection) }
}

func userFixture(email string) domain.User {
	return domain.User{Email: email, Name: email, Role: domain.RoleUser}
}
