package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"nexurabuild/internal/blob"
	blobcore "nexurabuild/internal/blob/core"
	"nexurabuild/pkg/domain"
)

type metricsCall struct {
	op      string
	success bool
}

type captureMetrics struct {
	mu    sync.Mutex
	calls []metricsCall
}

func (c *captureMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	c.calls = append(c.calls, metricsCall{op: op, success: success})
	c.mu.Unlock()
}

func (c *captureMetrics) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureTracer struct {
	ended map[string]error
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

func (s *captureSpan) End(err error) { s.tracer.ended[s.op] = err }

func TestServiceObservabilityHooks(t *testing.T) {
	metrics := &captureMetrics{}
	tracer := &captureTracer{ended: map[string]error{}}
	f := newFixture(t, WithMetricsRecorder(metrics), WithTracer(tracer))
	f.seedApartments(t, "A-101")
	f.apply(t, "A-101", tenant.Email)
	_, err := f.svc.Apply(context.Background(), tenant, domain.Agreement{ApartmentNo: "A-101", UserEmail: tenant.Email})
	expectKind(t, err, KindConflict)

	if !metrics.has("apply_agreement", true) || !metrics.has("apply_agreement", false) {
		t.Fatalf("expected success and failure observations, got %+v", metrics.calls)
	}
	if _, ok := tracer.ended["apply_agreement"]; !ok {
		t.Fatalf("expected apply span")
	}
	if !f.logger.has("d:operation succeeded") || !f.logger.has("w:operation rejected") {
		t.Fatalf("expected debug and warn logs, got %v", f.logger.calls)
	}
}

func memoryArchive(t *testing.T) blobcore.Store {
	t.Helper()
	store, err := blob.Open(context.Background(), blob.Config{Driver: blob.DriverMemory})
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	return store
}

func TestAgreementArchive(t *testing.T) {
	archive := memoryArchive(t)
	f := newFixture(t, WithArchive(archive))
	f.seedApartments(t, "A-101")
	applied := f.apply(t, "A-101", tenant.Email)
	ctx := context.Background()
	if _, err := f.svc.Accept(ctx, admin, applied.Agreement.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.CancelByEmail(ctx, tenant, tenant.Email); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	entries, err := f.svc.AgreementArchive(ctx, tenant, tenant.Email)
	if err != nil {
		t.Fatalf("archive list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two archived events, got %+v", entries)
	}
	key := ArchiveKey(tenant.Email, applied.Agreement.ID, "accepted")
	_, rc, err := archive.Get(ctx, key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	defer func() { _ = rc.Close() }()
	body, _ := io.ReadAll(rc)
	var rec ArchiveRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("decode archive record: %v", err)
	}
	if rec.Event != "accepted" || rec.Agreement.Status != domain.AgreementAccepted {
		t.Fatalf("unexpected archive record %+v", rec)
	}

	_, err = f.svc.AgreementArchive(ctx, Caller{Email: "b@x.com"}, tenant.Email)
	expectKind(t, err, KindForbidden)
}

type failingArchive struct {
	blobcore.Store
}

func (failingArchive) Put(context.Context, string, io.Reader, blobcore.PutOptions) (blobcore.Info, error) {
	return blobcore.Info{}, errors.New("bucket unreachable")
}

func TestArchiveFailureDoesNotFailLifecycle(t *testing.T) {
	f := newFixture(t, WithArchive(failingArchive{Store: memoryArchive(t)}))
	f.seedApartments(t, "A-101")
	applied := f.apply(t, "A-101", tenant.Email)
	if _, err := f.svc.Accept(context.Background(), admin, applied.Agreement.ID); err != nil {
		t.Fatalf("accept must succeed despite archive failure: %v", err)
	}
	if !f.logger.has("w:agreement archive failed") {
		t.Fatalf("expected archive warning, got %v", f.logger.calls)
	}
}

func TestRegisterUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, created, err := f.svc.RegisterUser(ctx, domain.User{Email: "new@x.com", Name: "New", Role: domain.RoleAdmin})
	if err != nil || !created || res.ID == "" {
		t.Fatalf("expected created user, got %+v created=%v err=%v", res, created, err)
	}
	if got := f.user(t, "new@x.com"); got.Role != domain.RoleUser || !got.CreatedAt.Equal(frozenAt) {
		t.Fatalf("self-registration must not grant roles, got %+v", got)
	}
	if _, created, err := f.svc.RegisterUser(ctx, domain.User{Email: "new@x.com"}); err != nil || created {
		t.Fatalf("expected existing user to be reported, created=%v err=%v", created, err)
	}
	_, _, err = f.svc.RegisterUser(ctx, domain.User{})
	expectKind(t, err, KindValidation)

	isAdmin, err := f.svc.IsAdmin(ctx, admin.Email)
	if err != nil || !isAdmin {
		t.Fatalf("expected admin, got %v err=%v", isAdmin, err)
	}
	if isAdmin, _ := f.svc.IsAdmin(ctx, "new@x.com"); isAdmin {
		t.Fatalf("new user must not be admin")
	}
	_, err = f.svc.GetUser(ctx, "ghost@x.com")
	expectKind(t, err, KindNotFound)
}

func TestResolveCallerReadsRoleFromStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	got, err := f.svc.ResolveCaller(ctx, admin.Email)
	if err != nil || !got.Admin() {
		t.Fatalf("expected admin caller, got %+v err=%v", got, err)
	}
	got, err = f.svc.ResolveCaller(ctx, "stranger@x.com")
	if err != nil || got.Role != domain.RoleUser || got.Email != "stranger@x.com" {
		t.Fatalf("expected unregistered email to act as user, got %+v err=%v", got, err)
	}
	_, err = f.svc.ResolveCaller(ctx, "")
	expectKind(t, err, KindUnauthorized)
}

func TestMembersAndAgreementLookup(t *testing.T) {
	f := newFixture(t)
	f.seedApartments(t, "A-101")
	ctx := context.Background()
	_, err := f.svc.GetMember(ctx, tenant.Email)
	expectKind(t, err, KindNotFound)

	applied := f.apply(t, "A-101", tenant.Email)
	if _, err := f.svc.Accept(ctx, admin, applied.Agreement.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	members, err := f.svc.ListMembers(ctx)
	if err != nil || len(members) != 1 || members[0].Email != tenant.Email {
		t.Fatalf("expected one member, got %+v err=%v", members, err)
	}
	a, found, err := f.svc.AgreementFor(ctx, tenant.Email)
	if err != nil || !found || a.ApartmentNo != "A-101" {
		t.Fatalf("expected agreement for tenant, got %+v found=%v err=%v", a, found, err)
	}
	if _, found, _ := f.svc.AgreementFor(ctx, admin.Email); found {
		t.Fatalf("admin holds no agreement")
	}
}

func TestApartmentPaging(t *testing.T) {
	f := newFixture(t)
	f.seedApartments(t, "A-1", "A-2", "A-3", "A-4", "A-5")
	ctx := context.Background()
	page, err := f.svc.ListApartments(ctx, 1, 2)
	if err != nil || len(page) != 2 || page[0].ApartmentNo != "A-3" {
		t.Fatalf("unexpected page %+v err=%v", page, err)
	}
	_, err = f.svc.ListApartments(ctx, math.MaxInt/2+1, 2)
	expectKind(t, err, KindValidation)
	beyond, err := f.svc.ListApartments(ctx, 10, 2)
	if err != nil || len(beyond) != 0 {
		t.Fatalf("expected empty page past the end, got %+v err=%v", beyond, err)
	}
	all, err := f.svc.ListApartments(ctx, 0, 0)
	if err != nil || len(all) != 5 {
		t.Fatalf("expected all apartments, got %d err=%v", len(all), err)
	}
	n, err := f.svc.CountApartments(ctx)
	if err != nil || n != 5 {
		t.Fatalf("expected count 5, got %d err=%v", n, err)
	}
	got, err := f.svc.GetApartment(ctx, all[4].ID)
	if err != nil || got.ApartmentNo != "A-5" {
		t.Fatalf("get by id: %+v err=%v", got, err)
	}
	if created, err := f.svc.AddApartment(ctx, domain.Apartment{ApartmentNo: "A-1", Status: domain.ApartmentRented}); err != nil || created {
		t.Fatalf("duplicate apartment_no must be skipped, created=%v err=%v", created, err)
	}
}

func TestAnnouncementsCRUD(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.ListAnnouncements(ctx)
	expectKind(t, err, KindNotFound)

	first, err := f.svc.CreateAnnouncement(ctx, domain.Announcement{PostTitle: "Water off", Description: "Tuesday"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.CreateAnnouncement(ctx, domain.Announcement{PostTitle: "Lift repaired"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = f.svc.CreateAnnouncement(ctx, domain.Announcement{})
	expectKind(t, err, KindValidation)

	list, err := f.svc.ListAnnouncements(ctx)
	if err != nil || len(list) != 2 || list[0].PostTitle != "Lift repaired" {
		t.Fatalf("expected latest first, got %+v err=%v", list, err)
	}
	if list[1].PostDate != "2024-03-09" {
		t.Fatalf("expected default post date, got %q", list[1].PostDate)
	}
	if _, err := f.svc.UpdateAnnouncement(ctx, first.ID, domain.Announcement{PostTitle: "Water back", PostDate: "2024-03-10"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := f.svc.GetAnnouncement(ctx, first.ID)
	if err != nil || got.PostTitle != "Water back" {
		t.Fatalf("unexpected announcement %+v err=%v", got, err)
	}
	_, err = f.svc.UpdateAnnouncement(ctx, "missing", domain.Announcement{PostTitle: "x"})
	expectKind(t, err, KindNotFound)
	if res, err := f.svc.DeleteAnnouncement(ctx, first.ID); err != nil || res.DeletedCount != 1 {
		t.Fatalf("delete: %+v err=%v", res, err)
	}
	_, err = f.svc.DeleteAnnouncement(ctx, first.ID)
	expectKind(t, err, KindNotFound)
}

func TestCouponsCRUD(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.CreateCoupon(ctx, domain.Coupon{CouponTitle: "Spring", CouponCode: "SPRING10", Discount: 10})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = f.svc.CreateCoupon(ctx, domain.Coupon{CouponCode: "SPRING10", Discount: 5})
	expectKind(t, err, KindConflict)
	_, err = f.svc.CreateCoupon(ctx, domain.Coupon{CouponCode: "BAD", Discount: 150})
	expectKind(t, err, KindValidation)

	if _, err := f.svc.UpdateCoupon(ctx, res.ID, domain.Coupon{CouponTitle: "Spring", CouponCode: "SPRING15", Discount: 15}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := f.svc.GetCoupon(ctx, res.ID)
	if err != nil || got.CouponCode != "SPRING15" || got.Discount != 15 {
		t.Fatalf("unexpected coupon %+v err=%v", got, err)
	}
	// keeping the same code is not a clash with itself
	if _, err := f.svc.UpdateCoupon(ctx, res.ID, domain.Coupon{CouponTitle: "Spring", CouponCode: "SPRING15", Discount: 20}); err != nil {
		t.Fatalf("update same code: %v", err)
	}
	other, err := f.svc.CreateCoupon(ctx, domain.Coupon{CouponTitle: "Summer", CouponCode: "SUMMER50", Discount: 50})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	_, err = f.svc.UpdateCoupon(ctx, other.ID, domain.Coupon{CouponTitle: "Summer", CouponCode: "SPRING15", Discount: 50})
	expectKind(t, err, KindConflict)
	if n, err := f.mem.Count(ctx, string(domain.EntityCoupon), domain.Filter{"coupon_code": "SPRING15"}); err != nil || n != 1 {
		t.Fatalf("expected one coupon with code SPRING15, got %d err=%v", n, err)
	}
	if _, err := f.svc.DeleteCoupon(ctx, other.ID); err != nil {
		t.Fatalf("delete second: %v", err)
	}
	list, err := f.svc.ListCoupons(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one coupon, got %+v err=%v", list, err)
	}
	if _, err := f.svc.DeleteCoupon(ctx, res.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = f.svc.GetCoupon(ctx, res.ID)
	expectKind(t, err, KindNotFound)
}

type stubProcessor struct {
	amount   int64
	currency string
	err      error
}

func (p *stubProcessor) CreateIntent(_ context.Context, amount int64, currency string, _ map[string]string) (domain.PaymentIntent, error) {
	if p.err != nil {
		return domain.PaymentIntent{}, p.err
	}
	p.amount, p.currency = amount, currency
	return domain.PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret", Amount: amount, Currency: currency}, nil
}

func TestPayments(t *testing.T) {
	proc := &stubProcessor{}
	f := newFixture(t, WithPaymentProcessor(proc))
	f.seedApartments(t, "A-101")
	ctx := context.Background()
	if _, err := f.svc.CreateCoupon(ctx, domain.Coupon{CouponCode: "HALF", Discount: 50}); err != nil {
		t.Fatalf("coupon: %v", err)
	}

	intent, err := f.svc.CreatePaymentIntent(ctx, tenant, PaymentIntentRequest{Price: 1200.5, CouponCode: "HALF"})
	if err != nil {
		t.Fatalf("intent: %v", err)
	}
	if proc.amount != 60025 || proc.currency != DefaultCurrency || intent.ClientSecret != "pi_1_secret" {
		t.Fatalf("unexpected intent %+v (amount %d)", intent, proc.amount)
	}
	_, err = f.svc.CreatePaymentIntent(ctx, tenant, PaymentIntentRequest{Price: 100, CouponCode: "NOPE"})
	expectKind(t, err, KindNotFound)
	_, err = f.svc.CreatePaymentIntent(ctx, tenant, PaymentIntentRequest{Price: -1})
	expectKind(t, err, KindValidation)

	_, err = f.svc.RecordPayment(ctx, tenant, domain.Payment{Amount: 600.25, Month: "March"})
	expectKind(t, err, KindForbidden)

	applied := f.apply(t, "A-101", tenant.Email)
	if _, err := f.svc.Accept(ctx, admin, applied.Agreement.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	member := Caller{Email: tenant.Email, Role: domain.RoleUser}
	for _, month := range []string{"March", "April"} {
		if _, err := f.svc.RecordPayment(ctx, member, domain.Payment{Email: "spoof@x.com", Amount: 600.25, Month: month, TransactionID: "tx-" + month}); err != nil {
			t.Fatalf("record %s: %v", month, err)
		}
	}
	history, err := f.svc.PaymentHistory(ctx, member, tenant.Email)
	if err != nil || len(history) != 2 {
		t.Fatalf("expected two payments, got %+v err=%v", history, err)
	}
	if history[0].Month != "April" || history[0].Email != tenant.Email || history[0].ApartmentNo != "A-101" {
		t.Fatalf("unexpected newest payment %+v", history[0])
	}
	_, err = f.svc.PaymentHistory(ctx, Caller{Email: "b@x.com"}, tenant.Email)
	expectKind(t, err, KindForbidden)

	proc.err = errors.New("processor down")
	_, err = f.svc.CreatePaymentIntent(ctx, tenant, PaymentIntentRequest{Price: 10})
	expectKind(t, err, KindStoreUnavailable)
}

func TestAuditReportsInjectedInconsistency(t *testing.T) {
	f := newFixture(t)
	f.seedApartments(t, "A-101", "A-102")
	ctx := context.Background()
	// bypass the engine to produce a broken state
	if _, err := f.svc.Records().Apartments.Update(ctx, domain.Filter{"apartment_no": "A-102"}, domain.Patch{"status": "rented"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := f.svc.Records().Users.Update(ctx, domain.Filter{"email": tenant.Email}, domain.Patch{"role": "member"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	res, err := f.svc.Audit(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	rules := map[string]bool{}
	for _, v := range res.Violations {
		rules[v.Rule] = true
	}
	if !rules["apartment_occupancy"] || !rules["member_role"] {
		t.Fatalf("expected occupancy and role violations, got %+v", res.Violations)
	}
	for _, v := range res.Violations {
		if strings.Contains(v.Message, "A-101") {
			t.Fatalf("A-101 is consistent, got %+v", v)
		}
	}
}
