package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"nexurabuild/internal/adapters/httpapi"
	"nexurabuild/internal/auth"
	"nexurabuild/internal/blob"
	"nexurabuild/internal/core"
	"nexurabuild/internal/observability"
	"nexurabuild/internal/payments"
	"nexurabuild/pkg/domain"
)

const (
	adminEmail  = "admin@nexura.test"
	tenantEmail = "a@x.com"
	otherEmail  = "b@x.com"
	webOrigin   = "http://localhost:5173"
)

var frozenAt = time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)

type server struct {
	svc     *core.Service
	issuer  *auth.Issuer
	handler http.Handler
}

func newServer(t *testing.T, opts ...httpapi.Option) *server {
	t.Helper()
	archive, err := blob.Open(context.Background(), blob.Config{Driver: blob.DriverMemory})
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	svc := core.NewInMemoryService(
		core.WithClock(core.ClockFunc(func() time.Time { return frozenAt })),
		core.WithArchive(archive),
		core.WithPaymentProcessor(payments.NewDevProcessor()),
	)
	t.Cleanup(func() { _ = svc.Close() })
	issuer, err := auth.NewIssuer("test-secret", auth.WithClock(func() time.Time { return frozenAt }))
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	ctx := context.Background()
	for email, role := range map[string]domain.Role{adminEmail: domain.RoleAdmin, tenantEmail: domain.RoleUser, otherEmail: domain.RoleUser} {
		if _, err := svc.SeedUser(ctx, domain.User{Email: email, Name: email, Role: role}); err != nil {
			t.Fatalf("seed %s: %v", email, err)
		}
	}
	for i, no := range []string{"A-101", "A-102", "B-201"} {
		if _, err := svc.AddApartment(ctx, domain.Apartment{ApartmentNo: no, FloorNo: i + 1, BlockName: no[:1], Rent: 1200.5}); err != nil {
			t.Fatalf("seed apartment: %v", err)
		}
	}
	h := httpapi.NewHandler(svc, issuer, append([]httpapi.Option{
		httpapi.WithMetrics(observability.NewMetrics(false)),
		httpapi.WithCORSOrigins(webOrigin),
	}, opts...)...)
	return &server{svc: svc, issuer: issuer, handler: h}
}

func (s *server) token(t *testing.T, email string) string {
	t.Helper()
	tok, err := s.issuer.Issue(auth.Identity{Email: email})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

// do sends a request as email; an empty email sends no token.
func (s *server) do(t *testing.T, method, path, email string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if email != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, email))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func TestAgreementLifecycleRoutes(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/apply-agreement", tenantEmail, map[string]any{"apartment_no": "A-101", "userEmail": tenantEmail})
	expectStatus(t, rec, http.StatusOK)
	applied := decodeBody[core.ApplyResult](t, rec)
	if applied.Apartment.Status != domain.ApartmentPending || applied.Agreement.Status != domain.AgreementPending {
		t.Fatalf("unexpected apply result %+v", applied)
	}

	rec = s.do(t, http.MethodPut, "/accept-agreement/"+applied.Agreement.ID, adminEmail, nil)
	expectStatus(t, rec, http.StatusOK)
	accepted := decodeBody[domain.Agreement](t, rec)
	if accepted.Status != domain.AgreementAccepted || accepted.AgreementAcceptDate != "2024-03-09" {
		t.Fatalf("unexpected accepted agreement %+v", accepted)
	}

	rec = s.do(t, http.MethodGet, "/members/"+tenantEmail, tenantEmail, nil)
	expectStatus(t, rec, http.StatusOK)
	if m := decodeBody[domain.User](t, rec); m.Role != domain.RoleMember {
		t.Fatalf("expected member role, got %+v", m)
	}

	rec = s.do(t, http.MethodGet, "/member-agreement?email="+tenantEmail, tenantEmail, nil)
	expectStatus(t, rec, http.StatusOK)
	if a := decodeBody[domain.Agreement](t, rec); a.ID != applied.Agreement.ID {
		t.Fatalf("unexpected member agreement %+v", a)
	}

	rec = s.do(t, http.MethodDelete, "/cancel-agreement/A-101", tenantEmail, nil)
	expectStatus(t, rec, http.StatusOK)
	cancelled := decodeBody[core.CancelResult](t, rec)
	if cancelled.Apartment.Status != domain.ApartmentAvailable || cancelled.Deleted.DeletedCount != 1 {
		t.Fatalf("unexpected cancel result %+v", cancelled)
	}

	rec = s.do(t, http.MethodDelete, "/cancel-agreement/A-101", tenantEmail, nil)
	expectStatus(t, rec, http.StatusNotFound)

	rec = s.do(t, http.MethodGet, "/member-agreement?email="+tenantEmail, tenantEmail, nil)
	expectStatus(t, rec, http.StatusOK)
	if strings.TrimSpace(rec.Body.String()) != "null" {
		t.Fatalf("expected null agreement, got %s", rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/agreement-archive?email="+tenantEmail, tenantEmail, nil)
	expectStatus(t, rec, http.StatusOK)
	if entries := decodeBody[[]blob.Info](t, rec); len(entries) != 2 {
		t.Fatalf("expected accepted and cancelled archive entries, got %+v", entries)
	}

	rec = s.do(t, http.MethodGet, "/admin/consistency", adminEmail, nil)
	expectStatus(t, rec, http.StatusOK)
	if report := decodeBody[map[string]any](t, rec); report["blocking"] != false {
		t.Fatalf("expected consistent store, got %v", report)
	}
}

func TestMemberCancelAndRemoveMemberRoutes(t *testing.T) {
	s := newServer(t)
	for _, tc := range []struct{ email, apt string }{{tenantEmail, "A-101"}, {otherEmail, "A-102"}} {
		rec := s.do(t, http.MethodPost, "/apply-agreement", tc.email, map[string]any{"apartment_no": tc.apt, "userEmail": tc.email})
		expectStatus(t, rec, http.StatusOK)
		id := decodeBody[core.ApplyResult](t, rec).Agreement.ID
		expectStatus(t, s.do(t, http.MethodPut, "/accept-agreement/"+id, adminEmail, nil), http.StatusOK)
	}

	rec := s.do(t, http.MethodDelete, "/member-cancel-agreement?email="+tenantEmail, tenantEmail, nil)
	expectStatus(t, rec, http.StatusOK)
	if res := decodeBody[domain.DeleteResult](t, rec); res.DeletedCount != 1 {
		t.Fatalf("unexpected delete result %+v", res)
	}

	rec = s.do(t, http.MethodPut, "/delete-member/"+otherEmail, tenantEmail, nil)
	expectStatus(t, rec, http.StatusForbidden)

	rec = s.do(t, http.MethodPut, "/delete-member/"+otherEmail, adminEmail, nil)
	expectStatus(t, rec, http.StatusOK)
	if u := decodeBody[domain.User](t, rec); u.Role != domain.RoleUser {
		t.Fatalf("expected demoted user, got %+v", u)
	}

	rec = s.do(t, http.MethodPut, "/delete-member/"+otherEmail, adminEmail, nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestLifecycleErrorStatuses(t *testing.T) {
	s := newServer(t)
	cases := []struct {
		name   string
		method string
		path   string
		email  string
		body   any
		status int
		kind   core.ErrorKind
	}{
		{"missing fields", http.MethodPost, "/apply-agreement", tenantEmail, map[string]any{"apartment_no": ""}, http.StatusBadRequest, core.KindValidation},
		{"unknown apartment", http.MethodPost, "/apply-agreement", tenantEmail, map[string]any{"apartment_no": "Z-9", "userEmail": tenantEmail}, http.StatusNotFound, core.KindNotFound},
		{"apply for someone else", http.MethodPost, "/apply-agreement", tenantEmail, map[string]any{"apartment_no": "A-101", "userEmail": otherEmail}, http.StatusForbidden, core.KindForbidden},
		{"accept unknown", http.MethodPut, "/accept-agreement/nope", adminEmail, nil, http.StatusNotFound, core.KindNotFound},
		{"no token", http.MethodPost, "/apply-agreement", "", map[string]any{}, http.StatusUnauthorized, core.KindUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, tc.method, tc.path, tc.email, tc.body)
			expectStatus(t, rec, tc.status)
			if got := decodeBody[errorResponse](t, rec); got.Kind != string(tc.kind) {
				t.Fatalf("expected kind %s, got %+v", tc.kind, got)
			}
		})
	}

	expectStatus(t, s.do(t, http.MethodPost, "/apply-agreement", tenantEmail, map[string]any{"apartment_no": "A-101", "userEmail": tenantEmail}), http.StatusOK)
	rec := s.do(t, http.MethodPost, "/apply-agreement", otherEmail, map[string]any{"apartment_no": "A-101", "userEmail": otherEmail})
	expectStatus(t, rec, http.StatusConflict)

	req := httptest.NewRequest(http.MethodPost, "/apply-agreement", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+s.token(t, tenantEmail))
	bad := httptest.NewRecorder()
	s.handler.ServeHTTP(bad, req)
	expectStatus(t, bad, http.StatusBadRequest)
}

func TestAuthenticationAndRoles(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodGet, "/users", "", nil)
	expectStatus(t, rec, http.StatusUnauthorized)
	if got := decodeBody[errorResponse](t, rec); got.Message != "unauthorized access" {
		t.Fatalf("unexpected denial %+v", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusUnauthorized)

	expectStatus(t, s.do(t, http.MethodGet, "/users", tenantEmail, nil), http.StatusForbidden)
	rec = s.do(t, http.MethodGet, "/users", adminEmail, nil)
	expectStatus(t, rec, http.StatusOK)
	if users := decodeBody[[]domain.User](t, rec); len(users) != 3 {
		t.Fatalf("expected 3 users, got %d", len(users))
	}

	expectStatus(t, s.do(t, http.MethodGet, "/users/"+otherEmail, tenantEmail, nil), http.StatusForbidden)
	expectStatus(t, s.do(t, http.MethodGet, "/users/"+otherEmail, adminEmail, nil), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodGet, "/users/admin/"+otherEmail, tenantEmail, nil), http.StatusForbidden)

	rec = s.do(t, http.MethodGet, "/users/admin/"+adminEmail, adminEmail, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[map[string]bool](t, rec); !got["admin"] {
		t.Fatalf("expected admin flag, got %v", got)
	}
	rec = s.do(t, http.MethodGet, "/members/"+tenantEmail, tenantEmail, nil)
	expectStatus(t, rec, http.StatusNotFound)
	if got := decodeBody[errorResponse](t, rec); got.Message != "Not a Member" {
		t.Fatalf("unexpected message %+v", got)
	}
}

func TestTokenIssueAndRegistration(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/jwt", "", map[string]string{"email": adminEmail})
	expectStatus(t, rec, http.StatusOK)
	tok := decodeBody[map[string]string](t, rec)["token"]
	id, err := s.issuer.Verify(tok)
	if err != nil || id.Email != adminEmail || id.Role != string(domain.RoleAdmin) {
		t.Fatalf("unexpected token identity %+v err=%v", id, err)
	}
	expectStatus(t, s.do(t, http.MethodPost, "/jwt", "", map[string]string{}), http.StatusBadRequest)

	rec = s.do(t, http.MethodPost, "/users", "", map[string]string{"email": "new@x.com", "name": "New", "role": "admin"})
	expectStatus(t, rec, http.StatusOK)
	if res := decodeBody[domain.InsertResult](t, rec); res.ID == "" {
		t.Fatalf("expected inserted id, got %+v", res)
	}
	rec = s.do(t, http.MethodPost, "/users", "", map[string]string{"email": "new@x.com"})
	expectStatus(t, rec, http.StatusOK)
	existing := decodeBody[map[string]any](t, rec)
	if existing["message"] != "user already exists" || existing["insertedId"] != nil {
		t.Fatalf("unexpected existing-user response %v", existing)
	}
	rec = s.do(t, http.MethodGet, "/users/admin/new@x.com", "new@x.com", nil)
	expectStatus(t, rec, http.StatusOK)
	if decodeBody[map[string]bool](t, rec)["admin"] {
		t.Fatalf("self-registration must not grant admin")
	}
}

func TestTokenIssuanceDisabled(t *testing.T) {
	s := newServer(t, httpapi.WithTokenIssuance(false))
	expectStatus(t, s.do(t, http.MethodPost, "/jwt", "", map[string]string{"email": adminEmail}), http.StatusNotFound)
	for _, route := range s.handler.(*httpapi.Handler).Routes() {
		if route == "POST /jwt" {
			t.Fatalf("token route registered while disabled")
		}
	}
	// tokens minted elsewhere with the shared secret still authenticate
	expectStatus(t, s.do(t, http.MethodGet, "/users/admin/"+adminEmail, adminEmail, nil), http.StatusOK)
}

func TestCatalogRoutes(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodGet, "/apartments?page=1&size=2", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if page := decodeBody[[]domain.Apartment](t, rec); len(page) != 1 || page[0].ApartmentNo != "B-201" {
		t.Fatalf("unexpected second page %+v", page)
	}
	expectStatus(t, s.do(t, http.MethodGet, "/apartments?page=-1", "", nil), http.StatusBadRequest)
	rec = s.do(t, http.MethodGet, "/apartmentsCount", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[map[string]int64](t, rec); got["count"] != 3 {
		t.Fatalf("expected count 3, got %v", got)
	}
	all := decodeBody[[]domain.Apartment](t, s.do(t, http.MethodGet, "/apartments", "", nil))
	rec = s.do(t, http.MethodGet, "/apartments/"+all[0].ID, "", nil)
	expectStatus(t, rec, http.StatusOK)

	expectStatus(t, s.do(t, http.MethodGet, "/announcements", "", nil), http.StatusNotFound)
	expectStatus(t, s.do(t, http.MethodPost, "/announcements", tenantEmail, map[string]string{"post_title": "Water"}), http.StatusForbidden)
	for _, title := range []string{"Water outage", "Elevator service"} {
		expectStatus(t, s.do(t, http.MethodPost, "/announcements", adminEmail, map[string]string{"post_title": title, "description": "d"}), http.StatusOK)
	}
	rec = s.do(t, http.MethodGet, "/announcements", "", nil)
	expectStatus(t, rec, http.StatusOK)
	items := decodeBody[[]domain.Announcement](t, rec)
	if len(items) != 2 || items[0].PostTitle != "Elevator service" {
		t.Fatalf("expected newest first, got %+v", items)
	}
	rec = s.do(t, http.MethodPut, "/update-announcements/"+items[0].ID, adminEmail, map[string]string{"post_title": "Elevator fixed", "post_date": "2024-03-10"})
	expectStatus(t, rec, http.StatusOK)
	rec = s.do(t, http.MethodGet, "/announcements/"+items[0].ID, "", nil)
	if got := decodeBody[domain.Announcement](t, rec); got.PostTitle != "Elevator fixed" {
		t.Fatalf("update not applied: %+v", got)
	}
	expectStatus(t, s.do(t, http.MethodDelete, "/delete-announcements/"+items[0].ID, adminEmail, nil), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodDelete, "/delete-announcements/"+items[0].ID, adminEmail, nil), http.StatusNotFound)

	rec = s.do(t, http.MethodPost, "/coupons", adminEmail, map[string]any{"coupon_code": "HALF", "coupon_title": "Half", "discount": 50})
	expectStatus(t, rec, http.StatusOK)
	couponID := decodeBody[domain.InsertResult](t, rec).ID
	expectStatus(t, s.do(t, http.MethodPost, "/coupons", adminEmail, map[string]any{"coupon_code": "HALF", "discount": 10}), http.StatusConflict)
	expectStatus(t, s.do(t, http.MethodPost, "/coupons", adminEmail, map[string]any{"coupon_code": "BAD", "discount": 150}), http.StatusBadRequest)
	rec = s.do(t, http.MethodPut, "/update-coupons/"+couponID, adminEmail, map[string]any{"coupon_code": "HALF", "coupon_title": "Half off", "discount": 50})
	expectStatus(t, rec, http.StatusOK)
	rec = s.do(t, http.MethodGet, "/coupons", "", nil)
	if coupons := decodeBody[[]domain.Coupon](t, rec); len(coupons) != 1 || coupons[0].CouponTitle != "Half off" {
		t.Fatalf("unexpected coupons %+v", coupons)
	}
	expectStatus(t, s.do(t, http.MethodGet, "/coupons/"+couponID, "", nil), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodDelete, "/delete-coupons/"+couponID, adminEmail, nil), http.StatusOK)
}

func TestPaymentRoutes(t *testing.T) {
	s := newServer(t)
	expectStatus(t, s.do(t, http.MethodPost, "/coupons", adminEmail, map[string]any{"coupon_code": "HALF", "discount": 50}), http.StatusOK)

	rec := s.do(t, http.MethodPost, "/create-payment-intent", tenantEmail, map[string]any{"price": 1200.5, "coupon_code": "HALF"})
	expectStatus(t, rec, http.StatusOK)
	intent := decodeBody[domain.PaymentIntent](t, rec)
	if intent.Amount != 60025 || intent.ClientSecret == "" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	expectStatus(t, s.do(t, http.MethodPost, "/create-payment-intent", tenantEmail, map[string]any{"price": 0}), http.StatusBadRequest)

	payment := map[string]any{"amount": 600.25, "month": "March", "transactionId": "pi_1"}
	expectStatus(t, s.do(t, http.MethodPost, "/payments", tenantEmail, payment), http.StatusForbidden)

	rec = s.do(t, http.MethodPost, "/apply-agreement", tenantEmail, map[string]any{"apartment_no": "A-101", "userEmail": tenantEmail})
	id := decodeBody[core.ApplyResult](t, rec).Agreement.ID
	expectStatus(t, s.do(t, http.MethodPut, "/accept-agreement/"+id, adminEmail, nil), http.StatusOK)

	expectStatus(t, s.do(t, http.MethodPost, "/payments", tenantEmail, payment), http.StatusOK)
	rec = s.do(t, http.MethodGet, "/payments?email="+tenantEmail, tenantEmail, nil)
	expectStatus(t, rec, http.StatusOK)
	history := decodeBody[[]domain.Payment](t, rec)
	if len(history) != 1 || history[0].ApartmentNo != "A-101" || history[0].Email != tenantEmail {
		t.Fatalf("unexpected history %+v", history)
	}
	expectStatus(t, s.do(t, http.MethodGet, "/payments?email="+tenantEmail, otherEmail, nil), http.StatusForbidden)
}

func TestCORS(t *testing.T) {
	s := newServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/apply-agreement", nil)
	req.Header.Set("Origin", webOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusNoContent)
	if rec.Header().Get("Access-Control-Allow-Origin") != webOrigin || rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("missing CORS headers: %v", rec.Header())
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "Authorization") {
		t.Fatalf("preflight must allow Authorization: %v", rec.Header())
	}

	req = httptest.NewRequest(http.MethodOptions, "/apply-agreement", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusForbidden)

	req = httptest.NewRequest(http.MethodGet, "/apartmentsCount", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign origin must not be allowed: %v", rec.Header())
	}
}

func TestRootAndMetrics(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodGet, "/", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if rec.Body.String() != "NexuraBuild server running" {
		t.Fatalf("unexpected root body %q", rec.Body.String())
	}
	expectStatus(t, s.do(t, http.MethodGet, "/no-such-route", "", nil), http.StatusNotFound)

	s.do(t, http.MethodGet, "/apartmentsCount", "", nil)
	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `route="GET /apartmentsCount"`) {
		t.Fatalf("expected route metrics, got:\n%s", rec.Body.String())
	}
}

func TestOpenAPIDocumentsEveryRoute(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodGet, "/openapi.yaml", "", nil)
	expectStatus(t, rec, http.StatusOK)

	var doc struct {
		Paths map[string]map[string]any `yaml:"paths"`
	}
	if err := yaml.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("parse openapi: %v", err)
	}
	routes := s.handler.(*httpapi.Handler).Routes()
	if len(routes) == 0 {
		t.Fatal("no routes registered")
	}
	for _, route := range routes {
		method, path, _ := strings.Cut(route, " ")
		path = strings.TrimSuffix(path, "{$}")
		if _, ok := doc.Paths[path][strings.ToLower(method)]; !ok {
			t.Errorf("route %s is not documented", route)
		}
	}
}
