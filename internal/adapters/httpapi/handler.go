// Package httpapi exposes the rental backend over the JSON routes the web
// client calls.
package httpapi

import (
	"net/http"

	"nexurabuild/docs/schema/openapi"
	"nexurabuild/internal/auth"
	"nexurabuild/internal/core"
)

// RouteInstrumenter wraps a route handler with request metrics.
type RouteInstrumenter interface {
	InstrumentRoute(route string, h http.Handler) http.Handler
	Handler() http.Handler
}

// Handler routes requests to the service.
type Handler struct {
	svc         *core.Service
	issuer      *auth.Issuer
	metrics     RouteInstrumenter
	logger      core.Logger
	origins     map[string]struct{}
	mux         *http.ServeMux
	root        http.Handler
	patterns    []string
	issueTokens bool
}

// Option customises a Handler.
type Option func(*Handler)

// WithMetrics instruments every route and serves GET /metrics.
func WithMetrics(m RouteInstrumenter) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithCORSOrigins sets the browser origins allowed to call the API.
func WithCORSOrigins(origins ...string) Option {
	return func(h *Handler) {
		for _, o := range origins {
			h.origins[o] = struct{}{}
		}
	}
}

// WithTokenIssuance toggles POST /jwt. The route signs a token for any email
// without checking credentials, so deployments behind an upstream identity
// provider turn it off.
func WithTokenIssuance(enabled bool) Option {
	return func(h *Handler) { h.issueTokens = enabled }
}

// WithLogger sets the request logger.
func WithLogger(l core.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler builds the route table.
func NewHandler(svc *core.Service, issuer *auth.Issuer, opts ...Option) *Handler {
	h := &Handler{
		svc:         svc,
		issuer:      issuer,
		logger:      nopLogger{},
		origins:     make(map[string]struct{}),
		mux:         http.NewServeMux(),
		issueTokens: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.routes()
	h.root = h.cors(h.mux)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	h.handle("GET /{$}", http.HandlerFunc(h.handleRoot))
	if h.issueTokens {
		h.handle("POST /jwt", http.HandlerFunc(h.handleIssueToken))
	}
	h.handle("GET /openapi.yaml", http.HandlerFunc(h.handleOpenAPI))
	if h.metrics != nil {
		h.mux.Handle("GET /metrics", h.metrics.Handler())
		h.patterns = append(h.patterns, "GET /metrics")
	}

	// users and members
	h.handle("POST /users", http.HandlerFunc(h.handleRegisterUser))
	h.handle("GET /users", h.admin(h.handleListUsers))
	h.handle("GET /users/{email}", h.authed(h.handleGetUser))
	h.handle("GET /users/admin/{email}", h.authed(h.handleIsAdmin))
	h.handle("GET /members", h.admin(h.handleListMembers))
	h.handle("GET /members/{email}", h.authed(h.handleGetMember))

	// apartments
	h.handle("GET /apartments", http.HandlerFunc(h.handleListApartments))
	h.handle("GET /apartments/{id}", http.HandlerFunc(h.handleGetApartment))
	h.handle("GET /apartmentsCount", http.HandlerFunc(h.handleCountApartments))

	// agreement lifecycle
	h.handle("POST /apply-agreement", h.authed(h.handleApply))
	h.handle("PUT /accept-agreement/{id}", h.authed(h.handleAccept))
	h.handle("DELETE /cancel-agreement/{apartment_no}", h.authed(h.handleCancelByApartment))
	h.handle("DELETE /member-cancel-agreement", h.authed(h.handleCancelByEmail))
	h.handle("PUT /delete-member/{email}", h.authed(h.handleRemoveMember))
	h.handle("GET /agreement", h.admin(h.handleListAgreements))
	h.handle("GET /member-agreement", h.authed(h.handleMemberAgreement))
	h.handle("GET /agreement-archive", h.authed(h.handleAgreementArchive))

	// announcements
	h.handle("GET /announcements", http.HandlerFunc(h.handleListAnnouncements))
	h.handle("GET /announcements/{id}", http.HandlerFunc(h.handleGetAnnouncement))
	h.handle("POST /announcements", h.admin(h.handleCreateAnnouncement))
	h.handle("PUT /update-announcements/{id}", h.admin(h.handleUpdateAnnouncement))
	h.handle("DELETE /delete-announcements/{id}", h.admin(h.handleDeleteAnnouncement))

	// coupons
	h.handle("GET /coupons", http.HandlerFunc(h.handleListCoupons))
	h.handle("GET /coupons/{id}", http.HandlerFunc(h.handleGetCoupon))
	h.handle("POST /coupons", h.admin(h.handleCreateCoupon))
	h.handle("PUT /update-coupons/{id}", h.admin(h.handleUpdateCoupon))
	h.handle("DELETE /delete-coupons/{id}", h.admin(h.handleDeleteCoupon))

	// payments
	h.handle("POST /create-payment-intent", h.authed(h.handleCreatePaymentIntent))
	h.handle("POST /payments", h.authed(h.handleRecordPayment))
	h.handle("GET /payments", h.authed(h.handlePaymentHistory))

	h.handle("GET /admin/consistency", h.admin(h.handleConsistency))
}

func (h *Handler) handle(pattern string, handler http.Handler) {
	if h.metrics != nil {
		handler = h.metrics.InstrumentRoute(pattern, handler)
	}
	h.mux.Handle(pattern, handler)
	h.patterns = append(h.patterns, pattern)
}

// Routes lists the registered method and path patterns in registration order.
func (h *Handler) Routes() []string {
	return append([]string(nil), h.patterns...)
}

type callerHandler func(w http.ResponseWriter, r *http.Request, caller core.Caller)

// authed requires a valid token and resolves the caller's current role.
func (h *Handler) authed(next callerHandler) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		caller, err := h.svc.ResolveCaller(r.Context(), id.Email)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		next(w, r, caller)
	})
	return auth.Require(h.issuer, h.deny)(inner)
}

// admin is authed plus an admin role check.
func (h *Handler) admin(next callerHandler) http.Handler {
	return h.authed(func(w http.ResponseWriter, r *http.Request, caller core.Caller) {
		if !caller.Admin() {
			writeError(w, http.StatusForbidden, core.KindForbidden, "forbidden access")
			return
		}
		next(w, r, caller)
	})
}

func (h *Handler) deny(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Debug("request denied", "path", r.URL.Path, "error", err.Error())
	writeError(w, http.StatusUnauthorized, core.KindUnauthorized, "unauthorized access")
}

func (h *Handler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("NexuraBuild server running"))
}

func (h *Handler) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(openapi.NexuraSpec)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
