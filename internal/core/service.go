package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	blobcore "nexurabuild/internal/blob/core"
	"nexurabuild/internal/infra/persistence/memory"
	"nexurabuild/pkg/domain"
)

// PaymentProcessor creates payment intents with an external processor.
type PaymentProcessor interface {
	CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (domain.PaymentIntent, error)
}

// Service exposes the lifecycle engine and the record-level operations of
// the rental backend, wrapping each call with logging, tracing and metrics.
type Service struct {
	records  *Records
	engine   *Engine
	rules    *RulesEngine
	logger   Logger
	tracer   Tracer
	metrics  MetricsRecorder
	clock    Clock
	archive  blobcore.Store
	payments PaymentProcessor
	timeout  time.Duration
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer sets the tracer wrapped around every operation.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithMetricsRecorder sets the operation metrics recorder.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithArchive enables the agreement archive on store.
func WithArchive(store blobcore.Store) Option {
	return func(s *Service) { s.archive = store }
}

// WithPaymentProcessor sets the payment-intent collaborator.
func WithPaymentProcessor(p PaymentProcessor) Option {
	return func(s *Service) { s.payments = p }
}

// WithRulesEngine replaces the default consistency rules.
func WithRulesEngine(engine *RulesEngine) Option {
	return func(s *Service) {
		if engine != nil {
			s.rules = engine
		}
	}
}

// WithStoreTimeout bounds each store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// NewService constructs a service backed by the supplied document store.
func NewService(store domain.DocumentStore, opts ...Option) *Service {
	svc := &Service{
		rules:   NewDefaultRulesEngine(),
		logger:  noopLogger{},
		tracer:  noopTracer{},
		metrics: noopMetrics{},
		clock:   systemClock(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.records = NewRecords(store, svc.timeout)
	svc.engine = NewEngine(svc.records, svc.clock, svc.logger)
	return svc
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(opts ...Option) *Service {
	return NewService(memory.NewStore(), opts...)
}

// Records returns the typed record adapter.
func (s *Service) Records() *Records { return s.records }

// Close releases the underlying store.
func (s *Service) Close() error { return s.records.Close() }

func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	err := fn(ctx)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	if err == nil {
		s.logger.Debug("operation succeeded", "op", op)
		return nil
	}
	args := []any{"op", op, "error", err.Error()}
	var le *LifecycleError
	if errors.As(err, &le) {
		args = append(args, le.LogArgs()...)
	}
	switch KindOf(err) {
	case KindNotFound, KindConflict, KindValidation, KindForbidden, KindUnauthorized:
		s.logger.Warn("operation rejected", args...)
	default:
		s.logger.Error("operation failed", args...)
	}
	return err
}

// Apply submits a rental application.
func (s *Service) Apply(ctx context.Context, caller Caller, req domain.Agreement) (ApplyResult, error) {
	var out ApplyResult
	err := s.run(ctx, "apply_agreement", func(ctx context.Context) error {
		var err error
		out, err = s.engine.Apply(ctx, caller, req)
		return err
	})
	return out, err
}

// Accept approves a pending agreement.
func (s *Service) Accept(ctx context.Context, caller Caller, id string) (domain.Agreement, error) {
	var out domain.Agreement
	err := s.run(ctx, "accept_agreement", func(ctx context.Context) error {
		var err error
		out, err = s.engine.Accept(ctx, caller, id)
		return err
	})
	if err == nil {
		s.archiveAgreement(ctx, out, "accepted")
	}
	return out, err
}

// CancelByApartment cancels the agreement held on apartmentNo.
func (s *Service) CancelByApartment(ctx context.Context, caller Caller, apartmentNo string) (CancelResult, error) {
	var out CancelResult
	err := s.run(ctx, "cancel_agreement", func(ctx context.Context) error {
		var err error
		out, err = s.engine.CancelByApartment(ctx, caller, apartmentNo)
		return err
	})
	if err == nil {
		s.archiveAgreement(ctx, out.Agreement, "cancelled")
	}
	return out, err
}

// CancelByEmail cancels the agreement held by email.
func (s *Service) CancelByEmail(ctx context.Context, caller Caller, email string) (CancelResult, error) {
	var out CancelResult
	err := s.run(ctx, "member_cancel_agreement", func(ctx context.Context) error {
		var err error
		out, err = s.engine.CancelByEmail(ctx, caller, email)
		return err
	})
	if err == nil {
		s.archiveAgreement(ctx, out.Agreement, "cancelled")
	}
	return out, err
}

// RemoveMember ends a member's tenancy on an admin's behalf.
func (s *Service) RemoveMember(ctx context.Context, caller Caller, email string) (RemoveResult, error) {
	var out RemoveResult
	err := s.run(ctx, "remove_member", func(ctx context.Context) error {
		var err error
		out, err = s.engine.RemoveMember(ctx, caller, email)
		return err
	})
	if err == nil {
		s.archiveAgreement(ctx, out.Agreement, "removed")
	}
	return out, err
}

// ArchiveRecord is the body stored for each archived agreement event.
type ArchiveRecord struct {
	Event      string           `json:"event"`
	ArchivedAt time.Time        `json:"archived_at"`
	Agreement  domain.Agreement `json:"agreement"`
}

// ArchiveKey returns the blob key for an agreement event.
func ArchiveKey(email, agreementID, event string) string {
	return fmt.Sprintf("%s%s-%s.json", archivePrefix(email), agreementID, event)
}

func archivePrefix(email string) string {
	return "agreements/" + url.PathEscape(email) + "/"
}

func (s *Service) archiveAgreement(ctx context.Context, agreement domain.Agreement, event string) {
	if s.archive == nil {
		return
	}
	body, err := json.Marshal(ArchiveRecord{Event: event, ArchivedAt: s.clock.Now().UTC(), Agreement: agreement})
	if err == nil {
		_, err = s.archive.Put(ctx, ArchiveKey(agreement.UserEmail, agreement.ID, event), bytes.NewReader(body), blobcore.PutOptions{
			ContentType: "application/json",
			Metadata:    map[string]string{"event": event, "apartment_no": agreement.ApartmentNo},
		})
	}
	if err != nil {
		s.logger.Warn("agreement archive failed", "agreement_id", agreement.ID, "event", event, "error", err.Error())
	}
}

// AgreementArchive lists archived agreement events for email.
func (s *Service) AgreementArchive(ctx context.Context, caller Caller, email string) ([]blobcore.Info, error) {
	var out []blobcore.Info
	err := s.run(ctx, "list_agreement_archive", func(ctx context.Context) error {
		if email == "" {
			return newError(KindValidation, "email is required")
		}
		if !caller.Admin() && caller.Email != email {
			return newError(KindForbidden, "archive belongs to another user")
		}
		if s.archive == nil {
			out = []blobcore.Info{}
			return nil
		}
		var err error
		out, err = s.archive.List(ctx, archivePrefix(email))
		if err != nil {
			return &LifecycleError{Kind: KindStoreUnavailable, Message: "list archive", Cause: err}
		}
		return nil
	})
	return out, err
}

// Audit evaluates the consistency rules over a snapshot of users,
// apartments and agreements.
func (s *Service) Audit(ctx context.Context) (Result, error) {
	var out Result
	err := s.run(ctx, "audit", func(ctx context.Context) error {
		view, err := s.snapshot(ctx)
		if err != nil {
			return err
		}
		out, err = s.rules.Evaluate(ctx, view)
		if err != nil {
			return err
		}
		if out.Violations == nil {
			out.Violations = []Violation{}
		}
		return nil
	})
	return out, err
}

type snapshotView struct {
	users      []domain.User
	apartments []domain.Apartment
	agreements []domain.Agreement
	byEmail    map[string]domain.User
	byNo       map[string]domain.Apartment
}

func (s *Service) snapshot(ctx context.Context) (*snapshotView, error) {
	users, err := s.records.Users.List(ctx, nil, domain.FindOptions{})
	if err != nil {
		return nil, err
	}
	apartments, err := s.records.Apartments.List(ctx, nil, domain.FindOptions{})
	if err != nil {
		return nil, err
	}
	agreements, err := s.records.Agreements.List(ctx, nil, domain.FindOptions{})
	if err != nil {
		return nil, err
	}
	v := &snapshotView{
		users:      users,
		apartments: apartments,
		agreements: agreements,
		byEmail:    make(map[string]domain.User, len(users)),
		byNo:       make(map[string]domain.Apartment, len(apartments)),
	}
	for _, u := range users {
		v.byEmail[u.Email] = u
	}
	for _, a := range apartments {
		v.byNo[a.ApartmentNo] = a
	}
	return v, nil
}

func (v *snapshotView) ListUsers() []domain.User           { return v.users }
func (v *snapshotView) ListApartments() []domain.Apartment { return v.apartments }
func (v *snapshotView) ListAgreements() []domain.Agreement { return v.agreements }

func (v *snapshotView) FindUser(email string) (domain.User, bool) {
	u, ok := v.byEmail[email]
	return u, ok
}

func (v *snapshotView) FindApartment(no string) (domain.Apartment, bool) {
	a, ok := v.byNo[no]
	return a, ok
}

// ListUsers returns every user.
func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	var out []domain.User
	err := s.run(ctx, "list_users", func(ctx context.Context) error {
		var err error
		out, err = s.records.Users.List(ctx, nil, domain.FindOptions{})
		return err
	})
	return out, err
}

// GetUser returns the user registered under email.
func (s *Service) GetUser(ctx context.Context, email string) (domain.User, error) {
	var out domain.User
	err := s.run(ctx, "get_user", func(ctx context.Context) error {
		u, ok, err := s.records.Users.Get(ctx, domain.Filter{"email": email})
		if err != nil {
			return err
		}
		if !ok {
			return newError(KindNotFound, "user %s not found", email)
		}
		out = u
		return nil
	})
	return out, err
}

// IsAdmin reports whether email belongs to an admin.
func (s *Service) IsAdmin(ctx context.Context, email string) (bool, error) {
	var admin bool
	err := s.run(ctx, "is_admin", func(ctx context.Context) error {
		u, ok, err := s.records.Users.Get(ctx, domain.Filter{"email": email})
		if err != nil {
			return err
		}
		admin = ok && u.Role == domain.RoleAdmin
		return nil
	})
	return admin, err
}

// ResolveCaller builds the caller for a verified email. The role is read from
// the store on every request so promotions and demotions take effect without
// reissuing tokens. Unregistered emails act with the user role.
func (s *Service) ResolveCaller(ctx context.Context, email string) (Caller, error) {
	caller := Caller{Email: email, Role: domain.RoleUser}
	err := s.run(ctx, "resolve_caller", func(ctx context.Context) error {
		if email == "" {
			return newError(KindUnauthorized, "unauthorized access")
		}
		u, ok, err := s.records.Users.Get(ctx, domain.Filter{"email": email})
		if err != nil {
			return err
		}
		if ok && u.Role.Valid() {
			caller.Role = u.Role
		}
		return nil
	})
	return caller, err
}

// RegisterUser creates a user on first sign-in. New users always start with
// the user role. created is false when the email is already registered.
func (s *Service) RegisterUser(ctx context.Context, user domain.User) (res domain.InsertResult, created bool, err error) {
	err = s.run(ctx, "register_user", func(ctx context.Context) error {
		user.Email = strings.TrimSpace(user.Email)
		if user.Email == "" {
			return newError(KindValidation, "email is required")
		}
		if _, ok, err := s.records.Users.Get(ctx, domain.Filter{"email": user.Email}); err != nil {
			return err
		} else if ok {
			return nil
		}
		user.ID = ""
		user.Role = domain.RoleUser
		user.CreatedAt = s.clock.Now().UTC()
		var err error
		res, err = s.records.Users.Insert(ctx, user)
		created = err == nil
		return err
	})
	return res, created, err
}

// SeedUser inserts user with its configured role unless the email exists.
func (s *Service) SeedUser(ctx context.Context, user domain.User) (bool, error) {
	var created bool
	err := s.run(ctx, "seed_user", func(ctx context.Context) error {
		if user.Email == "" {
			return newError(KindValidation, "email is required")
		}
		if user.Role == "" {
			user.Role = domain.RoleUser
		}
		if !user.Role.Valid() {
			return newError(KindValidation, "unknown role %q", user.Role)
		}
		if _, ok, err := s.records.Users.Get(ctx, domain.Filter{"email": user.Email}); err != nil || ok {
			return err
		}
		if user.CreatedAt.IsZero() {
			user.CreatedAt = s.clock.Now().UTC()
		}
		_, err := s.records.Users.Insert(ctx, user)
		created = err == nil
		return err
	})
	return created, err
}

// ListMembers returns users holding the member role.
func (s *Service) ListMembers(ctx context.Context) ([]domain.User, error) {
	var out []domain.User
	err := s.run(ctx, "list_members", func(ctx context.Context) error {
		var err error
		out, err = s.records.Users.List(ctx, domain.Filter{"role": string(domain.RoleMember)}, domain.FindOptions{})
		return err
	})
	return out, err
}

// GetMember returns the member registered under email.
func (s *Service) GetMember(ctx context.Context, email string) (domain.User, error) {
	var out domain.User
	err := s.run(ctx, "get_member", func(ctx context.Context) error {
		u, ok, err := s.records.Users.Get(ctx, domain.Filter{"email": email, "role": string(domain.RoleMember)})
		if err != nil {
			return err
		}
		if !ok {
			return newError(KindNotFound, "Not a Member")
		}
		out = u
		return nil
	})
	return out, err
}

// ListApartments returns one page of apartments. A non-positive size returns
// every apartment.
func (s *Service) ListApartments(ctx context.Context, page, size int) ([]domain.Apartment, error) {
	var out []domain.Apartment
	err := s.run(ctx, "list_apartments", func(ctx context.Context) error {
		if page < 0 {
			return newError(KindValidation, "page must not be negative")
		}
		opts := domain.FindOptions{}
		if size > 0 {
			if page > math.MaxInt/size {
				return newError(KindValidation, "page %d out of range", page)
			}
			opts.Skip, opts.Limit = page*size, size
		}
		var err error
		out, err = s.records.Apartments.List(ctx, nil, opts)
		return err
	})
	return out, err
}

// GetApartment returns the apartment stored under id.
func (s *Service) GetApartment(ctx context.Context, id string) (domain.Apartment, error) {
	var out domain.Apartment
	err := s.run(ctx, "get_apartment", func(ctx context.Context) error {
		a, ok, err := s.records.Apartments.Get(ctx, byID(id))
		if err != nil {
			return err
		}
		if !ok {
			return newError(KindNotFound, "apartment %s not found", id)
		}
		out = a
		return nil
	})
	return out, err
}

// CountApartments returns the apartment inventory size.
func (s *Service) CountApartments(ctx context.Context) (int64, error) {
	var n int64
	err := s.run(ctx, "count_apartments", func(ctx context.Context) error {
		var err error
		n, err = s.records.Apartments.Count(ctx, nil)
		return err
	})
	return n, err
}

// AddApartment registers an available apartment unless apartment_no exists.
func (s *Service) AddApartment(ctx context.Context, apt domain.Apartment) (bool, error) {
	var created bool
	err := s.run(ctx, "add_apartment", func(ctx context.Context) error {
		apt.ApartmentNo = strings.TrimSpace(apt.ApartmentNo)
		if apt.ApartmentNo == "" {
			return newError(KindValidation, "apartment_no is required")
		}
		if _, ok, err := s.records.Apartments.Get(ctx, domain.Filter{"apartment_no": apt.ApartmentNo}); err != nil || ok {
			return err
		}
		apt.ID = ""
		apt.Status = domain.ApartmentAvailable
		_, err := s.records.Apartments.Insert(ctx, apt)
		created = err == nil
		return err
	})
	return created, err
}

// ListAgreements returns every agreement.
func (s *Service) ListAgreements(ctx context.Context) ([]domain.Agreement, error) {
	var out []domain.Agreement
	err := s.run(ctx, "list_agreements", func(ctx context.Context) error {
		var err error
		out, err = s.records.Agreements.List(ctx, nil, domain.FindOptions{})
		return err
	})
	return out, err
}

// AgreementFor returns the agreement held by email, if any.
func (s *Service) AgreementFor(ctx context.Context, email string) (domain.Agreement, bool, error) {
	var (
		out   domain.Agreement
		found bool
	)
	err := s.run(ctx, "member_agreement", func(ctx context.Context) error {
		if email == "" {
			return newError(KindValidation, "email is required")
		}
		var err error
		out, found, err = s.records.Agreements.Get(ctx, domain.Filter{"userEmail": email})
		return err
	})
	return out, found, err
}

// ListAnnouncements returns announcements, latest first.
func (s *Service) ListAnnouncements(ctx context.Context) ([]domain.Announcement, error) {
	var out []domain.Announcement
	err := s.run(ctx, "list_announcements", func(ctx context.Context) error {
		var err error
		out, err = s.records.Announcements.List(ctx, nil, domain.FindOptions{Newest: true})
		if err != nil {
			return err
		}
		if len(out) == 0 {
			return newError(KindNotFound, "No announcements found")
		}
		return nil
	})
	return out, err
}

// GetAnnouncement returns one announcement.
func (s *Service) GetAnnouncement(ctx context.Context, id string) (domain.Announcement, error) {
	var out domain.Announcement
	err := s.run(ctx, "get_announcement", func(ctx context.Context) error {
		var err error
		out, err = getByID(ctx, s.records.Announcements, id, "Announcement not found")
		return err
	})
	return out, err
}

// CreateAnnouncement publishes an announcement.
func (s *Service) CreateAnnouncement(ctx context.Context, a domain.Announcement) (domain.InsertResult, error) {
	var out domain.InsertResult
	err := s.run(ctx, "create_announcement", func(ctx context.Context) error {
		if strings.TrimSpace(a.PostTitle) == "" {
			return newError(KindValidation, "post_title is required")
		}
		a.ID = ""
		if a.PostDate == "" {
			a.PostDate = s.clock.Now().Format(domain.DateLayout)
		}
		var err error
		out, err = s.records.Announcements.Insert(ctx, a)
		return err
	})
	return out, err
}

// UpdateAnnouncement replaces the editable fields of an announcement.
func (s *Service) UpdateAnnouncement(ctx context.Context, id string, a domain.Announcement) (domain.UpdateResult, error) {
	var out domain.UpdateResult
	err := s.run(ctx, "update_announcement", func(ctx context.Context) error {
		var err error
		out, err = updateByID(ctx, s.records.Announcements, id, domain.Patch{
			"post_date":   a.PostDate,
			"post_title":  a.PostTitle,
			"description": a.Description,
		}, "Announcement not found")
		return err
	})
	return out, err
}

// DeleteAnnouncement removes an announcement.
func (s *Service) DeleteAnnouncement(ctx context.Context, id string) (domain.DeleteResult, error) {
	var out domain.DeleteResult
	err := s.run(ctx, "delete_announcement", func(ctx context.Context) error {
		var err error
		out, err = deleteByID(ctx, s.records.Announcements, id, "Announcement not found")
		return err
	})
	return out, err
}

// ListCoupons returns every coupon.
func (s *Service) ListCoupons(ctx context.Context) ([]domain.Coupon, error) {
	var out []domain.Coupon
	err := s.run(ctx, "list_coupons", func(ctx context.Context) error {
		var err error
		out, err = s.records.Coupons.List(ctx, nil, domain.FindOptions{})
		return err
	})
	return out, err
}

// GetCoupon returns one coupon.
func (s *Service) GetCoupon(ctx context.Context, id string) (domain.Coupon, error) {
	var out domain.Coupon
	err := s.run(ctx, "get_coupon", func(ctx context.Context) error {
		var err error
		out, err = getByID(ctx, s.records.Coupons, id, "Coupon not found")
		return err
	})
	return out, err
}

// CreateCoupon stores a coupon. Coupon codes are unique.
func (s *Service) CreateCoupon(ctx context.Context, c domain.Coupon) (domain.InsertResult, error) {
	var out domain.InsertResult
	err := s.run(ctx, "create_coupon", func(ctx context.Context) error {
		if err := validateCoupon(c); err != nil {
			return err
		}
		if _, ok, err := s.records.Coupons.Get(ctx, domain.Filter{"coupon_code": c.CouponCode}); err != nil {
			return err
		} else if ok {
			return newError(KindConflict, "coupon code %s already exists", c.CouponCode)
		}
		c.ID = ""
		var err error
		out, err = s.records.Coupons.Insert(ctx, c)
		return err
	})
	return out, err
}

func validateCoupon(c domain.Coupon) error {
	if strings.TrimSpace(c.CouponCode) == "" {
		return newError(KindValidation, "coupon_code is required")
	}
	if c.Discount < 0 || c.Discount > 100 {
		return newError(KindValidation, "discount must be between 0 and 100")
	}
	return nil
}

// UpdateCoupon replaces the editable fields of a coupon. The new code must not
// belong to another coupon.
func (s *Service) UpdateCoupon(ctx context.Context, id string, c domain.Coupon) (domain.UpdateResult, error) {
	var out domain.UpdateResult
	err := s.run(ctx, "update_coupon", func(ctx context.Context) error {
		if err := validateCoupon(c); err != nil {
			return err
		}
		if taken, ok, err := s.records.Coupons.Get(ctx, domain.Filter{"coupon_code": c.CouponCode}); err != nil {
			return err
		} else if ok && taken.ID != id {
			return newError(KindConflict, "coupon code %s already exists", c.CouponCode)
		}
		var err error
		out, err = updateByID(ctx, s.records.Coupons, id, domain.Patch{
			"coupon_title": c.CouponTitle,
			"coupon_code":  c.CouponCode,
			"discount":     c.Discount,
			"description":  c.Description,
		}, "Coupon not found")
		return err
	})
	return out, err
}

// DeleteCoupon removes a coupon.
func (s *Service) DeleteCoupon(ctx context.Context, id string) (domain.DeleteResult, error) {
	var out domain.DeleteResult
	err := s.run(ctx, "delete_coupon", func(ctx context.Context) error {
		var err error
		out, err = deleteByID(ctx, s.records.Coupons, id, "Coupon not found")
		return err
	})
	return out, err
}

// PaymentIntentRequest is the client's request for a rent payment intent.
type PaymentIntentRequest struct {
	Price      float64 `json:"price"`
	CouponCode string  `json:"coupon_code,omitempty"`
}

// DefaultCurrency is the currency payment intents are created in.
const DefaultCurrency = "usd"

// CreatePaymentIntent prices the rent after any coupon discount and asks
// the processor for an intent.
func (s *Service) CreatePaymentIntent(ctx context.Context, caller Caller, req PaymentIntentRequest) (domain.PaymentIntent, error) {
	var out domain.PaymentIntent
	err := s.run(ctx, "create_payment_intent", func(ctx context.Context) error {
		if s.payments == nil {
			return newError(KindStoreUnavailable, "payment processor not configured")
		}
		if req.Price <= 0 || math.IsNaN(req.Price) || math.IsInf(req.Price, 0) {
			return newError(KindValidation, "price must be positive")
		}
		price := req.Price
		if req.CouponCode != "" {
			c, ok, err := s.records.Coupons.Get(ctx, domain.Filter{"coupon_code": req.CouponCode})
			if err != nil {
				return err
			}
			if !ok {
				return newError(KindNotFound, "coupon %s not found", req.CouponCode)
			}
			price = price * (100 - c.Discount) / 100
		}
		cents := int64(math.Round(price * 100))
		if cents <= 0 {
			return newError(KindValidation, "discounted amount must be positive")
		}
		intent, err := s.payments.CreateIntent(ctx, cents, DefaultCurrency, map[string]string{"email": caller.Email})
		if err != nil {
			return &LifecycleError{Kind: KindStoreUnavailable, Message: "create payment intent", Cause: err}
		}
		out = intent
		return nil
	})
	return out, err
}

// RecordPayment appends a payment made by the caller. Only members pay rent;
// the role is read from the store rather than trusted from the token.
func (s *Service) RecordPayment(ctx context.Context, caller Caller, p domain.Payment) (domain.InsertResult, error) {
	var out domain.InsertResult
	err := s.run(ctx, "record_payment", func(ctx context.Context) error {
		if strings.TrimSpace(p.Month) == "" {
			return newError(KindValidation, "month is required")
		}
		if p.Amount <= 0 {
			return newError(KindValidation, "amount must be positive")
		}
		if _, ok, err := s.records.Users.Get(ctx, domain.Filter{"email": caller.Email, "role": string(domain.RoleMember)}); err != nil {
			return err
		} else if !ok {
			return newError(KindForbidden, "only members can record payments")
		}
		p.ID = ""
		p.Email = caller.Email
		p.Date = s.clock.Now().UTC()
		if p.ApartmentNo == "" {
			if a, ok, err := s.records.Agreements.Get(ctx, domain.Filter{"userEmail": caller.Email}); err != nil {
				return err
			} else if ok {
				p.ApartmentNo = a.ApartmentNo
			}
		}
		var err error
		out, err = s.records.Payments.Insert(ctx, p)
		return err
	})
	return out, err
}

// PaymentHistory returns payments made by email, newest first.
func (s *Service) PaymentHistory(ctx context.Context, caller Caller, email string) ([]domain.Payment, error) {
	var out []domain.Payment
	err := s.run(ctx, "payment_history", func(ctx context.Context) error {
		if email == "" {
			return newError(KindValidation, "email is required")
		}
		if !caller.Admin() && caller.Email != email {
			return newError(KindForbidden, "payment history belongs to another user")
		}
		var err error
		out, err = s.records.Payments.List(ctx, domain.Filter{"email": email}, domain.FindOptions{Newest: true})
		return err
	})
	return out, err
}

func getByID[T any](ctx context.Context, c Collection[T], id, missing string) (T, error) {
	var zero T
	if id == "" {
		return zero, newError(KindValidation, "id is required")
	}
	rec, ok, err := c.Get(ctx, byID(id))
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, newError(KindNotFound, "%s", missing)
	}
	return rec, nil
}

func updateByID[T any](ctx context.Context, c Collection[T], id string, patch domain.Patch, missing string) (domain.UpdateResult, error) {
	if id == "" {
		return domain.UpdateResult{}, newError(KindValidation, "id is required")
	}
	res, err := c.Update(ctx, byID(id), patch)
	if err != nil {
		return res, err
	}
	if res.MatchedCount == 0 {
		return res, newError(KindNotFound, "%s", missing)
	}
	return res, nil
}

func deleteByID[T any](ctx context.Context, c Collection[T], id, missing string) (domain.DeleteResult, error) {
	if id == "" {
		return domain.DeleteResult{}, newError(KindValidation, "id is required")
	}
	res, err := c.Delete(ctx, byID(id))
	if err != nil {
		return res, err
	}
	if res.DeletedCount == 0 {
		return res, newError(KindNotFound, "%s", missing)
	}
	return res, nil
}
