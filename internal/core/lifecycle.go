package core

import (
	"context"
	"strings"

	"nexurabuild/pkg/domain"
)

// Caller is the verified identity a lifecycle request runs as.
type Caller struct {
	Email string
	Role  domain.Role
}

// Admin reports whether the caller holds the admin role.
func (c Caller) Admin() bool { return c.Role == domain.RoleAdmin }

// ApplyResult is the composite state after a successful application.
type ApplyResult struct {
	Agreement domain.Agreement `json:"agreementInfo"`
	Apartment domain.Apartment `json:"apartmentInfo"`
}

// CancelResult is the composite state after a cancellation.
type CancelResult struct {
	Agreement domain.Agreement    `json:"agreementInfo"`
	Apartment domain.Apartment    `json:"apartmentInfo"`
	Deleted   domain.DeleteResult `json:"deleteResult"`
}

// RemoveResult is the composite state after an admin removed a member.
type RemoveResult struct {
	User      domain.User      `json:"user"`
	Agreement domain.Agreement `json:"agreement"`
	Apartment domain.Apartment `json:"apartment"`
}

// Engine owns the apply, accept, cancel and remove-member transitions that
// keep apartment status, agreement status and user role in step.
//
// Every status write is conditional on the previously read status, so two
// engines sharing a store cannot both win the same transition. Within one
// process, operations on the same apartment or user are serialized as well.
type Engine struct {
	records *Records
	locks   keyLocks
	clock   Clock
	logger  Logger
}

// NewEngine constructs a lifecycle engine over records.
func NewEngine(records *Records, clock Clock, logger Logger) *Engine {
	if clock == nil {
		clock = systemClock()
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{records: records, clock: clock, logger: logger}
}

func fail(err error, op string, keys map[string]string) error {
	return withContext(err, op, "", 0, keys)
}

func applied(acknowledged bool, matched int64, format string, args ...any) error {
	if !acknowledged {
		return newError(KindStoreUnavailable, "write not acknowledged")
	}
	if matched == 0 {
		return errNotApplied(format, args...)
	}
	return nil
}

func (e *Engine) swapApartment(ctx context.Context, apartmentNo string, from, to domain.ApartmentStatus) error {
	res, err := e.records.Apartments.Update(ctx,
		domain.Filter{"apartment_no": apartmentNo, "status": string(from)},
		domain.Patch{"status": string(to)})
	if err != nil {
		return err
	}
	return applied(res.Acknowledged, res.MatchedCount, "apartment %s is no longer %s", apartmentNo, from)
}

func (e *Engine) swapRole(ctx context.Context, email string, from, to domain.Role) error {
	res, err := e.records.Users.Update(ctx,
		domain.Filter{"email": email, "role": string(from)},
		domain.Patch{"role": string(to)})
	if err != nil {
		return err
	}
	return applied(res.Acknowledged, res.MatchedCount, "user %s is no longer %s", email, from)
}

func (e *Engine) removeAgreement(ctx context.Context, agreement domain.Agreement) (domain.DeleteResult, error) {
	res, err := e.records.Agreements.Delete(ctx, domain.Filter{domain.IDField: agreement.ID, "status": string(agreement.Status)})
	if err != nil {
		return res, err
	}
	return res, applied(res.Acknowledged, res.DeletedCount, "agreement %s is no longer %s", agreement.ID, agreement.Status)
}

func (e *Engine) restoreAgreement(ctx context.Context, agreement domain.Agreement) error {
	res, err := e.records.Agreements.Insert(ctx, agreement)
	if err != nil {
		return err
	}
	if !res.Acknowledged {
		return newError(KindStoreUnavailable, "agreement %s restore not acknowledged", agreement.ID)
	}
	return nil
}

func (e *Engine) today() string {
	return e.clock.Now().Format(domain.DateLayout)
}

// Apply records a pending agreement for an available apartment and reserves
// the apartment. A user may hold one agreement at a time.
func (e *Engine) Apply(ctx context.Context, caller Caller, req domain.Agreement) (ApplyResult, error) {
	const op = "apply"
	no := strings.TrimSpace(req.ApartmentNo)
	email := strings.TrimSpace(req.UserEmail)
	if no == "" || email == "" {
		return ApplyResult{}, fail(newError(KindValidation, "apartment_no and userEmail are required"), op, nil)
	}
	keys := map[string]string{"apartment_no": no, "user_email": email}
	if !caller.Admin() && caller.Email != email {
		return ApplyResult{}, fail(newError(KindForbidden, "cannot apply on behalf of %s", email), op, keys)
	}
	defer e.locks.lock(apartmentKey(no), userKey(email))()

	apt, ok, err := e.records.Apartments.Get(ctx, domain.Filter{"apartment_no": no})
	if err != nil {
		return ApplyResult{}, fail(err, op, keys)
	}
	if !ok {
		return ApplyResult{}, fail(newError(KindNotFound, "apartment %s not found", no), op, keys)
	}
	if apt.Status != domain.ApartmentAvailable {
		return ApplyResult{}, fail(newError(KindConflict, "apartment %s is %s", no, apt.Status), op, keys)
	}
	user, ok, err := e.records.Users.Get(ctx, domain.Filter{"email": email})
	if err != nil {
		return ApplyResult{}, fail(err, op, keys)
	}
	if !ok {
		return ApplyResult{}, fail(newError(KindNotFound, "user %s not found", email), op, keys)
	}
	held, err := e.records.Agreements.Count(ctx, domain.Filter{"userEmail": email})
	if err != nil {
		return ApplyResult{}, fail(err, op, keys)
	}
	if held > 0 {
		return ApplyResult{}, fail(newError(KindConflict, "user %s already holds an agreement", email), op, keys)
	}

	agreement := domain.Agreement{
		UserName:    req.UserName,
		UserEmail:   email,
		ApartmentNo: no,
		FloorNo:     apt.FloorNo,
		BlockName:   apt.BlockName,
		Rent:        apt.Rent,
		Status:      domain.AgreementPending,
		RequestDate: req.RequestDate,
	}
	if agreement.UserName == "" {
		agreement.UserName = user.Name
	}
	if agreement.RequestDate == "" {
		agreement.RequestDate = e.today()
	}

	p := newPipeline(op, keys, e.logger)
	p.add("insert_agreement", func(ctx context.Context) error {
		res, err := e.records.Agreements.Insert(ctx, agreement)
		if err != nil {
			return err
		}
		if !res.Acknowledged {
			return newError(KindStoreUnavailable, "agreement insert not acknowledged")
		}
		agreement.ID = res.ID
		keys["agreement_id"] = res.ID
		return nil
	}, func(ctx context.Context) error {
		_, err := e.removeAgreement(ctx, agreement)
		return err
	})
	p.add("reserve_apartment", func(ctx context.Context) error {
		return e.swapApartment(ctx, no, domain.ApartmentAvailable, domain.ApartmentPending)
	}, func(ctx context.Context) error {
		return e.swapApartment(ctx, no, domain.ApartmentPending, domain.ApartmentAvailable)
	})
	if err := p.execute(ctx); err != nil {
		return ApplyResult{}, err
	}
	apt.Status = domain.ApartmentPending
	return ApplyResult{Agreement: agreement, Apartment: apt}, nil
}

// Accept turns a pending agreement into a tenancy: the apartment becomes
// rented, the agreement accepted with today's date, and the holder a member.
func (e *Engine) Accept(ctx context.Context, caller Caller, id string) (domain.Agreement, error) {
	const op = "accept"
	if id == "" {
		return domain.Agreement{}, fail(newError(KindValidation, "agreement id is required"), op, nil)
	}
	keys := map[string]string{"agreement_id": id}
	if !caller.Admin() {
		return domain.Agreement{}, fail(newError(KindForbidden, "only admins can accept agreements"), op, keys)
	}
	found, ok, err := e.records.Agreements.Get(ctx, byID(id))
	if err != nil {
		return domain.Agreement{}, fail(err, op, keys)
	}
	if !ok {
		return domain.Agreement{}, fail(newError(KindNotFound, "agreement %s not found", id), op, keys)
	}
	keys["apartment_no"] = found.ApartmentNo
	keys["user_email"] = found.UserEmail
	defer e.locks.lock(apartmentKey(found.ApartmentNo), userKey(found.UserEmail))()

	agreement, ok, err := e.records.Agreements.Get(ctx, byID(id))
	if err != nil {
		return domain.Agreement{}, fail(err, op, keys)
	}
	if !ok {
		return domain.Agreement{}, fail(newError(KindNotFound, "agreement %s not found", id), op, keys)
	}
	if agreement.Status != domain.AgreementPending {
		return domain.Agreement{}, fail(newError(KindConflict, "agreement %s is %s", id, agreement.Status), op, keys)
	}
	apt, ok, err := e.records.Apartments.Get(ctx, domain.Filter{"apartment_no": agreement.ApartmentNo})
	if err != nil {
		return domain.Agreement{}, fail(err, op, keys)
	}
	if !ok {
		return domain.Agreement{}, fail(newError(KindNotFound, "apartment %s not found", agreement.ApartmentNo), op, keys)
	}
	if apt.Status != domain.ApartmentPending {
		return domain.Agreement{}, fail(newError(KindConflict, "apartment %s is %s", apt.ApartmentNo, apt.Status), op, keys)
	}
	user, ok, err := e.records.Users.Get(ctx, domain.Filter{"email": agreement.UserEmail})
	if err != nil {
		return domain.Agreement{}, fail(err, op, keys)
	}
	if !ok {
		return domain.Agreement{}, fail(newError(KindNotFound, "user %s not found", agreement.UserEmail), op, keys)
	}

	acceptDate := e.today()
	p := newPipeline(op, keys, e.logger)
	p.add("rent_apartment", func(ctx context.Context) error {
		return e.swapApartment(ctx, apt.ApartmentNo, domain.ApartmentPending, domain.ApartmentRented)
	}, func(ctx context.Context) error {
		return e.swapApartment(ctx, apt.ApartmentNo, domain.ApartmentRented, domain.ApartmentPending)
	})
	p.add("accept_agreement", func(ctx context.Context) error {
		res, err := e.records.Agreements.Update(ctx,
			domain.Filter{domain.IDField: id, "status": string(domain.AgreementPending)},
			domain.Patch{"status": string(domain.AgreementAccepted), "agreementAcceptDate": acceptDate})
		if err != nil {
			return err
		}
		return applied(res.Acknowledged, res.MatchedCount, "agreement %s is no longer pending", id)
	}, func(ctx context.Context) error {
		res, err := e.records.Agreements.Update(ctx,
			domain.Filter{domain.IDField: id, "status": string(domain.AgreementAccepted)},
			domain.Patch{"status": string(domain.AgreementPending), "agreementAcceptDate": ""})
		if err != nil {
			return err
		}
		return applied(res.Acknowledged, res.MatchedCount, "agreement %s is no longer accepted", id)
	})
	// admins keep their role while holding a tenancy
	if user.Role != domain.RoleAdmin {
		from := user.Role
		p.add("promote_user", func(ctx context.Context) error {
			return e.swapRole(ctx, user.Email, from, domain.RoleMember)
		}, func(ctx context.Context) error {
			return e.swapRole(ctx, user.Email, domain.RoleMember, from)
		})
	}
	if err := p.execute(ctx); err != nil {
		return domain.Agreement{}, err
	}
	agreement.Status = domain.AgreementAccepted
	agreement.AgreementAcceptDate = acceptDate
	return agreement, nil
}

// CancelByApartment cancels the agreement held on apartmentNo.
func (e *Engine) CancelByApartment(ctx context.Context, caller Caller, apartmentNo string) (CancelResult, error) {
	if apartmentNo == "" {
		return CancelResult{}, fail(newError(KindValidation, "apartment_no is required"), "cancel", nil)
	}
	return e.cancel(ctx, "cancel", caller, domain.Filter{"apartment_no": apartmentNo}, map[string]string{"apartment_no": apartmentNo})
}

// CancelByEmail cancels the agreement held by email.
func (e *Engine) CancelByEmail(ctx context.Context, caller Caller, email string) (CancelResult, error) {
	if email == "" {
		return CancelResult{}, fail(newError(KindValidation, "email is required"), "member_cancel", nil)
	}
	return e.cancel(ctx, "member_cancel", caller, domain.Filter{"userEmail": email}, map[string]string{"user_email": email})
}

func (e *Engine) cancel(ctx context.Context, op string, caller Caller, filter domain.Filter, keys map[string]string) (CancelResult, error) {
	found, ok, err := e.records.Agreements.Get(ctx, filter)
	if err != nil {
		return CancelResult{}, fail(err, op, keys)
	}
	if !ok {
		return CancelResult{}, fail(newError(KindNotFound, "agreement not found"), op, keys)
	}
	keys["agreement_id"] = found.ID
	keys["apartment_no"] = found.ApartmentNo
	keys["user_email"] = found.UserEmail
	if !caller.Admin() && caller.Email != found.UserEmail {
		return CancelResult{}, fail(newError(KindForbidden, "agreement belongs to another user"), op, keys)
	}
	defer e.locks.lock(apartmentKey(found.ApartmentNo), userKey(found.UserEmail))()

	agreement, ok, err := e.records.Agreements.Get(ctx, byID(found.ID))
	if err != nil {
		return CancelResult{}, fail(err, op, keys)
	}
	if !ok {
		return CancelResult{}, fail(newError(KindNotFound, "agreement not found"), op, keys)
	}
	apt, ok, err := e.records.Apartments.Get(ctx, domain.Filter{"apartment_no": agreement.ApartmentNo})
	if err != nil {
		return CancelResult{}, fail(err, op, keys)
	}
	if !ok {
		return CancelResult{}, fail(newError(KindNotFound, "apartment %s not found", agreement.ApartmentNo), op, keys)
	}

	p := newPipeline(op, keys, e.logger)
	if err := e.addRelease(p, agreement, apt); err != nil {
		return CancelResult{}, fail(err, op, keys)
	}
	var deleted domain.DeleteResult
	p.add("delete_agreement", func(ctx context.Context) error {
		var err error
		deleted, err = e.removeAgreement(ctx, agreement)
		return err
	}, func(ctx context.Context) error {
		return e.restoreAgreement(ctx, agreement)
	})
	if agreement.Status.Accepted() {
		// admins never held the member role, so a miss is not an error
		p.add("demote_user", func(ctx context.Context) error {
			res, err := e.records.Users.Update(ctx,
				domain.Filter{"email": agreement.UserEmail, "role": string(domain.RoleMember)},
				domain.Patch{"role": string(domain.RoleUser)})
			if err != nil {
				return err
			}
			if !res.Acknowledged {
				return newError(KindStoreUnavailable, "user %s demotion not acknowledged", agreement.UserEmail)
			}
			return nil
		}, nil)
	}
	if err := p.execute(ctx); err != nil {
		return CancelResult{}, err
	}
	apt.Status = domain.ApartmentAvailable
	return CancelResult{Agreement: agreement, Apartment: apt, Deleted: deleted}, nil
}

// addRelease schedules the apartment's return to available. An apartment
// already available (a stale agreement row) needs no write.
func (e *Engine) addRelease(p *pipeline, agreement domain.Agreement, apt domain.Apartment) error {
	if apt.Status == domain.ApartmentAvailable {
		return nil
	}
	expected := domain.ApartmentStatusFor(agreement.Status)
	if apt.Status != expected {
		return newError(KindConflict, "apartment %s is %s but agreement %s is %s", apt.ApartmentNo, apt.Status, agreement.ID, agreement.Status)
	}
	p.add("release_apartment", func(ctx context.Context) error {
		return e.swapApartment(ctx, apt.ApartmentNo, expected, domain.ApartmentAvailable)
	}, func(ctx context.Context) error {
		return e.swapApartment(ctx, apt.ApartmentNo, domain.ApartmentAvailable, expected)
	})
	return nil
}

// RemoveMember ends a tenancy on an admin's behalf. User, agreement and
// apartment are all resolved before the first write, so a missing record
// leaves the store untouched.
func (e *Engine) RemoveMember(ctx context.Context, caller Caller, email string) (RemoveResult, error) {
	const op = "remove_member"
	if email == "" {
		return RemoveResult{}, fail(newError(KindValidation, "email is required"), op, nil)
	}
	keys := map[string]string{"user_email": email}
	if !caller.Admin() {
		return RemoveResult{}, fail(newError(KindForbidden, "only admins can remove members"), op, keys)
	}
	if _, ok, err := e.records.Users.Get(ctx, domain.Filter{"email": email}); err != nil {
		return RemoveResult{}, fail(err, op, keys)
	} else if !ok {
		return RemoveResult{}, fail(newError(KindNotFound, "user %s not found", email), op, keys)
	}
	found, ok, err := e.records.Agreements.Get(ctx, domain.Filter{"userEmail": email})
	if err != nil {
		return RemoveResult{}, fail(err, op, keys)
	}
	if !ok {
		return RemoveResult{}, fail(newError(KindNotFound, "Agreement not found"), op, keys)
	}
	keys["agreement_id"] = found.ID
	keys["apartment_no"] = found.ApartmentNo
	defer e.locks.lock(apartmentKey(found.ApartmentNo), userKey(email))()

	user, ok, err := e.records.Users.Get(ctx, domain.Filter{"email": email})
	if err != nil {
		return RemoveResult{}, fail(err, op, keys)
	}
	if !ok {
		return RemoveResult{}, fail(newError(KindNotFound, "user %s not found", email), op, keys)
	}
	agreement, ok, err := e.records.Agreements.Get(ctx, byID(found.ID))
	if err != nil {
		return RemoveResult{}, fail(err, op, keys)
	}
	if !ok {
		return RemoveResult{}, fail(newError(KindNotFound, "Agreement not found"), op, keys)
	}
	apt, ok, err := e.records.Apartments.Get(ctx, domain.Filter{"apartment_no": agreement.ApartmentNo})
	if err != nil {
		return RemoveResult{}, fail(err, op, keys)
	}
	if !ok {
		return RemoveResult{}, fail(newError(KindNotFound, "apartment %s not found", agreement.ApartmentNo), op, keys)
	}

	p := newPipeline(op, keys, e.logger)
	if user.Role == domain.RoleMember {
		p.add("demote_user", func(ctx context.Context) error {
			return e.swapRole(ctx, email, domain.RoleMember, domain.RoleUser)
		}, func(ctx context.Context) error {
			return e.swapRole(ctx, email, domain.RoleUser, domain.RoleMember)
		})
	}
	if err := e.addRelease(p, agreement, apt); err != nil {
		return RemoveResult{}, fail(err, op, keys)
	}
	p.add("delete_agreement", func(ctx context.Context) error {
		_, err := e.removeAgreement(ctx, agreement)
		return err
	}, func(ctx context.Context) error {
		return e.restoreAgreement(ctx, agreement)
	})
	if err := p.execute(ctx); err != nil {
		return RemoveResult{}, err
	}

	apt.Status = domain.ApartmentAvailable
	if user.Role == domain.RoleMember {
		user.Role = domain.RoleUser
	}
	if refreshed, ok, err := e.records.Users.Get(ctx, domain.Filter{"email": email}); err == nil && ok {
		user = refreshed
	}
	return RemoveResult{User: user, Agreement: agreement, Apartment: apt}, nil
}
