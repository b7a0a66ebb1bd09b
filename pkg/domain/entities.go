// Package domain defines the persistent records, value types, and
// consistency rule primitives used by nexurabuild.
package domain

import "time"

// EntityType identifies the collection a record is stored in.
type EntityType string

// Supported entity type identifiers used for store collections and rule violations.
const (
	// EntityUser identifies a user account keyed by email.
	EntityUser EntityType = "users"
	// EntityApartment identifies a rentable unit keyed by apartment_no.
	EntityApartment EntityType = "apartment"
	// EntityAgreement identifies a tenancy application or contract.
	EntityAgreement EntityType = "agreements"
	// EntityPayment identifies an append-only rent payment record.
	EntityPayment EntityType = "payments"
	// EntityAnnouncement identifies a building announcement.
	EntityAnnouncement EntityType = "announcements"
	// EntityCoupon identifies a rent discount coupon.
	EntityCoupon EntityType = "coupons"
)

// Role is the access level of a user. Only the lifecycle engine moves a user
// between RoleUser and RoleMember.
type Role string

// Canonical user roles.
const (
	RoleUser   Role = "user"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleMember, RoleAdmin:
		return true
	}
	return false
}

// ApartmentStatus is the occupancy state of an apartment.
type ApartmentStatus string

// Canonical apartment statuses.
const (
	ApartmentAvailable ApartmentStatus = "available"
	ApartmentPending   ApartmentStatus = "pending"
	ApartmentRented    ApartmentStatus = "rented"
)

// Valid reports whether s is a known apartment status.
func (s ApartmentStatus) Valid() bool {
	switch s {
	case ApartmentAvailable, ApartmentPending, ApartmentRented:
		return true
	}
	return false
}

// AgreementStatus is the state of a tenancy agreement.
type AgreementStatus string

// Canonical agreement statuses. AgreementChecked is the marker written by the
// legacy admin review flow and is treated as an accepted tenancy.
const (
	AgreementPending  AgreementStatus = "pending"
	AgreementAccepted AgreementStatus = "accepted"
	AgreementChecked  AgreementStatus = "checked"
)

// Valid reports whether s is a known agreement status.
func (s AgreementStatus) Valid() bool {
	switch s {
	case AgreementPending, AgreementAccepted, AgreementChecked:
		return true
	}
	return false
}

// Accepted reports whether the agreement represents an active tenancy.
func (s AgreementStatus) Accepted() bool {
	return s == AgreementAccepted || s == AgreementChecked
}

// ApartmentStatusFor returns the apartment status mirrored by an agreement in state s.
func ApartmentStatusFor(s AgreementStatus) ApartmentStatus {
	if s.Accepted() {
		return ApartmentRented
	}
	return ApartmentPending
}

// DateLayout is the calendar-day format used for agreement acceptance dates.
const DateLayout = "2006-01-02"

// User is an account created on first sign-in.
type User struct {
	ID        string    `json:"_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	PhotoURL  string    `json:"photoURL,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Apartment is a rentable unit. Status is written only by the lifecycle engine.
type Apartment struct {
	ID          string          `json:"_id,omitempty"`
	ApartmentNo string          `json:"apartment_no"`
	FloorNo     int             `json:"floor_no"`
	BlockName   string          `json:"block_name"`
	Rent        float64         `json:"rent"`
	Image       string          `json:"apartment_image,omitempty"`
	Status      ApartmentStatus `json:"status"`
}

// Agreement links a user to an apartment. At most one active agreement exists
// per apartment and per user.
type Agreement struct {
	ID                  string          `json:"_id,omitempty"`
	UserName            string          `json:"userName,omitempty"`
	UserEmail           string          `json:"userEmail"`
	ApartmentNo         string          `json:"apartment_no"`
	FloorNo             int             `json:"floor_no"`
	BlockName           string          `json:"block_name,omitempty"`
	Rent                float64         `json:"rent"`
	Status              AgreementStatus `json:"status"`
	RequestDate         string          `json:"request_date,omitempty"`
	AgreementAcceptDate string          `json:"agreementAcceptDate,omitempty"`
}

// Payment records a completed rent payment. Payments are never mutated.
type Payment struct {
	ID            string    `json:"_id,omitempty"`
	Email         string    `json:"email"`
	ApartmentNo   string    `json:"apartment_no,omitempty"`
	Amount        float64   `json:"amount"`
	Month         string    `json:"month"`
	CouponCode    string    `json:"coupon_code,omitempty"`
	TransactionID string    `json:"transactionId,omitempty"`
	Date          time.Time `json:"date"`
}

// Announcement is a notice published to tenants.
type Announcement struct {
	ID          string `json:"_id,omitempty"`
	PostDate    string `json:"post_date"`
	PostTitle   string `json:"post_title"`
	Description string `json:"description"`
}

// Coupon is a rent discount offered to members.
type Coupon struct {
	ID          string  `json:"_id,omitempty"`
	CouponTitle string  `json:"coupon_title"`
	CouponCode  string  `json:"coupon_code"`
	Discount    float64 `json:"discount"`
	Description string  `json:"description,omitempty"`
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities.
const (
	// SeverityBlock marks a broken invariant that needs reconciliation.
	SeverityBlock Severity = "block"
	// SeverityWarn marks a suspicious but tolerated state.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Entity   EntityType `json:"entity"`
	EntityID string     `json:"entity_id"`
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation `json:"violations"`
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// PaymentIntent is a processor-side payment handle returned to the client.
type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"clientSecret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}
