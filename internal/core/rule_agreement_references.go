package core

import (
	"context"
	"fmt"
	"sort"

	"nexurabuild/pkg/domain"
)

// NewAgreementReferencesRule reports agreements pointing at unknown
// apartments or users, and users holding more than one agreement.
func NewAgreementReferencesRule() domain.Rule {
	return agreementReferencesRule{}
}

type agreementReferencesRule struct{}

func (agreementReferencesRule) Name() string { return "agreement_references" }

func (r agreementReferencesRule) Evaluate(_ context.Context, view domain.RuleView) (domain.Result, error) {
	res := domain.Result{}
	agreements := view.ListAgreements()
	for _, a := range agreements {
		if _, ok := view.FindApartment(a.ApartmentNo); !ok {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("agreement %s references unknown apartment %s", a.ID, a.ApartmentNo),
				Entity:   domain.EntityAgreement,
				EntityID: a.ID,
			})
		}
		if _, ok := view.FindUser(a.UserEmail); !ok {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("agreement %s references unknown user %s", a.ID, a.UserEmail),
				Entity:   domain.EntityAgreement,
				EntityID: a.ID,
			})
		}
	}
	byUser := agreementsBy(agreements, func(a domain.Agreement) string { return a.UserEmail })
	emails := make([]string, 0, len(byUser))
	for email := range byUser {
		emails = append(emails, email)
	}
	sort.Strings(emails)
	for _, email := range emails {
		if n := len(byUser[email]); n > 1 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("user %s holds %d agreements", email, n),
				Entity:   domain.EntityUser,
				EntityID: email,
			})
		}
	}
	return res, nil
}
