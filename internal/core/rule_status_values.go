package core

import (
	"context"
	"fmt"

	"nexurabuild/pkg/domain"
)

// NewStatusValuesRule blocks records whose status or role is outside the known set.
func NewStatusValuesRule() domain.Rule {
	return statusValuesRule{}
}

type statusValuesRule struct{}

var (
	validApartmentStatuses = toSet(string(domain.ApartmentAvailable), string(domain.ApartmentPending), string(domain.ApartmentRented))
	validAgreementStatuses = toSet(string(domain.AgreementPending), string(domain.AgreementAccepted), string(domain.AgreementChecked))
	validRoles             = toSet(string(domain.RoleUser), string(domain.RoleMember), string(domain.RoleAdmin))
)

func (statusValuesRule) Name() string { return "status_values" }

func (r statusValuesRule) Evaluate(_ context.Context, view domain.RuleView) (domain.Result, error) {
	res := domain.Result{}
	flag := func(entity domain.EntityType, id, label, value string) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("%s %s has unknown value %q", label, id, value),
			Entity:   entity,
			EntityID: id,
		})
	}
	for _, apt := range view.ListApartments() {
		if _, ok := validApartmentStatuses[string(apt.Status)]; !ok {
			flag(domain.EntityApartment, apt.ApartmentNo, "apartment status of", string(apt.Status))
		}
	}
	for _, a := range view.ListAgreements() {
		if _, ok := validAgreementStatuses[string(a.Status)]; !ok {
			flag(domain.EntityAgreement, a.ID, "agreement status of", string(a.Status))
		}
	}
	for _, u := range view.ListUsers() {
		if _, ok := validRoles[string(u.Role)]; !ok {
			flag(domain.EntityUser, u.Email, "role of", string(u.Role))
		}
	}
	return res, nil
}
