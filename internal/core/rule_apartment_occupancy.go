package core

import (
	"context"
	"fmt"

	"nexurabuild/pkg/domain"
)

// NewApartmentOccupancyRule checks that each apartment's status mirrors the
// agreements held on it.
func NewApartmentOccupancyRule() domain.Rule {
	return apartmentOccupancyRule{}
}

type apartmentOccupancyRule struct{}

func (apartmentOccupancyRule) Name() string { return "apartment_occupancy" }

func (r apartmentOccupancyRule) Evaluate(_ context.Context, view domain.RuleView) (domain.Result, error) {
	held := agreementsBy(view.ListAgreements(), func(a domain.Agreement) string { return a.ApartmentNo })

	res := domain.Result{}
	block := func(apt domain.Apartment, format string, args ...any) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("apartment %s: ", apt.ApartmentNo) + fmt.Sprintf(format, args...),
			Entity:   domain.EntityApartment,
			EntityID: apt.ApartmentNo,
		})
	}
	for _, apt := range view.ListApartments() {
		agreements := held[apt.ApartmentNo]
		if len(agreements) > 1 {
			block(apt, "%d agreements held, at most one allowed", len(agreements))
			continue
		}
		switch apt.Status {
		case domain.ApartmentAvailable:
			if len(agreements) == 1 {
				block(apt, "available but agreement %s is %s", agreements[0].ID, agreements[0].Status)
			}
		case domain.ApartmentPending, domain.ApartmentRented:
			if len(agreements) == 0 {
				block(apt, "%s without an agreement", apt.Status)
				continue
			}
			if want := domain.ApartmentStatusFor(agreements[0].Status); want != apt.Status {
				block(apt, "%s but agreement %s is %s", apt.Status, agreements[0].ID, agreements[0].Status)
			}
		}
	}
	return res, nil
}
