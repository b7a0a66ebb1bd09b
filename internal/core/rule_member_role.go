package core

import (
	"context"
	"fmt"

	"nexurabuild/pkg/domain"
)

// NewMemberRoleRule checks that the member role is held exactly by users with
// one accepted agreement.
func NewMemberRoleRule() domain.Rule {
	return memberRoleRule{}
}

type memberRoleRule struct{}

func (memberRoleRule) Name() string { return "member_role" }

func (r memberRoleRule) Evaluate(_ context.Context, view domain.RuleView) (domain.Result, error) {
	accepted := make(map[string]int)
	for _, a := range view.ListAgreements() {
		if a.Status.Accepted() {
			accepted[a.UserEmail]++
		}
	}
	res := domain.Result{}
	for _, u := range view.ListUsers() {
		n := accepted[u.Email]
		var (
			severity domain.Severity
			msg      string
		)
		switch {
		case u.Role == domain.RoleMember && n != 1:
			severity, msg = domain.SeverityBlock, fmt.Sprintf("user %s is a member with %d accepted agreements", u.Email, n)
		case u.Role == domain.RoleUser && n > 0:
			severity, msg = domain.SeverityBlock, fmt.Sprintf("user %s holds %d accepted agreements without the member role", u.Email, n)
		case u.Role == domain.RoleAdmin && n > 0:
			severity, msg = domain.SeverityWarn, fmt.Sprintf("admin %s holds %d accepted agreements", u.Email, n)
		default:
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: severity,
			Message:  msg,
			Entity:   domain.EntityUser,
			EntityID: u.Email,
		})
	}
	return res, nil
}
