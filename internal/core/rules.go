package core

import "nexurabuild/pkg/domain"

type (
	// Rule aliases domain.Rule.
	Rule = domain.Rule
	// RuleView aliases domain.RuleView.
	RuleView = domain.RuleView
	// Result aliases domain.Result.
	Result = domain.Result
	// Violation aliases domain.Violation.
	Violation = domain.Violation
	// RulesEngine aliases domain.RulesEngine.
	RulesEngine = domain.RulesEngine
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in consistency checks.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewStatusValuesRule())
	engine.Register(NewApartmentOccupancyRule())
	engine.Register(NewMemberRoleRule())
	engine.Register(NewAgreementReferencesRule())
	return engine
}

func toSet(values ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

// agreementsBy groups agreements by the key returned from key.
func agreementsBy(agreements []domain.Agreement, key func(domain.Agreement) string) map[string][]domain.Agreement {
	out := make(map[string][]domain.Agreement)
	for _, a := range agreements {
		k := key(a)
		out[k] = append(out[k], a)
	}
	return out
}
