package severity

import (
	"UnrestWatch/internal/domain"
)

// Weights configures the severity model. Scope weights must be strictly
// ordered general > national > regional > local > company; sector weights
// are a free lookup table with a fallback for unlisted sectors.
type Weights struct {
	Scope         map[domain.Scope]float64
	Sector        map[string]float64
	SectorDefault float64
	DurationDay   float64
}

// DefaultWeights returns the baseline model used when config omits one.
func DefaultWeights() Weights {
	return Weights{
		Scope: map[domain.Scope]float64{
			domain.ScopeGeneral:  5,
			domain.ScopeNational: 4,
			domain.ScopeRegional: 3,
			domain.ScopeLocal:    2,
			domain.ScopeCompany:  1,
		},
		Sector: map[string]float64{
			"transport":          1.5,
			"health":             1.5,
			"energy":             1.4,
			"public_services":    1.3,
			"education":          1.2,
			"maritime":           1.2,
			"manufacturing":      1.0,
			"telecommunications": 1.0,
		},
		SectorDefault: 0.8,
		DurationDay:   0.5,
	}
}

// Scorer computes the deterministic severity of an event from its current
// aggregated attributes. Corroborating coverage is reported as a separate
// confidence value, not folded into severity.
type Scorer struct {
	weights Weights
}

// NewScorer validates nothing beyond zero-value fallbacks; an empty Weights
// struct degrades to DefaultWeights.
func NewScorer(weights Weights) *Scorer {
	defaults := DefaultWeights()
	if len(weights.Scope) == 0 {
		weights.Scope = defaults.Scope
	}
	if len(weights.Sector) == 0 {
		weights.Sector = defaults.Sector
	}
	if weights.SectorDefault == 0 {
		weights.SectorDefault = defaults.SectorDefault
	}
	if weights.DurationDay == 0 {
		weights.DurationDay = defaults.DurationDay
	}
	return &Scorer{weights: weights}
}

// Score returns (severity, confidence) as a pure function of the event.
// Unknown duration counts as a single day; unknown scope contributes zero.
func (s *Scorer) Score(event domain.Event) (float64, float64) {
	severity := s.weights.Scope[event.Scope]

	if weight, ok := s.weights.Sector[event.Sector]; ok {
		severity += weight
	} else if event.Sector != "" {
		severity += s.weights.SectorDefault
	}

	severity += s.weights.DurationDay * float64(event.DurationDays())

	return severity, corroboration(len(event.MemberIDs))
}

// corroboration maps member count onto (0,1]: one article gives 0.5 and
// every further independent article closes half the remaining gap.
func corroboration(members int) float64 {
	if members <= 0 {
		return 0
	}
	confidence := 1.0
	step := 0.5
	for i := 0; i < members; i++ {
		confidence -= step
		step /= 2
	}
	return 1 - confidence
}
