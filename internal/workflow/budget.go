package workflow

import "github.com/plumeworks/plume/internal/models"

// IterationBudget computes how many corrective rewrites a run may spend.
// The budget is recomputed from the live state on every routing decision, so
// a low score or unmet requirements can widen it mid-run.
type IterationBudget struct {
	// Bases maps a writing category to its base allowance.
	Bases map[string]int `yaml:"bases" json:"bases"`
	// DefaultBase applies to unknown categories.
	DefaultBase int `yaml:"default_base" json:"default_base"`
	// Ceiling caps the total allowance after bonuses.
	Ceiling int `yaml:"ceiling" json:"ceiling"`
}

// DefaultIterationBudget returns the standard allowances: long persuasive
// forms get room to iterate, short transactional forms get little.
func DefaultIterationBudget() IterationBudget {
	return IterationBudget{
		Bases: map[string]int{
			models.CategoryCoverLetter:        4,
			models.CategoryMotivationalLetter: 6,
			models.CategoryEmail:              2,
			models.CategorySocialResponse:     2,
		},
		DefaultBase: 3,
		Ceiling:     10,
	}
}

// Max returns the iteration allowance for a category given the latest
// quality score and requirements verdict. Exactly one quality bonus applies,
// the largest one whose band matches; unmet requirements add a flat bonus on
// top. The result never exceeds the ceiling.
func (b IterationBudget) Max(category string, quality float64, requirementsMet bool) int {
	base, ok := b.Bases[category]
	if !ok {
		base = b.DefaultBase
	}

	switch {
	case quality < 70:
		base += 3
	case quality < 80:
		base += 2
	case quality < 85:
		base += 1
	}

	if !requirementsMet {
		base += 2
	}

	if base > b.Ceiling {
		base = b.Ceiling
	}
	return base
}
