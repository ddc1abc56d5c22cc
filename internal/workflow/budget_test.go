package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/plumeworks/plume/internal/models"
)

func TestIterationBudgetBases(t *testing.T) {
	b := DefaultIterationBudget()

	// quality high enough for no bonus, requirements met
	tests := []struct {
		category string
		want     int
	}{
		{models.CategoryCoverLetter, 4},
		{models.CategoryMotivationalLetter, 6},
		{models.CategoryEmail, 2},
		{models.CategorySocialResponse, 2},
		{"press_release", 3}, // unknown category falls back to the default base
	}
	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Max(tt.category, 90, true))
		})
	}
}

func TestIterationBudgetQualityBonus(t *testing.T) {
	b := DefaultIterationBudget()

	tests := []struct {
		name    string
		quality float64
		want    int
	}{
		{"far below target adds 3", 50, 7},
		{"boundary 70 is not below 70, adds 2", 70, 6},
		{"below 80 adds 2", 75, 6},
		{"boundary 80 is not below 80, adds 1", 80, 5},
		{"below 85 adds 1", 84.9, 5},
		{"boundary 85 adds nothing", 85, 4},
		{"above target adds nothing", 92, 4},
		{"bands never stack", 69.9, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Max(models.CategoryCoverLetter, tt.quality, true))
		})
	}
}

func TestIterationBudgetRequirementsBonus(t *testing.T) {
	b := DefaultIterationBudget()
	// base 2, +2 quality below 80, +2 requirements unmet
	assert.Equal(t, 6, b.Max(models.CategoryEmail, 75, false))
	// same quality with requirements met drops the flat bonus
	assert.Equal(t, 4, b.Max(models.CategoryEmail, 75, true))
}

func TestIterationBudgetCeiling(t *testing.T) {
	b := DefaultIterationBudget()
	// 6 + 3 + 2 = 11, clamped to 10
	assert.Equal(t, 10, b.Max(models.CategoryMotivationalLetter, 60, false))
	// 4 + 3 + 2 = 9, under the ceiling
	assert.Equal(t, 9, b.Max(models.CategoryCoverLetter, 60, false))
}
