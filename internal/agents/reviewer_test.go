package agents

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/plumeworks/plume/internal/models"
)

const reviewJSON = `{
	"overall_score": 86.5,
	"coherence": 88,
	"naturalness": 84,
	"grammar_accuracy": 95,
	"completeness": 82,
	"lexical_quality": 87,
	"personalization": 78,
	"suggestions": ["Name the hiring manager in the opening"]
}`

func TestReviewerScoresContent(t *testing.T) {
	sidecar := newFakeSidecar(t)
	sidecar.completeFn = func(call llmCall) (string, int) {
		return "Here is my review:\n" + reviewJSON, http.StatusOK
	}

	r := NewReviewer(sidecar.client(), zaptest.NewLogger(t))
	review, err := r.Review(context.Background(), "A short but complete letter body.", models.Requirements{MaxWords: 100})
	require.NoError(t, err)

	assert.InDelta(t, 86.5, review.Evaluation.OverallScore, 0.001)
	assert.InDelta(t, 88, review.Evaluation.Coherence, 0.001)
	assert.InDelta(t, 78, review.Evaluation.Personalization, 0.001)
	assert.True(t, review.RequirementsMet)
	assert.Equal(t, []string{"Name the hiring manager in the opening"}, review.Suggestions)
	assert.Equal(t, 6, review.Stats.WordCount)

	call := sidecar.lastCall()
	assert.Equal(t, "reviewer", call.AgentID)
	assert.Equal(t, TierSmall, call.ModelTier)
	assert.Contains(t, call.Query, "A short but complete letter body.")
	assert.Contains(t, call.Query, "- Words: 6")
}

func TestReviewerClampsScores(t *testing.T) {
	sidecar := newFakeSidecar(t)
	sidecar.completeFn = func(call llmCall) (string, int) {
		return `{"overall_score": 130, "coherence": -10, "naturalness": 50,
			"grammar_accuracy": 50, "completeness": 50, "lexical_quality": 50,
			"personalization": 50, "suggestions": []}`, http.StatusOK
	}

	r := NewReviewer(sidecar.client(), zaptest.NewLogger(t))
	review, err := r.Review(context.Background(), "Some content here.", models.Requirements{})
	require.NoError(t, err)

	assert.Equal(t, 100.0, review.Evaluation.OverallScore)
	assert.Equal(t, 0.0, review.Evaluation.Coherence)
}

func TestReviewerWordLimitViolation(t *testing.T) {
	sidecar := newFakeSidecar(t)
	sidecar.completeFn = func(call llmCall) (string, int) {
		return reviewJSON, http.StatusOK
	}

	r := NewReviewer(sidecar.client(), zaptest.NewLogger(t))
	review, err := r.Review(context.Background(), "one two three four five six seven", models.Requirements{MaxWords: 5})
	require.NoError(t, err)

	assert.False(t, review.RequirementsMet)
	assert.Contains(t, review.Suggestions, "Shorten the content to at most 5 words (currently 7)")
}

func TestReviewerMinWordsViolation(t *testing.T) {
	sidecar := newFakeSidecar(t)
	sidecar.completeFn = func(call llmCall) (string, int) {
		return reviewJSON, http.StatusOK
	}

	r := NewReviewer(sidecar.client(), zaptest.NewLogger(t))
	review, err := r.Review(context.Background(), "too short", models.Requirements{MinWords: 50})
	require.NoError(t, err)

	assert.False(t, review.RequirementsMet)
	assert.Contains(t, review.Suggestions, "Expand the content to at least 50 words (currently 2)")
}

func TestReviewerGarbledResponseFallsBackNeutral(t *testing.T) {
	sidecar := newFakeSidecar(t)
	sidecar.completeFn = func(call llmCall) (string, int) {
		return "I think it is pretty good overall!", http.StatusOK
	}

	r := NewReviewer(sidecar.client(), zaptest.NewLogger(t))
	review, err := r.Review(context.Background(), "Review me please.", models.Requirements{})
	require.NoError(t, err)

	assert.Equal(t, 50.0, review.Evaluation.OverallScore)
	assert.Equal(t, 50.0, review.Evaluation.GrammarAccuracy)
	assert.True(t, review.RequirementsMet)
	assert.Empty(t, review.Suggestions)
}

func TestReviewerEmptyContentFails(t *testing.T) {
	sidecar := newFakeSidecar(t)
	r := NewReviewer(sidecar.client(), zaptest.NewLogger(t))

	_, err := r.Review(context.Background(), "   ", models.Requirements{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty content")
	assert.Zero(t, sidecar.callCount())
}

func TestReviewerSidecarErrorPropagates(t *testing.T) {
	sidecar := newFakeSidecar(t)
	sidecar.completeFn = func(call llmCall) (string, int) {
		return "", http.StatusInternalServerError
	}

	r := NewReviewer(sidecar.client(), zaptest.NewLogger(t))
	_, err := r.Review(context.Background(), "Content.", models.Requirements{})
	require.Error(t, err)
}
