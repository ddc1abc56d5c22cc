package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/models"
	"github.com/plumeworks/plume/internal/textstats"
	"github.com/plumeworks/plume/internal/workflow"
)

const reviewerSystemPrompt = `You are a writing quality reviewer. You evaluate professional writing against explicit requirements and score it precisely.

Score each dimension on a 0-100 scale:
- overall_score: holistic quality of the piece
- coherence: logical organization, transitions, paragraph flow
- naturalness: reads like a human wrote it, no stilted phrasing
- grammar_accuracy: grammar, spelling, punctuation, mechanics
- completeness: covers everything the context and requirements demand
- lexical_quality: word choice precision and variety
- personalization: specific, personal, not generic boilerplate

Also list concrete, actionable suggestions for the weakest areas. Be specific ("strengthen the opening hook with the company name"), never vague ("improve quality").

Return ONLY a JSON object:
{
  "overall_score": 0,
  "coherence": 0,
  "naturalness": 0,
  "grammar_accuracy": 0,
  "completeness": 0,
  "lexical_quality": 0,
  "personalization": 0,
  "suggestions": ["..."]
}`

// Reviewer scores artifacts. Dimension scores come from the sidecar;
// requirement compliance is computed locally from text statistics so budget
// and routing decisions never depend on model arithmetic.
type Reviewer struct {
	client *Client
	logger *zap.Logger
}

// NewReviewer builds a Reviewer.
func NewReviewer(client *Client, logger *zap.Logger) *Reviewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reviewer{client: client, logger: logger}
}

// Review evaluates content against reqs.
func (r *Reviewer) Review(ctx context.Context, content string, reqs models.Requirements) (*workflow.Review, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("review: empty content")
	}

	stats := textstats.Compute(content)
	checks := checkRequirements(stats, reqs)
	met := true
	for _, ok := range checks {
		if !ok {
			met = false
			break
		}
	}

	comp, err := r.client.Complete(ctx, Query{
		Prompt:       r.userPrompt(content, reqs, stats),
		SystemPrompt: reviewerSystemPrompt,
		AgentID:      "reviewer",
		ModelTier:    TierSmall,
		Temperature:  0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("review: %w", err)
	}

	eval, suggestions, perr := parseEvaluation(comp.Text)
	if perr != nil {
		r.logger.Warn("Failed to parse review, using neutral scores",
			zap.String("model", comp.ModelUsed),
			zap.Error(perr),
		)
		eval = neutralEvaluation()
		suggestions = nil
	}

	suggestions = append(suggestions, requirementSuggestions(stats, reqs, checks)...)

	return &workflow.Review{
		Evaluation:      eval,
		Suggestions:     suggestions,
		RequirementsMet: met,
		Stats:           stats,
	}, nil
}

func (r *Reviewer) userPrompt(content string, reqs models.Requirements, stats models.TextStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# CONTENT TO REVIEW\n```\n%s\n```\n\n", content)
	fmt.Fprintf(&b, "# REQUIREMENTS\n%s\n", requirementsSection(reqs))
	fmt.Fprintf(&b, "# MEASURED STATISTICS\n- Words: %d\n- Paragraphs: %d\n- Estimated pages: %.2f\n\n",
		stats.WordCount, stats.ParagraphCount, stats.EstimatedPages)
	b.WriteString("Score the content now and return ONLY the JSON object.")
	return b.String()
}

func parseEvaluation(response string) (models.Evaluation, []string, error) {
	jsonStr, err := extractJSON(response)
	if err != nil {
		return models.Evaluation{}, nil, err
	}

	var parsed struct {
		OverallScore    float64  `json:"overall_score"`
		Coherence       float64  `json:"coherence"`
		Naturalness     float64  `json:"naturalness"`
		GrammarAccuracy float64  `json:"grammar_accuracy"`
		Completeness    float64  `json:"completeness"`
		LexicalQuality  float64  `json:"lexical_quality"`
		Personalization float64  `json:"personalization"`
		Suggestions     []string `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return models.Evaluation{}, nil, fmt.Errorf("parse evaluation JSON: %w", err)
	}

	eval := models.Evaluation{
		OverallScore:    clampScore(parsed.OverallScore),
		Coherence:       clampScore(parsed.Coherence),
		Naturalness:     clampScore(parsed.Naturalness),
		GrammarAccuracy: clampScore(parsed.GrammarAccuracy),
		Completeness:    clampScore(parsed.Completeness),
		LexicalQuality:  clampScore(parsed.LexicalQuality),
		Personalization: clampScore(parsed.Personalization),
	}
	return eval, parsed.Suggestions, nil
}

// neutralEvaluation keeps a run moving when the model response is garbled.
// Mid-range scores force at least one more refinement pass instead of either
// failing the run or accepting unreviewed content.
func neutralEvaluation() models.Evaluation {
	return models.Evaluation{
		OverallScore:    50,
		Coherence:       50,
		Naturalness:     50,
		GrammarAccuracy: 50,
		Completeness:    50,
		LexicalQuality:  50,
		Personalization: 50,
	}
}

func checkRequirements(stats models.TextStats, reqs models.Requirements) map[string]bool {
	checks := make(map[string]bool)
	if reqs.MaxWords > 0 {
		checks["max_words"] = stats.WordCount <= reqs.MaxWords
	}
	if reqs.MinWords > 0 {
		checks["min_words"] = stats.WordCount >= reqs.MinWords
	}
	if reqs.MaxPages > 0 {
		checks["max_pages"] = stats.EstimatedPages <= float64(reqs.MaxPages)
	}
	return checks
}

func requirementSuggestions(stats models.TextStats, reqs models.Requirements, checks map[string]bool) []string {
	var out []string
	if ok, present := checks["max_words"]; present && !ok {
		out = append(out, fmt.Sprintf("Shorten the content to at most %d words (currently %d)", reqs.MaxWords, stats.WordCount))
	}
	if ok, present := checks["min_words"]; present && !ok {
		out = append(out, fmt.Sprintf("Expand the content to at least %d words (currently %d)", reqs.MinWords, stats.WordCount))
	}
	if ok, present := checks["max_pages"]; present && !ok {
		out = append(out, fmt.Sprintf("Reduce the content to at most %d pages (currently %.2f)", reqs.MaxPages, stats.EstimatedPages))
	}
	return out
}
