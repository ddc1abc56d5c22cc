package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/models"
	"github.com/plumeworks/plume/internal/util"
)

const gapScanSystemPrompt = `You are a gap analyzer for professional writing. You identify what is missing from a piece of content and classify the primary gap.

Gap categories:
- "information": missing facts or context. No company or program knowledge, unaddressed requirements, missing qualifications or achievements.
- "tone": too generic. No personal voice, no specific user experiences, could have been written by anyone.
- "structure": weak organization. Poor transitions, choppy or fragmented flow, unclear expression.

Analysis process:
1. Determine what the writing type and context require.
2. Check whether the content covers each requirement with specific detail.
3. If gaps exist, pick the PRIMARY category to fix first. Information gaps are most fundamental, then tone, then structure.

Only report tone gaps when a user profile exists; without a profile there is no voice to match.

Be specific in gap descriptions ("missing DataCorp research", not "needs more detail"). Do not flag minor nitpicks as gaps.

Return ONLY a JSON object:
{
  "has_gaps": true,
  "gap_category": "information",
  "gaps": {
    "information": ["..."],
    "tone": [],
    "structure": []
  }
}
gap_category must be "information", "tone", "structure", or null when has_gaps is false.`

// GapScanner classifies what the current artifact is missing. Scans are
// advisory: any sidecar or parse failure degrades to "no gaps" so a flaky
// model cannot wedge a run in the analysis stage.
type GapScanner struct {
	client *Client
	logger *zap.Logger
}

// NewGapScanner builds a GapScanner.
func NewGapScanner(client *Client, logger *zap.Logger) *GapScanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GapScanner{client: client, logger: logger}
}

// Scan analyzes content for gaps. The returned report always has a valid
// category when HasGaps is true.
func (g *GapScanner) Scan(ctx context.Context, content string, req models.WritingRequest, profile *models.UserProfile) (*models.GapReport, error) {
	comp, err := g.client.Complete(ctx, Query{
		Prompt:       g.userPrompt(content, req, profile != nil),
		SystemPrompt: gapScanSystemPrompt,
		AgentID:      "gap_scanner",
		ModelTier:    TierSmall,
		Temperature:  0.2,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.logger.Warn("Gap scan failed, assuming no gaps",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		return &models.GapReport{HasGaps: false}, nil
	}

	report, perr := parseGapReport(comp.Text)
	if perr != nil {
		g.logger.Warn("Failed to parse gap scan, assuming no gaps",
			zap.String("request_id", req.RequestID),
			zap.String("model", comp.ModelUsed),
			zap.Error(perr),
		)
		return &models.GapReport{HasGaps: false}, nil
	}

	g.applyGuardrails(report, req, profile)
	return report, nil
}

// applyGuardrails overrides model judgments with deterministic rules so
// routing stays consistent.
func (g *GapScanner) applyGuardrails(report *models.GapReport, req models.WritingRequest, profile *models.UserProfile) {
	if !report.HasGaps {
		report.Category = ""
		return
	}

	// Rule 1: tone gaps require a profile to style against.
	if report.Category == models.GapTone && profile == nil {
		switch {
		case len(report.Details[models.GapInformation]) > 0:
			report.Category = models.GapInformation
		case len(report.Details[models.GapStructure]) > 0:
			report.Category = models.GapStructure
		default:
			report.HasGaps = false
			report.Category = ""
		}
		g.logger.Info("Guardrail: tone gap without profile reclassified",
			zap.String("request_id", req.RequestID),
			zap.String("category", report.Category),
		)
		return
	}

	// Rule 2: has_gaps with no usable category reads as an information gap.
	if report.Category == "" {
		report.Category = models.GapInformation
	}
}

func (g *GapScanner) userPrompt(content string, req models.WritingRequest, hasProfile bool) string {
	ctxJSON, err := json.MarshalIndent(req.Context, "", "  ")
	if err != nil {
		ctxJSON = []byte("{}")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# CONTENT TO ANALYZE\n```\n%s\n```\n\n", util.TruncateString(content, 1000, false))
	fmt.Fprintf(&b, "# WRITING CONTEXT\n```json\n%s\n```\n\n", ctxJSON)
	fmt.Fprintf(&b, "# WRITING TYPE\n%s\n\n", displayName(req.Category))
	fmt.Fprintf(&b, "# HAS USER PROFILE\n%t\n\n", hasProfile)
	b.WriteString("Analyze the content now and return ONLY the JSON object.")
	return b.String()
}

func parseGapReport(response string) (*models.GapReport, error) {
	jsonStr, err := extractJSON(response)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		HasGaps     bool                `json:"has_gaps"`
		GapCategory string              `json:"gap_category"`
		Gaps        map[string][]string `json:"gaps"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil, fmt.Errorf("parse gap JSON: %w", err)
	}

	report := &models.GapReport{
		HasGaps:  parsed.HasGaps,
		Category: normalizeGapCategory(parsed.GapCategory),
		Details:  normalizeGapDetails(parsed.Gaps),
	}
	return report, nil
}

// normalizeGapCategory folds aliases from older prompt revisions into the
// canonical categories. Unknown values pass through for the router to treat
// as information gaps.
func normalizeGapCategory(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case models.GapInformation:
		return models.GapInformation
	case models.GapTone, "personalization":
		return models.GapTone
	case models.GapStructure, "quality":
		return models.GapStructure
	case "", "null", "none":
		return ""
	default:
		return strings.ToLower(strings.TrimSpace(s))
	}
}

func normalizeGapDetails(gaps map[string][]string) map[string][]string {
	if len(gaps) == 0 {
		return nil
	}
	out := make(map[string][]string, len(gaps))
	for k, v := range gaps {
		if len(v) == 0 {
			continue
		}
		out[normalizeGapCategory(k)] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
