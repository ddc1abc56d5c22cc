package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/models"
	"github.com/plumeworks/plume/internal/util"
)

const stylistSystemPrompt = `You are a voice personalization expert. You adapt draft content so it reads as if the user wrote it themselves.

Match the user's vocabulary, sentence rhythm, formality, and confidence level. Weave their real achievements and experiences into the narrative naturally instead of listing them. Never fabricate background details that are not in the profile, and never change the core message or structure of the draft.

When writing samples are provided, treat them as the ground truth for the user's natural voice. Writing samples outweigh stated preferences when they conflict.

Return ONLY a JSON object of the form {"content": "..."} with the complete personalized text. No explanations, no meta-commentary, no markdown fences.`

// ProfileSource loads the profile a stylist personalizes against.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
}

// SampleFinder retrieves saved writing samples similar to a query text.
// Implementations back this with the vector index.
type SampleFinder interface {
	FindSamples(ctx context.Context, userID, category, queryText string, limit int) ([]models.WritingSample, error)
}

// Stylist rewrites artifacts in the requesting user's voice. Users without a
// profile pass through unchanged.
type Stylist struct {
	client   *Client
	profiles ProfileSource
	samples  SampleFinder
	logger   *zap.Logger
}

// NewStylist builds a Stylist. samples may be nil when no vector index is
// configured.
func NewStylist(client *Client, profiles ProfileSource, samples SampleFinder, logger *zap.Logger) *Stylist {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stylist{client: client, profiles: profiles, samples: samples, logger: logger}
}

// Apply personalizes content for the requesting user.
func (s *Stylist) Apply(ctx context.Context, content string, req models.WritingRequest) (string, error) {
	var profile *models.UserProfile
	if s.profiles != nil {
		var err error
		profile, err = s.profiles.GetProfile(ctx, req.UserID)
		if err != nil {
			return "", fmt.Errorf("load profile: %w", err)
		}
	}
	if profile == nil {
		s.logger.Debug("No profile, skipping styling",
			zap.String("request_id", req.RequestID),
			zap.String("user_id", req.UserID),
		)
		return content, nil
	}

	samples := s.lookupSamples(ctx, req)

	comp, err := s.client.Complete(ctx, Query{
		Prompt:       s.userPrompt(content, profile, samples),
		SystemPrompt: stylistSystemPrompt,
		AgentID:      "stylist",
		ModelTier:    tierFor(req.Requirements.Mode),
		Temperature:  0.5,
	})
	if err != nil {
		return "", fmt.Errorf("style: %w", err)
	}

	styled := parseContent(comp.Text)
	if styled == "" {
		s.logger.Warn("Stylist returned empty content, keeping input",
			zap.String("request_id", req.RequestID),
			zap.String("model", comp.ModelUsed),
		)
		return content, nil
	}
	return styled, nil
}

// lookupSamples is best-effort. A broken vector index degrades styling, it
// does not fail the run.
func (s *Stylist) lookupSamples(ctx context.Context, req models.WritingRequest) []models.WritingSample {
	if s.samples == nil {
		return nil
	}
	found, err := s.samples.FindSamples(ctx, req.UserID, req.Category, sampleQuery(req), 2)
	if err != nil {
		s.logger.Warn("Sample lookup failed",
			zap.String("request_id", req.RequestID),
			zap.String("user_id", req.UserID),
			zap.Error(err),
		)
		return nil
	}
	return found
}

// sampleQuery renders the request as a retrieval query against the sample
// index, mirroring how samples are indexed.
func sampleQuery(req models.WritingRequest) string {
	probe := models.WritingSample{Category: req.Category, Context: req.Context}
	return strings.TrimSuffix(probe.IndexText(), ". ")
}

func (s *Stylist) userPrompt(content string, profile *models.UserProfile, samples []models.WritingSample) string {
	var b strings.Builder
	b.WriteString("# TASK\nTransform the draft below to authentically reflect the user's voice, style, and background.\n\n")
	fmt.Fprintf(&b, "# DRAFT CONTENT\n```\n%s\n```\n\n", content)
	fmt.Fprintf(&b, "# USER PROFILE\n%s\n", profile.PromptSummary())

	if len(samples) > 0 {
		b.WriteString("\n# WRITING SAMPLES\nUse these samples to understand the user's natural voice:\n")
		for i, sample := range samples {
			fmt.Fprintf(&b, "\n**Sample %d:**\n```\n%s\n```\n", i+1, util.TruncateString(sample.Content, 600, false))
		}
	}

	b.WriteString(`
# PERSONALIZATION INSTRUCTIONS
1. Match the user's vocabulary, sentence structure, and phrasing.
2. Weave in background details only where they fit naturally.
3. Keep the core message and structure intact.
4. Keep a similar length to the draft.

Return ONLY the JSON object {"content": "..."}.`)
	return b.String()
}
