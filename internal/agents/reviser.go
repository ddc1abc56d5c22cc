package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/util"
)

const reviserSystemPrompt = `You are a professional content refiner. You improve structure, clarity, and flow while preserving the author's authentic voice.

Priorities, highest first:
1. Structure: organization, logical flow, paragraph unity.
2. Clarity: remove ambiguity, redundancy, and wordiness.
3. Coherence: smooth transitions and connected ideas.
4. Voice: the author's tone and personal expressions are non-negotiable.
5. Correctness: fix obvious grammar issues.

Never change the core message, add new claims, or flatten personality into generic polish. Keep enthusiastic or personal phrasing ("really excited", contractions) when the original uses it.

Return ONLY a JSON object of the form {"content": "..."} with the complete refined text. No track changes, no editorial notes, no markdown fences.`

// Reviser rewrites artifacts to address review suggestions while staying
// anchored to the voice reference from the first styling pass.
type Reviser struct {
	client *Client
	logger *zap.Logger
}

// NewReviser builds a Reviser.
func NewReviser(client *Client, logger *zap.Logger) *Reviser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reviser{client: client, logger: logger}
}

// Revise applies suggestions to content.
func (r *Reviser) Revise(ctx context.Context, content string, suggestions []string, voiceReference string) (string, error) {
	comp, err := r.client.Complete(ctx, Query{
		Prompt:       r.userPrompt(content, suggestions, voiceReference),
		SystemPrompt: reviserSystemPrompt,
		AgentID:      "reviser",
		ModelTier:    TierMedium,
		Temperature:  0.3,
	})
	if err != nil {
		return "", fmt.Errorf("revise: %w", err)
	}

	revised := parseContent(comp.Text)
	if revised == "" {
		r.logger.Warn("Reviser returned empty content, keeping input",
			zap.String("model", comp.ModelUsed),
		)
		return content, nil
	}
	return revised, nil
}

func (r *Reviser) userPrompt(content string, suggestions []string, voiceReference string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# CONTENT TO REFINE\n```\n%s\n```\n", content)

	if voiceReference != "" {
		fmt.Fprintf(&b, "\n# VOICE REFERENCE\nUse this earlier version as the guide for tone and style:\n```\n%s\n```\n",
			util.TruncateString(voiceReference, 500, false))
	}
	if len(suggestions) > 0 {
		b.WriteString("\n# SUGGESTIONS TO ADDRESS\n")
		for _, s := range suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	b.WriteString("\nRefine the content now and return ONLY the JSON object {\"content\": \"...\"}.")
	return b.String()
}
