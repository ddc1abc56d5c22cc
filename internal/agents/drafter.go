package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/models"
)

const drafterSystemPrompt = `You are a professional content writer specializing in cover letters, motivational letters, professional emails, and social responses.

Writing principles:
- Write in a genuine, human voice. Avoid cliches like "team player" or "passion for excellence".
- Use active voice and precise verbs. Average sentence length 15-25 words.
- Lead with the strongest points and support claims with specific examples.
- Open with a hook, never a generic phrase. Close with a clear next step.
- Follow the structural conventions of the requested writing type.

Structure by type:
- Cover Letter: Hook, experience and fit, key achievements, closing. 250-400 words.
- Motivational Letter: Motivation, background, program fit, goals, conclusion. 400-600 words.
- Professional Email: Context, main message, action items, next steps. 100-300 words.
- Social Response: Acknowledgment, response, warm closing. Mirror the original tone. 50-200 words.

Return ONLY a JSON object of the form {"content": "..."} with the complete text.
No meta-commentary, no placeholders like [Your Name], no alternatives, no markdown fences.`

// Drafter produces the first artifact for a request from its context and any
// accumulated research.
type Drafter struct {
	client *Client
	logger *zap.Logger
}

// NewDrafter builds a Drafter.
func NewDrafter(client *Client, logger *zap.Logger) *Drafter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Drafter{client: client, logger: logger}
}

// Draft generates the initial content.
func (d *Drafter) Draft(ctx context.Context, req models.WritingRequest, research map[string]interface{}) (string, error) {
	comp, err := d.client.Complete(ctx, Query{
		Prompt:       d.userPrompt(req, research),
		SystemPrompt: drafterSystemPrompt,
		AgentID:      "drafter",
		ModelTier:    tierFor(req.Requirements.Mode),
		Temperature:  0.7,
	})
	if err != nil {
		return "", fmt.Errorf("draft: %w", err)
	}

	content := parseContent(comp.Text)
	if content == "" {
		return "", fmt.Errorf("draft: empty content from model %s", comp.ModelUsed)
	}
	d.logger.Debug("Draft produced",
		zap.String("request_id", req.RequestID),
		zap.String("model", comp.ModelUsed),
		zap.Int("tokens", comp.TokensUsed),
	)
	return content, nil
}

func (d *Drafter) userPrompt(req models.WritingRequest, research map[string]interface{}) string {
	var b strings.Builder
	display := displayName(req.Category)

	fmt.Fprintf(&b, "# TASK\nWrite a %s that is compelling, well-structured, and professionally crafted.\n\n", display)
	fmt.Fprintf(&b, "# CONTEXT\n%s\n", contextSection(req.Context))
	fmt.Fprintf(&b, "# REQUIREMENTS\n%s", requirementsSection(req.Requirements))
	b.WriteString(researchSection(research))
	if req.AdditionalInfo != "" {
		fmt.Fprintf(&b, "\n# ADDITIONAL INSTRUCTIONS\n%s\n", req.AdditionalInfo)
	}
	b.WriteString("\nWrite the complete content now. Integrate research naturally without listing facts, address every requirement, and return ONLY the JSON object {\"content\": \"...\"}.")
	return b.String()
}
