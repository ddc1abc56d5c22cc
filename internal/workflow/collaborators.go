package workflow

import (
	"context"

	"github.com/plumeworks/plume/internal/models"
)

// Review is the outcome of one evaluating pass over the current artifact.
type Review struct {
	Evaluation      models.Evaluation
	Suggestions     []string
	RequirementsMet bool
	Stats           models.TextStats
}

// Researcher gathers supporting information for a request. Returned data is
// merged into the run's accumulated research, keyed by source.
type Researcher interface {
	Gather(ctx context.Context, req models.WritingRequest) (map[string]interface{}, error)
}

// Drafter produces an artifact from the request and accumulated research.
type Drafter interface {
	Draft(ctx context.Context, req models.WritingRequest, research map[string]interface{}) (string, error)
}

// Stylist rewrites an artifact in the requesting user's voice.
type Stylist interface {
	Apply(ctx context.Context, content string, req models.WritingRequest) (string, error)
}

// Reviewer evaluates an artifact against the request's requirements.
type Reviewer interface {
	Review(ctx context.Context, content string, reqs models.Requirements) (*Review, error)
}

// Reviser rewrites an artifact following the reviewer's suggestions while
// staying close to the voice reference when one exists.
type Reviser interface {
	Revise(ctx context.Context, content string, suggestions []string, voiceReference string) (string, error)
}

// GapScanner looks for content gaps in an artifact. The profile may be nil
// when the user has none.
type GapScanner interface {
	Scan(ctx context.Context, content string, req models.WritingRequest, profile *models.UserProfile) (*models.GapReport, error)
}

// ProfileStore loads user profiles for gap scanning.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
}

// SampleStore persists high-quality artifacts as voice reference samples.
type SampleStore interface {
	SaveSample(ctx context.Context, sample *models.WritingSample) error
}

// Collaborators bundles the services a run needs. Profiles and Samples are
// optional; the six stage collaborators are required.
type Collaborators struct {
	Researcher Researcher
	Drafter    Drafter
	Stylist    Stylist
	Reviewer   Reviewer
	Reviser    Reviser
	GapScanner GapScanner
	Profiles   ProfileStore
	Samples    SampleStore
}
