package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/models"
)

type researcherFunc func(context.Context, models.WritingRequest) (map[string]interface{}, error)

func (f researcherFunc) Gather(ctx context.Context, req models.WritingRequest) (map[string]interface{}, error) {
	return f(ctx, req)
}

type drafterFunc func(context.Context, models.WritingRequest, map[string]interface{}) (string, error)

func (f drafterFunc) Draft(ctx context.Context, req models.WritingRequest, research map[string]interface{}) (string, error) {
	return f(ctx, req, research)
}

type stylistFunc func(context.Context, string, models.WritingRequest) (string, error)

func (f stylistFunc) Apply(ctx context.Context, content string, req models.WritingRequest) (string, error) {
	return f(ctx, content, req)
}

type reviewerFunc func(context.Context, string, models.Requirements) (*Review, error)

func (f reviewerFunc) Review(ctx context.Context, content string, reqs models.Requirements) (*Review, error) {
	return f(ctx, content, reqs)
}

type reviserFunc func(context.Context, string, []string, string) (string, error)

func (f reviserFunc) Revise(ctx context.Context, content string, suggestions []string, voiceReference string) (string, error) {
	return f(ctx, content, suggestions, voiceReference)
}

type gapScannerFunc func(context.Context, string, models.WritingRequest, *models.UserProfile) (*models.GapReport, error)

func (f gapScannerFunc) Scan(ctx context.Context, content string, req models.WritingRequest, profile *models.UserProfile) (*models.GapReport, error) {
	return f(ctx, content, req, profile)
}

type profileStoreFunc func(context.Context, string) (*models.UserProfile, error)

func (f profileStoreFunc) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	return f(ctx, userID)
}

type sampleStoreFunc func(context.Context, *models.WritingSample) error

func (f sampleStoreFunc) SaveSample(ctx context.Context, sample *models.WritingSample) error {
	return f(ctx, sample)
}

// runRecorder counts collaborator calls and captures interesting arguments.
type runRecorder struct {
	research, draft, style, review, revise, scan int
	voiceRefs                                    []string
	saved                                        []*models.WritingSample
}

// scriptedCollaborators returns a collaborator set whose reviewer replays
// the given reviews in order and whose gap scanner replays the given
// reports. All other collaborators echo deterministic content.
func scriptedCollaborators(rec *runRecorder, reviews []*Review, gaps []*models.GapReport) Collaborators {
	reviewIdx := 0
	gapIdx := 0
	return Collaborators{
		Researcher: researcherFunc(func(ctx context.Context, req models.WritingRequest) (map[string]interface{}, error) {
			rec.research++
			return map[string]interface{}{fmt.Sprintf("source_%d", rec.research): "facts"}, nil
		}),
		Drafter: drafterFunc(func(ctx context.Context, req models.WritingRequest, research map[string]interface{}) (string, error) {
			rec.draft++
			return fmt.Sprintf("draft-%d", rec.draft), nil
		}),
		Stylist: stylistFunc(func(ctx context.Context, content string, req models.WritingRequest) (string, error) {
			rec.style++
			return fmt.Sprintf("styled-%d(%s)", rec.style, content), nil
		}),
		Reviewer: reviewerFunc(func(ctx context.Context, content string, reqs models.Requirements) (*Review, error) {
			rec.review++
			if reviewIdx >= len(reviews) {
				return nil, fmt.Errorf("unscripted review call %d", rec.review)
			}
			rv := reviews[reviewIdx]
			reviewIdx++
			return rv, nil
		}),
		Reviser: reviserFunc(func(ctx context.Context, content string, suggestions []string, voiceReference string) (string, error) {
			rec.revise++
			rec.voiceRefs = append(rec.voiceRefs, voiceReference)
			return fmt.Sprintf("revised-%d(%s)", rec.revise, content), nil
		}),
		GapScanner: gapScannerFunc(func(ctx context.Context, content string, req models.WritingRequest, profile *models.UserProfile) (*models.GapReport, error) {
			rec.scan++
			if gapIdx >= len(gaps) {
				return &models.GapReport{}, nil
			}
			g := gaps[gapIdx]
			gapIdx++
			return g, nil
		}),
		Profiles: profileStoreFunc(func(ctx context.Context, userID string) (*models.UserProfile, error) {
			return nil, nil
		}),
		Samples: sampleStoreFunc(func(ctx context.Context, sample *models.WritingSample) error {
			rec.saved = append(rec.saved, sample)
			return nil
		}),
	}
}

func scored(score float64, met bool) *Review {
	return &Review{
		Evaluation:      models.Evaluation{OverallScore: score},
		Suggestions:     []string{"tighten the opening"},
		RequirementsMet: met,
	}
}

type captureEmitter struct {
	events []Event
}

func (c *captureEmitter) Emit(ev Event) { c.events = append(c.events, ev) }

func (c *captureEmitter) stages() []Stage {
	out := make([]Stage, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Stage)
	}
	return out
}

func assertMonotonicProgress(t *testing.T, events []Event) {
	t.Helper()
	last := -1
	for i, ev := range events {
		assert.GreaterOrEqual(t, ev.Progress, last, "event %d (%s) went backwards", i, ev.Stage)
		last = ev.Progress
	}
}

func newTestEngine(t *testing.T, col Collaborators, cfg Config) *Engine {
	t.Helper()
	eng, err := NewEngine(col, cfg, zap.NewNop())
	require.NoError(t, err)
	return eng
}

func emailRequest(threshold float64) models.WritingRequest {
	return models.WritingRequest{
		UserID:   "u-1",
		Category: models.CategoryEmail,
		Context:  map[string]interface{}{"reply_to": "Can we move the sync?", "subject": "Schedule"},
		Requirements: models.Requirements{
			QualityThreshold: threshold,
		},
	}
}

func coverLetterRequest() models.WritingRequest {
	return models.WritingRequest{
		UserID:   "u-1",
		Category: models.CategoryCoverLetter,
		Context:  map[string]interface{}{"job_title": "Staff Engineer", "company": "Initech"},
	}
}

func TestEngineShortFormFirstPass(t *testing.T) {
	rec := &runRecorder{}
	col := scriptedCollaborators(rec, []*Review{scored(76, true)}, nil)
	eng := newTestEngine(t, col, Config{})
	em := &captureEmitter{}

	res, err := eng.Run(context.Background(), emailRequest(75), em)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, 0, res.Iterations)
	assert.Equal(t, 76.0, res.Evaluation.OverallScore)
	assert.NotEmpty(t, res.RequestID)
	assert.NotNil(t, res.TextStats)

	assert.Equal(t, 1, rec.research)
	assert.Equal(t, 1, rec.draft)
	assert.Equal(t, 1, rec.style)
	assert.Equal(t, 1, rec.review)
	assert.Zero(t, rec.revise)
	assert.Zero(t, rec.scan)
	assert.Empty(t, rec.saved, "below the save threshold")

	require.NotEmpty(t, em.events)
	last := em.events[len(em.events)-1]
	assert.Equal(t, StageComplete, last.Stage)
	assert.Equal(t, 100, last.Progress)
	assert.NotContains(t, em.stages(), StageGapCheck)
	assert.NotContains(t, em.stages(), StageSave)
	assertMonotonicProgress(t, em.events)
}

func TestEngineSavesHighQualitySample(t *testing.T) {
	rec := &runRecorder{}
	col := scriptedCollaborators(rec, []*Review{scored(86, true)}, nil)
	eng := newTestEngine(t, col, Config{})
	em := &captureEmitter{}

	res, err := eng.Run(context.Background(), emailRequest(75), em)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, res.Status)

	require.Len(t, rec.saved, 1)
	sample := rec.saved[0]
	assert.Equal(t, models.CategoryEmail, sample.Category)
	assert.Equal(t, "u-1", sample.UserID)
	assert.Equal(t, res.Content, sample.Content)
	assert.Equal(t, 86.0, sample.QualityScore)
	assert.NotEmpty(t, sample.SampleID)

	stages := em.stages()
	assert.Contains(t, stages, StageSave)
	// save precedes completion
	assert.Equal(t, StageComplete, stages[len(stages)-1])
}

func TestEngineGapDrivenResearch(t *testing.T) {
	rec := &runRecorder{}
	reviews := []*Review{
		scored(70, false), // initial review routes to the gap scan
		scored(90, true),  // after the second research pass
		scored(90, true),  // after the final style pass
	}
	gaps := []*models.GapReport{{
		HasGaps:  true,
		Category: models.GapInformation,
		Details:  map[string][]string{models.GapInformation: {"missing company mission", "no role specifics"}},
	}}
	eng := newTestEngine(t, scriptedCollaborators(rec, reviews, gaps), Config{})
	em := &captureEmitter{}

	res, err := eng.Run(context.Background(), coverLetterRequest(), em)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, 0, res.Iterations)
	assert.Equal(t, 2, rec.research, "information gaps trigger a second research pass")
	assert.Equal(t, 2, rec.draft)
	assert.Equal(t, 3, rec.style, "initial, post-research and final style passes")
	assert.Equal(t, 3, rec.review)
	assert.Equal(t, 1, rec.scan)
	assert.Zero(t, rec.revise)
	assert.Len(t, rec.saved, 1, "score 90 is persisted")

	assert.Contains(t, em.stages(), StageGapCheck)
	assertMonotonicProgress(t, em.events)
}

func TestEngineToneGapRoutesToStyle(t *testing.T) {
	rec := &runRecorder{}
	reviews := []*Review{
		scored(70, true),
		scored(90, true),
		scored(90, true),
	}
	gaps := []*models.GapReport{{
		HasGaps:  true,
		Category: models.GapTone,
		Details:  map[string][]string{models.GapTone: {"too stiff for the company culture"}},
	}}
	eng := newTestEngine(t, scriptedCollaborators(rec, reviews, gaps), Config{})

	res, err := eng.Run(context.Background(), coverLetterRequest(), nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, 1, rec.research, "tone gaps do not re-run research")
	assert.Equal(t, 1, rec.draft)
	assert.Equal(t, 3, rec.style, "gap-routed and final style passes on top of the first")
	assert.Equal(t, 3, rec.review)
}

func TestEngineBudgetExhaustion(t *testing.T) {
	rec := &runRecorder{}
	// Rising scores that never plateau: the loop only ends when the budget
	// runs out. Cover letter at quality 72 allows 4+2=6 revisions.
	reviews := []*Review{
		scored(60, true),
		scored(62, true),
		scored(64, true),
		scored(66, true),
		scored(68, true),
		scored(70, true),
		scored(72, true),
		scored(73, true), // after the final style pass
	}
	gaps := []*models.GapReport{{HasGaps: false}}
	eng := newTestEngine(t, scriptedCollaborators(rec, reviews, gaps), Config{})
	em := &captureEmitter{}

	res, err := eng.Run(context.Background(), coverLetterRequest(), em)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, 6, res.Iterations)
	assert.Equal(t, 8, rec.review)
	assert.Equal(t, 6, rec.revise)
	assert.Equal(t, 1, rec.scan)
	assert.Empty(t, rec.saved, "final score below the save threshold")

	// every revision anchors on the first styled artifact
	require.NotEmpty(t, rec.voiceRefs)
	for _, ref := range rec.voiceRefs {
		assert.Equal(t, rec.voiceRefs[0], ref)
	}
	assert.Contains(t, rec.voiceRefs[0], "styled-1")

	assertMonotonicProgress(t, em.events)
}

func TestEnginePlateauStopsLoop(t *testing.T) {
	rec := &runRecorder{}
	reviews := []*Review{
		scored(80, true),
		scored(80.5, true),
		scored(81, true), // history spread now 1.0: plateau
		scored(81, true), // after the final style pass
	}
	eng := newTestEngine(t, scriptedCollaborators(rec, reviews, nil), Config{})

	res, err := eng.Run(context.Background(), emailRequest(85), nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 4, rec.review)
	assert.Len(t, rec.saved, 1, "81 clears the save threshold")
}

func TestEngineStageFailureFailsRun(t *testing.T) {
	rec := &runRecorder{}
	col := scriptedCollaborators(rec, []*Review{scored(90, true)}, nil)
	col.Drafter = drafterFunc(func(ctx context.Context, req models.WritingRequest, research map[string]interface{}) (string, error) {
		return "", fmt.Errorf("llm service unavailable")
	})
	eng := newTestEngine(t, col, Config{})
	em := &captureEmitter{}

	res, err := eng.Run(context.Background(), emailRequest(75), em)
	require.Error(t, err)

	var se *StageFailure
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageDraft, se.Stage)

	require.NotNil(t, res)
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "stage draft")
	assert.Contains(t, res.Error, "llm service unavailable")

	require.NotEmpty(t, em.events)
	last := em.events[len(em.events)-1]
	assert.Equal(t, StageError, last.Stage)
	assert.Equal(t, 100, last.Progress)
}

func TestEngineStageTimeout(t *testing.T) {
	rec := &runRecorder{}
	col := scriptedCollaborators(rec, []*Review{scored(90, true)}, nil)
	col.Researcher = researcherFunc(func(ctx context.Context, req models.WritingRequest) (map[string]interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	eng := newTestEngine(t, col, Config{StageTimeout: 20 * time.Millisecond})

	res, err := eng.Run(context.Background(), emailRequest(75), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, models.StatusFailed, res.Status)
}

func TestEngineCancellation(t *testing.T) {
	rec := &runRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	col := scriptedCollaborators(rec, []*Review{scored(90, true)}, nil)
	col.Reviewer = reviewerFunc(func(c context.Context, content string, reqs models.Requirements) (*Review, error) {
		cancel()
		<-c.Done()
		return nil, c.Err()
	})
	eng := newTestEngine(t, col, Config{})

	res, err := eng.Run(ctx, emailRequest(75), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.StatusFailed, res.Status)
}

func TestEngineRetriesTransientFailure(t *testing.T) {
	rec := &runRecorder{}
	col := scriptedCollaborators(rec, []*Review{scored(90, true)}, nil)
	attempts := 0
	col.Researcher = researcherFunc(func(ctx context.Context, req models.WritingRequest) (map[string]interface{}, error) {
		attempts++
		if attempts == 1 {
			return nil, fmt.Errorf("connection reset")
		}
		return map[string]interface{}{"web": "facts"}, nil
	})
	eng := newTestEngine(t, col, Config{RetryAttempts: 2, RetryBackoff: time.Millisecond})

	res, err := eng.Run(context.Background(), emailRequest(75), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, 2, attempts)
}

func TestEngineProfileLookupFailureIsNonFatal(t *testing.T) {
	rec := &runRecorder{}
	reviews := []*Review{scored(70, true), scored(90, true), scored(90, true)}
	gaps := []*models.GapReport{{HasGaps: false}}
	col := scriptedCollaborators(rec, reviews, gaps)
	col.Profiles = profileStoreFunc(func(ctx context.Context, userID string) (*models.UserProfile, error) {
		return nil, errors.New("profile store down")
	})
	eng := newTestEngine(t, col, Config{})

	res, err := eng.Run(context.Background(), coverLetterRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, 1, rec.scan, "scan proceeds without a profile")
}

func TestEngineRequiresCollaborators(t *testing.T) {
	_, err := NewEngine(Collaborators{}, Config{}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "researcher")
}
