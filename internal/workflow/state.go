// Package workflow drives the multi-stage writing pipeline: an explicit
// state machine over research, drafting, voice styling, review and a
// quality-gated correction loop. Routing between stages is an enumerated
// transition function; there is no graph library underneath.
package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/plumeworks/plume/internal/models"
)

// Phase is the coarse position of a run inside the pipeline.
type Phase string

const (
	PhaseInitial  Phase = "initial"
	PhaseGapCheck Phase = "gap_check"
	PhaseRefine   Phase = "refine"
	PhaseDone     Phase = "done"
)

// Stage identifies one executable pipeline step. Stage names double as the
// stage field of emitted progress events.
type Stage string

const (
	StageResearch Stage = "research"
	StageDraft    Stage = "draft"
	StageStyle    Stage = "style"
	StageReview   Stage = "review"
	StageRevise   Stage = "revise"
	StageGapCheck Stage = "gap_check"

	// Event-only stages, never executed by the engine loop.
	StageSave     Stage = "save"
	StageComplete Stage = "complete"
	StageError    Stage = "error"
)

// State is the mutable record of a single run. The engine owns it for the
// duration of the run; no other goroutine touches it.
type State struct {
	Request   models.WritingRequest `json:"request"`
	RequestID string                `json:"request_id"`
	CreatedAt time.Time             `json:"created_at"`

	// Content pipeline
	ResearchData   map[string]interface{} `json:"research_data"`
	Content        string                 `json:"content"`
	VoiceReference string                 `json:"voice_reference,omitempty"`
	NeedsFinalPass bool                   `json:"needs_final_pass"`

	// Quality tracking
	Evaluation      *models.Evaluation `json:"evaluation,omitempty"`
	Suggestions     []string           `json:"suggestions,omitempty"`
	QualityScore    float64            `json:"quality_score"`
	QualityHistory  []float64          `json:"quality_history,omitempty"`
	RequirementsMet bool               `json:"requirements_met"`

	// Gap analysis
	Gaps *models.GapReport `json:"gaps,omitempty"`

	// Loop control
	Phase         Phase `json:"phase"`
	ResearchCount int   `json:"research_count"`
	DraftCount    int   `json:"draft_count"`
	StyleCount    int   `json:"style_count"`
	ReviewCount   int   `json:"review_count"`
	ReviseCount   int   `json:"revise_count"`
	GapCheckCount int   `json:"gap_check_count"`

	// Highest progress emitted so far; events never report below it.
	lastProgress int
}

// NewState builds the initial state for a request. The request ID is kept
// when the caller already assigned one so that API submissions and engine
// runs agree on it.
func NewState(req models.WritingRequest) *State {
	req.Requirements.Normalize()
	id := req.RequestID
	if id == "" {
		id = uuid.New().String()
		req.RequestID = id
	}
	return &State{
		Request:      req,
		RequestID:    id,
		CreatedAt:    time.Now().UTC(),
		ResearchData: make(map[string]interface{}),
		Phase:        PhaseInitial,
	}
}

// MergeResearch folds freshly gathered data into the accumulated research,
// newest values winning on key collisions.
func (s *State) MergeResearch(data map[string]interface{}) {
	if s.ResearchData == nil {
		s.ResearchData = make(map[string]interface{}, len(data))
	}
	for k, v := range data {
		s.ResearchData[k] = v
	}
}

// RecordReview appends a review outcome to the quality history and updates
// the current quality fields.
func (s *State) RecordReview(rv *Review) {
	s.Evaluation = &rv.Evaluation
	s.Suggestions = rv.Suggestions
	s.QualityScore = rv.Evaluation.OverallScore
	s.QualityHistory = append(s.QualityHistory, rv.Evaluation.OverallScore)
	s.RequirementsMet = rv.RequirementsMet
	s.ReviewCount++
}

// RecordStyled stores a styled artifact. The first non-final styled artifact
// becomes the voice reference for later corrective rewrites; it is captured
// exactly once per run.
func (s *State) RecordStyled(content string, final bool) {
	s.Content = content
	s.StyleCount++
	if !final {
		if s.VoiceReference == "" {
			s.VoiceReference = content
		}
		if s.Phase == PhaseGapCheck {
			s.Phase = PhaseRefine
		}
	}
}

// Result assembles the terminal record for the run.
func (s *State) Result(status string, runErr error) *models.WritingResult {
	res := &models.WritingResult{
		RequestID:   s.RequestID,
		Status:      status,
		Content:     s.Content,
		Evaluation:  s.Evaluation,
		Suggestions: s.Suggestions,
		Iterations:  s.ReviseCount,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   time.Now().UTC(),
	}
	if runErr != nil {
		res.Error = runErr.Error()
	}
	return res
}
