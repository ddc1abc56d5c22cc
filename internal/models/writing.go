package models

import "time"

// Writing categories
const (
	CategoryCoverLetter        = "cover_letter"
	CategoryMotivationalLetter = "motivational_letter"
	CategoryEmail              = "email"
	CategorySocialResponse     = "social_response"
)

// Run statuses
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Quality modes
const (
	ModeQuality  = "quality"
	ModeBalanced = "balanced"
	ModeFast     = "fast"
)

// Gap categories returned by the gap scanner
const (
	GapInformation = "information"
	GapTone        = "tone"
	GapStructure   = "structure"
)

// KnownCategory reports whether c is one of the supported writing categories.
func KnownCategory(c string) bool {
	switch c {
	case CategoryCoverLetter, CategoryMotivationalLetter, CategoryEmail, CategorySocialResponse:
		return true
	}
	return false
}

// ShortForm reports whether c is a short transactional category. Short-form
// runs skip research and gap analysis.
func ShortForm(c string) bool {
	return c == CategoryEmail || c == CategorySocialResponse
}

// Requirements constrains a writing request. Zero values mean "no constraint";
// QualityThreshold and Mode are filled with defaults by Normalize.
type Requirements struct {
	MaxWords         int     `json:"max_words,omitempty"`
	MinWords         int     `json:"min_words,omitempty"`
	MaxPages         int     `json:"max_pages,omitempty"`
	Format           string  `json:"format,omitempty"`
	Tone             string  `json:"tone,omitempty"`
	QualityThreshold float64 `json:"quality_threshold,omitempty"`
	Mode             string  `json:"mode,omitempty"`
}

// DefaultQualityThreshold is applied when a request does not set one.
const DefaultQualityThreshold = 85.0

// Normalize fills defaults for unset fields.
func (r *Requirements) Normalize() {
	if r.QualityThreshold <= 0 {
		r.QualityThreshold = DefaultQualityThreshold
	}
	if r.Mode == "" {
		r.Mode = ModeBalanced
	}
}

// WritingRequest is an incoming writing task. Context carries
// category-specific fields (job_title/company for cover letters,
// program_name/scholarship_name for motivational letters, reply_to/subject
// for emails, post_content/reply_to for social responses).
type WritingRequest struct {
	RequestID      string                 `json:"request_id"`
	UserID         string                 `json:"user_id"`
	Category       string                 `json:"type"`
	Context        map[string]interface{} `json:"context"`
	Requirements   Requirements           `json:"requirements"`
	AdditionalInfo string                 `json:"additional_info,omitempty"`
}

// Evaluation is the multi-dimensional quality report produced by the reviewer.
// Scores are on a 0-100 scale.
type Evaluation struct {
	OverallScore    float64 `json:"overall_score"`
	Coherence       float64 `json:"coherence"`
	Naturalness     float64 `json:"naturalness"`
	GrammarAccuracy float64 `json:"grammar_accuracy"`
	Completeness    float64 `json:"completeness"`
	LexicalQuality  float64 `json:"lexical_quality"`
	Personalization float64 `json:"personalization"`
}

// TextStats are deterministic metrics computed from the artifact text.
type TextStats struct {
	WordCount              int     `json:"word_count"`
	CharacterCount         int     `json:"character_count"`
	CharacterCountNoSpaces int     `json:"character_count_no_spaces"`
	ParagraphCount         int     `json:"paragraph_count"`
	LineCount              int     `json:"line_count"`
	EstimatedPages         float64 `json:"estimated_pages"`
}

// WritingResult is the terminal record of a run.
type WritingResult struct {
	RequestID   string      `json:"request_id"`
	Status      string      `json:"status"`
	Content     string      `json:"content,omitempty"`
	Evaluation  *Evaluation `json:"evaluation,omitempty"`
	TextStats   *TextStats  `json:"text_stats,omitempty"`
	Suggestions []string    `json:"suggestions,omitempty"`
	Iterations  int         `json:"iterations"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Error       string      `json:"error,omitempty"`
}

// GapReport is the outcome of a gap scan over the current artifact.
// Category is one of the Gap* constants and is empty when HasGaps is false.
// Details maps a gap category to the concrete findings in it.
type GapReport struct {
	HasGaps  bool                `json:"has_gaps"`
	Category string              `json:"gap_category,omitempty"`
	Details  map[string][]string `json:"details,omitempty"`
}
