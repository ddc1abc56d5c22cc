package workflow

// Progress bands per stage. Initial pipeline stages ascend through fixed
// values, the correction loop fills 80 to 95 proportionally to budget use,
// save and completion close out the run. The emit path additionally clamps
// so reported progress never decreases.
const (
	progressResearch = 10
	progressDraft    = 45
	progressStyle    = 60
	progressReview   = 70
	progressGapCheck = 75
	progressRefine   = 80
	progressFinal    = 95
	progressSave     = 98
	progressDone     = 100
)

// progressFor maps the stage about to run onto its band given where the run
// currently is.
func (e *Engine) progressFor(st *State, stage Stage) int {
	switch stage {
	case StageRevise:
		return e.refineBand(st)
	case StageGapCheck:
		return progressGapCheck
	case StageSave:
		return progressSave
	case StageComplete, StageError:
		return progressDone
	}

	// Re-entered pipeline stages report the band of the phase that routed
	// back to them, not their first-pass band.
	switch st.Phase {
	case PhaseGapCheck:
		return progressGapCheck
	case PhaseRefine:
		return e.refineBand(st)
	case PhaseDone:
		return progressDone
	}

	switch stage {
	case StageResearch:
		return progressResearch
	case StageDraft:
		return progressDraft
	case StageStyle:
		return progressStyle
	case StageReview:
		return progressReview
	}
	return progressResearch
}

// refineBand spreads correction-loop progress across 80 to 95 by the share
// of the iteration budget already spent.
func (e *Engine) refineBand(st *State) int {
	max := e.router.Budget.Max(st.Request.Category, st.QualityScore, st.RequirementsMet)
	if max <= 0 {
		return progressRefine
	}
	p := progressRefine + int(float64(st.ReviseCount)/float64(max)*15)
	if p > progressFinal {
		p = progressFinal
	}
	return p
}
