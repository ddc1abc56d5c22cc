package workflow

import "github.com/plumeworks/plume/internal/models"

// Decision is the next move chosen by the router: an executable stage or a
// terminal/transition marker.
type Decision string

const (
	DecisionComplete   Decision = "complete"
	DecisionGapCheck   Decision = "gap_check"
	DecisionRevise     Decision = "revise"
	DecisionResearch   Decision = "research"
	DecisionStyle      Decision = "style"
	DecisionFinalStyle Decision = "final_style"
)

// Routing reasons reported alongside terminal decisions.
const (
	ReasonTargetMet       = "target_met"
	ReasonBudgetExhausted = "budget_exhausted"
	ReasonGapScanLimit    = "gap_scan_limit"
	ReasonNoGaps          = "no_gaps"
)

// Router is the enumerated transition function of the pipeline. It is
// consulted after every review and after every gap scan; all other edges are
// fixed. Router is stateless: every decision is a pure function of the run
// state.
type Router struct {
	Budget      IterationBudget
	Convergence ConvergenceDetector
	// GapCheckLimit caps gap scans per run; at the cap gaps route to revise.
	GapCheckLimit int
	// GapSkipScore skips the first gap scan when quality already reached it.
	GapSkipScore float64
}

// NewRouter returns a router with the given calculators and standard gap
// scan limits.
func NewRouter(budget IterationBudget, detector ConvergenceDetector) *Router {
	return &Router{
		Budget:        budget,
		Convergence:   detector,
		GapCheckLimit: 2,
		GapSkipScore:  85.0,
	}
}

// Route picks the next decision for the run. The second return value names
// the reason when the decision ends the correction loop, and is empty while
// the run keeps iterating.
func (r *Router) Route(st *State) (Decision, string) {
	quality := st.QualityScore
	threshold := st.Request.Requirements.QualityThreshold
	reqMet := st.RequirementsMet

	switch st.Phase {
	case PhaseInitial:
		if quality >= threshold && reqMet {
			return DecisionComplete, ReasonTargetMet
		}
		// One gap scan for long-form categories that are not already close.
		if !models.ShortForm(st.Request.Category) && quality < r.GapSkipScore && st.GapCheckCount == 0 {
			return DecisionGapCheck, ""
		}
		return DecisionRevise, ""

	case PhaseGapCheck:
		if st.Gaps == nil || !st.Gaps.HasGaps {
			if quality >= threshold && reqMet {
				return DecisionComplete, ReasonTargetMet
			}
			return DecisionRevise, ReasonNoGaps
		}
		if st.GapCheckCount >= r.GapCheckLimit {
			return DecisionRevise, ReasonGapScanLimit
		}
		switch st.Gaps.Category {
		case models.GapInformation:
			return DecisionResearch, ""
		case models.GapTone:
			return DecisionStyle, ""
		case models.GapStructure:
			return DecisionRevise, ""
		default:
			// Unrecognized gap categories are treated as missing information.
			return DecisionResearch, ""
		}

	case PhaseRefine:
		if quality >= threshold && reqMet {
			return r.finish(st, ReasonTargetMet)
		}
		if st.ReviseCount >= r.Budget.Max(st.Request.Category, quality, reqMet) {
			return r.finish(st, ReasonBudgetExhausted)
		}
		if stop, why := r.Convergence.Converged(st.QualityHistory); stop {
			return r.finish(st, string(why))
		}
		return DecisionRevise, ""
	}

	return DecisionComplete, ""
}

// finish ends the correction loop: straight to completion when the final
// styling pass already ran, otherwise through it.
func (r *Router) finish(st *State, reason string) (Decision, string) {
	if st.NeedsFinalPass {
		return DecisionComplete, reason
	}
	return DecisionFinalStyle, reason
}
