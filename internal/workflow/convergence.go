package workflow

// StopReason labels why the correction loop should end early.
type StopReason string

const (
	StopPlateau     StopReason = "plateau"
	StopRegression  StopReason = "regression"
	StopDiminishing StopReason = "diminishing_returns"
)

// ConvergenceDetector inspects the quality score history of a run and
// decides whether further rewrites are still worth their cost. All three
// signals use strict comparisons: a spread or delta exactly at a threshold
// does not trigger.
type ConvergenceDetector struct {
	// PlateauWindow is how many trailing scores the plateau check reads.
	PlateauWindow int `yaml:"plateau_window" json:"plateau_window"`
	// PlateauSpread flags a plateau when max-min of the window is below it.
	PlateauSpread float64 `yaml:"plateau_spread" json:"plateau_spread"`
	// RegressionDrop flags a regression when the latest score fell more
	// than this below its predecessor.
	RegressionDrop float64 `yaml:"regression_drop" json:"regression_drop"`
	// MinDelta flags diminishing returns when the last two improvements
	// are both below it.
	MinDelta float64 `yaml:"min_delta" json:"min_delta"`
}

// DefaultConvergenceDetector returns the standard thresholds.
func DefaultConvergenceDetector() ConvergenceDetector {
	return ConvergenceDetector{
		PlateauWindow:  3,
		PlateauSpread:  2.0,
		RegressionDrop: 3.0,
		MinDelta:       0.5,
	}
}

// Converged reports whether the history shows a stop signal and which one.
// Checks run in fixed order: plateau, regression, diminishing returns; the
// first hit wins. Histories shorter than a check's window skip that check.
func (d ConvergenceDetector) Converged(history []float64) (bool, StopReason) {
	if len(history) >= d.PlateauWindow && d.PlateauWindow > 1 {
		recent := history[len(history)-d.PlateauWindow:]
		lo, hi := recent[0], recent[0]
		for _, v := range recent[1:] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi-lo < d.PlateauSpread {
			return true, StopPlateau
		}
	}

	if len(history) >= 2 {
		if history[len(history)-1] < history[len(history)-2]-d.RegressionDrop {
			return true, StopRegression
		}
	}

	if len(history) >= 3 {
		d1 := history[len(history)-1] - history[len(history)-2]
		d2 := history[len(history)-2] - history[len(history)-3]
		if d1 < d.MinDelta && d2 < d.MinDelta {
			return true, StopDiminishing
		}
	}

	return false, ""
}
