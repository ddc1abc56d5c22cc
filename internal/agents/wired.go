package agents

import "github.com/plumeworks/plume/internal/workflow"

// Stage interface conformance.
var (
	_ workflow.Researcher = (*Researcher)(nil)
	_ workflow.Drafter    = (*Drafter)(nil)
	_ workflow.Stylist    = (*Stylist)(nil)
	_ workflow.Reviewer   = (*Reviewer)(nil)
	_ workflow.Reviser    = (*Reviser)(nil)
	_ workflow.GapScanner = (*GapScanner)(nil)
)
