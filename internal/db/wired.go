package db

import (
	"github.com/plumeworks/plume/internal/agents"
	"github.com/plumeworks/plume/internal/workflow"
)

// Store interface conformance.
var (
	_ workflow.ProfileStore = (*Client)(nil)
	_ workflow.SampleStore  = (*QueuedSampleStore)(nil)
	_ agents.ProfileSource  = (*Client)(nil)
	_ agents.SampleFinder   = (*Client)(nil)
)
