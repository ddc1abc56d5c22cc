package embeddings

import "time"

// Config controls the embeddings client.
type Config struct {
	// BaseURL points to the sidecar providing POST /embeddings/.
	BaseURL string
	// DefaultModel is used when a call does not name a model.
	DefaultModel string
	// Timeout for outbound HTTP calls.
	Timeout time.Duration
	// CacheTTL sets the shared-cache TTL for embedding entries.
	CacheTTL time.Duration
	// MaxLRU bounds the in-process LRU.
	MaxLRU int
}
