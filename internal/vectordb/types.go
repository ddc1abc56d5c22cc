package vectordb

import "time"

// Config controls the Qdrant client.
type Config struct {
	Enabled bool
	Host    string
	Port    int
	// Samples is the collection holding writing-sample vectors.
	Samples string
	// Search params
	TopK      int
	Threshold float64
	Timeout   time.Duration
	// ExpectedDim guards against drift between the embedding model and the
	// collection schema (1536 for text-embedding-3-small).
	ExpectedDim int
}

// UpsertItem is a single point written to Qdrant.
type UpsertItem struct {
	ID      interface{}            `json:"id,omitempty"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

// UpsertResponse captures the Qdrant upsert reply fields we care about.
type UpsertResponse struct {
	Status string  `json:"status"`
	Time   float64 `json:"time"`
}
