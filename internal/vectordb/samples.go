package vectordb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/models"
	"github.com/plumeworks/plume/internal/util"
)

// maxIndexRunes caps the text sent to the embedding provider. Providers
// reject oversized inputs outright, and a sample's opening passage carries
// the voice signal anyway.
const maxIndexRunes = 8000

// Embedder turns text into vectors. Satisfied by *embeddings.Service.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string, model string) ([]float32, error)
	GenerateBatchEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// SampleIndex pairs the Qdrant client with an embedder and speaks in
// writing samples instead of raw points. It is the vector half of sample
// persistence; the database row remains the source of truth.
type SampleIndex struct {
	client   *Client
	embedder Embedder
	log      *zap.Logger
}

// NewSampleIndex builds a SampleIndex over client and embedder.
func NewSampleIndex(client *Client, embedder Embedder, logger *zap.Logger) *SampleIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SampleIndex{client: client, embedder: embedder, log: logger}
}

// Enabled reports whether indexed lookups are available.
func (x *SampleIndex) Enabled() bool { return x != nil && x.client.Enabled() }

// IndexSample embeds one sample and writes it to the index.
func (x *SampleIndex) IndexSample(ctx context.Context, sample models.WritingSample) error {
	return x.IndexSamples(ctx, []models.WritingSample{sample})
}

// IndexSamples embeds samples in one batch and upserts them. Point IDs are
// the sample IDs, so saving an updated sample replaces its vector. A no-op
// when the index is disabled.
func (x *SampleIndex) IndexSamples(ctx context.Context, samples []models.WritingSample) error {
	if !x.Enabled() || len(samples) == 0 {
		return nil
	}
	texts := make([]string, len(samples))
	for i := range samples {
		texts[i] = util.TruncateString(samples[i].IndexText(), maxIndexRunes, true)
	}
	vecs, err := x.embedder.GenerateBatchEmbeddings(ctx, texts, "")
	if err != nil {
		return fmt.Errorf("embed samples: %w", err)
	}
	if len(vecs) != len(samples) {
		return fmt.Errorf("embedder returned %d vectors for %d samples", len(vecs), len(samples))
	}
	items := make([]UpsertItem, len(samples))
	for i, s := range samples {
		if s.SampleID == "" {
			s.SampleID = uuid.New().String()
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = time.Now().UTC()
		}
		items[i] = UpsertItem{ID: s.SampleID, Vector: vecs[i], Payload: samplePayload(s)}
	}
	if _, err := x.client.Upsert(ctx, x.client.Collection(), items); err != nil {
		return fmt.Errorf("upsert samples: %w", err)
	}
	x.log.Debug("indexed writing samples",
		zap.Int("count", len(items)),
		zap.String("collection", x.client.Collection()))
	return nil
}

// FindSamples embeds queryText and returns the user's nearest saved samples,
// most similar first. category narrows the search when non-empty. Returns
// nil without error when the index is disabled so callers can fall through
// to the database.
func (x *SampleIndex) FindSamples(ctx context.Context, userID, category, queryText string, limit int) ([]models.WritingSample, error) {
	if !x.Enabled() {
		return nil, nil
	}
	vec, err := x.embedder.GenerateEmbedding(ctx, queryText, "")
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	must := []map[string]interface{}{
		{"key": "user_id", "match": map[string]interface{}{"value": userID}},
	}
	if category != "" {
		must = append(must, map[string]interface{}{"key": "type", "match": map[string]interface{}{"value": category}})
	}
	topK := limit
	if topK <= 0 {
		topK = x.client.cfg.TopK
	}
	points, err := x.client.search(ctx, x.client.Collection(), vec, topK, x.client.cfg.Threshold, map[string]interface{}{"must": must})
	if err != nil {
		return nil, err
	}
	out := make([]models.WritingSample, 0, len(points))
	for _, p := range points {
		s := sampleFromPayload(p.Payload)
		if s.Content == "" {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func samplePayload(s models.WritingSample) map[string]interface{} {
	p := map[string]interface{}{
		"sample_id":  s.SampleID,
		"user_id":    s.UserID,
		"type":       s.Category,
		"content":    s.Content,
		"created_at": s.CreatedAt.Unix(),
	}
	if s.QualityScore > 0 {
		p["quality_score"] = s.QualityScore
	}
	if len(s.Context) > 0 {
		p["context"] = s.Context
	}
	return p
}

func sampleFromPayload(p map[string]interface{}) models.WritingSample {
	var s models.WritingSample
	if p == nil {
		return s
	}
	if v, ok := p["sample_id"].(string); ok {
		s.SampleID = v
	}
	if v, ok := p["user_id"].(string); ok {
		s.UserID = v
	}
	if v, ok := p["type"].(string); ok {
		s.Category = v
	}
	if v, ok := p["content"].(string); ok {
		s.Content = v
	}
	if v, ok := p["quality_score"].(float64); ok {
		s.QualityScore = v
	}
	if v, ok := p["context"].(map[string]interface{}); ok {
		s.Context = v
	}
	if v, ok := p["created_at"].(float64); ok {
		s.CreatedAt = time.Unix(int64(v), 0).UTC()
	}
	return s
}
