package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/metrics"
	"github.com/plumeworks/plume/internal/models"
)

// SaveSample persists a writing sample. Replayed writes with the same
// sample_id are ignored.
func (c *Client) SaveSample(ctx context.Context, sample *models.WritingSample) error {
	if sample.SampleID == "" {
		sample.SampleID = uuid.New().String()
	}
	now := time.Now().UTC()
	if sample.CreatedAt.IsZero() {
		sample.CreatedAt = now
	}
	if sample.UpdatedAt.IsZero() {
		sample.UpdatedAt = now
	}

	query := c.rebind(`
		INSERT INTO writing_samples (
			sample_id, user_id, category, content, context,
			quality_score, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (sample_id) DO NOTHING`)

	_, err := c.db.ExecContext(ctx, query,
		sample.SampleID, sample.UserID, sample.Category, sample.Content, JSONB(sample.Context),
		sample.QualityScore, sample.CreatedAt, sample.UpdatedAt,
	)

	if err != nil {
		metrics.DBWrites.WithLabelValues("writing_samples", "error").Inc()
		return fmt.Errorf("failed to save writing sample: %w", err)
	}
	metrics.DBWrites.WithLabelValues("writing_samples", "ok").Inc()

	c.logger.Debug("Writing sample saved",
		zap.String("sample_id", sample.SampleID),
		zap.String("user_id", sample.UserID),
		zap.Float64("quality_score", sample.QualityScore),
	)
	return nil
}

// ListSamples returns a user's samples, best quality first. Category narrows
// the listing when non-empty.
func (c *Client) ListSamples(ctx context.Context, userID, category string, limit int) ([]models.WritingSample, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT sample_id, user_id, category, content, context,
			quality_score, created_at, updated_at
		FROM writing_samples
		WHERE user_id = ?`
	args := []interface{}{userID}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += `
		ORDER BY quality_score DESC, created_at DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list writing samples: %w", err)
	}
	defer rows.Close()

	var out []models.WritingSample
	for rows.Next() {
		var (
			s         models.WritingSample
			sampleCtx JSONB
		)
		err := rows.Scan(
			&s.SampleID, &s.UserID, &s.Category, &s.Content, &sampleCtx,
			&s.QualityScore, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan writing sample: %w", err)
		}
		s.Context = map[string]interface{}(sampleCtx)
		out = append(out, s)
	}
	return out, rows.Err()
}

// FindSamples returns the user's best samples in a category. The query text
// is unused here; similarity ranking belongs to the vector index, and this
// lookup is the relational fallback when no index is configured.
func (c *Client) FindSamples(ctx context.Context, userID, category, queryText string, limit int) ([]models.WritingSample, error) {
	return c.ListSamples(ctx, userID, category, limit)
}

// QueuedSampleStore saves samples through the async write queue so callers
// never block on the database. Errors surface in worker logs, not to the
// caller.
type QueuedSampleStore struct {
	client *Client
}

// QueuedSamples returns the async sample persistence facade.
func (c *Client) QueuedSamples() *QueuedSampleStore {
	return &QueuedSampleStore{client: c}
}

// SaveSample enqueues the sample write.
func (q *QueuedSampleStore) SaveSample(ctx context.Context, sample *models.WritingSample) error {
	return q.client.QueueWrite(WriteTypeSample, sample, nil)
}
