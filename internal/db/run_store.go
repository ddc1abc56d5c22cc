package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/metrics"
	"github.com/plumeworks/plume/internal/models"
)

// SaveRun inserts or updates the result row for a run (idempotent by
// request_id). Content, evaluation, text stats, and suggestions survive a
// later write that omits them, so a failure upsert after a partial result
// does not erase what was produced.
func (c *Client) SaveRun(ctx context.Context, run *models.WritingResult) error {
	if run.RequestID == "" {
		return fmt.Errorf("run request_id is required")
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = now
	}

	evaluation, err := marshalColumn(run.Evaluation)
	if err != nil {
		return err
	}
	textStats, err := marshalColumn(run.TextStats)
	if err != nil {
		return err
	}
	suggestions, err := marshalColumn(run.Suggestions)
	if err != nil {
		return err
	}

	query := c.rebind(`
		INSERT INTO writing_runs (
			request_id, status, content, evaluation, text_stats,
			suggestions, iterations, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (request_id) DO UPDATE SET
			status = EXCLUDED.status,
			content = COALESCE(EXCLUDED.content, writing_runs.content),
			evaluation = COALESCE(EXCLUDED.evaluation, writing_runs.evaluation),
			text_stats = COALESCE(EXCLUDED.text_stats, writing_runs.text_stats),
			suggestions = COALESCE(EXCLUDED.suggestions, writing_runs.suggestions),
			iterations = EXCLUDED.iterations,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at`)

	_, err = c.db.ExecContext(ctx, query,
		run.RequestID, run.Status, nullIfEmpty(run.Content), evaluation, textStats,
		suggestions, run.Iterations, nullIfEmpty(run.Error), run.CreatedAt, run.UpdatedAt,
	)

	if err != nil {
		metrics.DBWrites.WithLabelValues("writing_runs", "error").Inc()
		return fmt.Errorf("failed to save writing run: %w", err)
	}
	metrics.DBWrites.WithLabelValues("writing_runs", "ok").Inc()

	c.logger.Debug("Writing run saved",
		zap.String("request_id", run.RequestID),
		zap.String("status", run.Status),
	)
	return nil
}

// GetRun loads the result row for a run. Returns (nil, nil) when absent.
func (c *Client) GetRun(ctx context.Context, requestID string) (*models.WritingResult, error) {
	query := c.rebind(`
		SELECT request_id, status, content, evaluation, text_stats,
			suggestions, iterations, error, created_at, updated_at
		FROM writing_runs
		WHERE request_id = ?`)

	row, err := c.db.QueryRowContextCB(ctx, query, requestID)
	if err != nil {
		return nil, err
	}

	var (
		run         models.WritingResult
		content     sql.NullString
		evaluation  []byte
		textStats   []byte
		suggestions []byte
		runErr      sql.NullString
	)
	err = row.Scan(
		&run.RequestID, &run.Status, &content, &evaluation, &textStats,
		&suggestions, &run.Iterations, &runErr, &run.CreatedAt, &run.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get writing run: %w", err)
	}

	run.Content = content.String
	run.Error = runErr.String
	if len(evaluation) > 0 {
		run.Evaluation = &models.Evaluation{}
		if err := unmarshalColumn(evaluation, run.Evaluation); err != nil {
			return nil, fmt.Errorf("failed to decode evaluation: %w", err)
		}
	}
	if len(textStats) > 0 {
		run.TextStats = &models.TextStats{}
		if err := unmarshalColumn(textStats, run.TextStats); err != nil {
			return nil, fmt.Errorf("failed to decode text_stats: %w", err)
		}
	}
	if err := unmarshalColumn(suggestions, &run.Suggestions); err != nil {
		return nil, fmt.Errorf("failed to decode suggestions: %w", err)
	}

	return &run, nil
}
