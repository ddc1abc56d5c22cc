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

// SaveRequest inserts or updates a writing request (idempotent by request_id).
// Requests are written synchronously at submission so the run row's foreign
// key is always satisfied.
func (c *Client) SaveRequest(ctx context.Context, req *models.WritingRequest) error {
	if req.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}
	now := time.Now().UTC()

	requirements, err := marshalColumn(req.Requirements)
	if err != nil {
		return err
	}
	reqContext := req.Context
	if reqContext == nil {
		reqContext = map[string]interface{}{}
	}

	query := c.rebind(`
		INSERT INTO writing_requests (
			request_id, user_id, category, context, requirements,
			additional_info, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (request_id) DO UPDATE SET
			context = EXCLUDED.context,
			requirements = EXCLUDED.requirements,
			additional_info = EXCLUDED.additional_info,
			updated_at = EXCLUDED.updated_at`)

	_, err = c.db.ExecContext(ctx, query,
		req.RequestID, req.UserID, req.Category, JSONB(reqContext), requirements,
		nullIfEmpty(req.AdditionalInfo), now, now,
	)

	if err != nil {
		metrics.DBWrites.WithLabelValues("writing_requests", "error").Inc()
		return fmt.Errorf("failed to save writing request: %w", err)
	}
	metrics.DBWrites.WithLabelValues("writing_requests", "ok").Inc()

	c.logger.Debug("Writing request saved",
		zap.String("request_id", req.RequestID),
		zap.String("category", req.Category),
	)
	return nil
}

// GetRequest loads a writing request by ID. Returns (nil, nil) when absent.
func (c *Client) GetRequest(ctx context.Context, requestID string) (*models.WritingRequest, error) {
	query := c.rebind(`
		SELECT request_id, user_id, category, context, requirements, additional_info
		FROM writing_requests
		WHERE request_id = ?`)

	row, err := c.db.QueryRowContextCB(ctx, query, requestID)
	if err != nil {
		return nil, err
	}

	req, err := scanRequest(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get writing request: %w", err)
	}
	return req, nil
}

// ListRequests returns a user's writing requests, newest first.
func (c *Client) ListRequests(ctx context.Context, userID string, limit int) ([]models.WritingRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	query := c.rebind(`
		SELECT request_id, user_id, category, context, requirements, additional_info
		FROM writing_requests
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`)

	rows, err := c.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list writing requests: %w", err)
	}
	defer rows.Close()

	var out []models.WritingRequest
	for rows.Next() {
		req, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan writing request: %w", err)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func scanRequest(scan func(...interface{}) error) (*models.WritingRequest, error) {
	var (
		req            models.WritingRequest
		reqContext     JSONB
		requirements   []byte
		additionalInfo sql.NullString
	)
	err := scan(
		&req.RequestID, &req.UserID, &req.Category,
		&reqContext, &requirements, &additionalInfo,
	)
	if err != nil {
		return nil, err
	}
	req.Context = map[string]interface{}(reqContext)
	if err := unmarshalColumn(requirements, &req.Requirements); err != nil {
		return nil, fmt.Errorf("failed to decode requirements: %w", err)
	}
	req.AdditionalInfo = additionalInfo.String
	return &req, nil
}
