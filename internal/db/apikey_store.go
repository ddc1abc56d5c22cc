package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateAPIKey stores a new API key record.
func (c *Client) CreateAPIKey(ctx context.Context, key *APIKey) error {
	if key.Prefix == "" || key.KeyHash == "" {
		return fmt.Errorf("api key prefix and hash are required")
	}
	if key.KeyID == "" {
		key.KeyID = uuid.New().String()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	query := c.rebind(`
		INSERT INTO api_keys (
			key_id, prefix, key_hash, user_id, name, disabled, created_at, last_used_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := c.db.ExecContext(ctx, query,
		key.KeyID, key.Prefix, key.KeyHash, key.UserID,
		nullIfEmpty(key.Name), key.Disabled, key.CreatedAt, key.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}

	c.logger.Info("API key created",
		zap.String("key_id", key.KeyID),
		zap.String("prefix", key.Prefix),
		zap.String("user_id", key.UserID),
	)
	return nil
}

// GetAPIKeyByPrefix looks up an API key record by its public prefix.
// Returns (nil, nil) when no key has that prefix.
func (c *Client) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*APIKey, error) {
	query := c.rebind(`
		SELECT key_id, prefix, key_hash, user_id, name, disabled, created_at, last_used_at
		FROM api_keys
		WHERE prefix = ?`)

	row, err := c.db.QueryRowContextCB(ctx, query, prefix)
	if err != nil {
		return nil, err
	}

	var (
		key  APIKey
		name sql.NullString
	)
	err = row.Scan(
		&key.KeyID, &key.Prefix, &key.KeyHash, &key.UserID,
		&name, &key.Disabled, &key.CreatedAt, &key.LastUsedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	key.Name = name.String
	return &key, nil
}

// TouchAPIKey records that a key was used. Best effort; a failed touch does
// not affect authentication.
func (c *Client) TouchAPIKey(ctx context.Context, keyID string) error {
	query := c.rebind(`UPDATE api_keys SET last_used_at = ? WHERE key_id = ?`)
	if _, err := c.db.ExecContext(ctx, query, time.Now().UTC(), keyID); err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

// DisableAPIKey revokes a key.
func (c *Client) DisableAPIKey(ctx context.Context, keyID string) error {
	query := c.rebind(`UPDATE api_keys SET disabled = ? WHERE key_id = ?`)
	if _, err := c.db.ExecContext(ctx, query, true, keyID); err != nil {
		return fmt.Errorf("failed to disable api key: %w", err)
	}
	return nil
}
