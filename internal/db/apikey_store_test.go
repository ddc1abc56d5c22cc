package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiKeyColumns() []string {
	return []string{"key_id", "prefix", "key_hash", "user_id", "name", "disabled", "created_at", "last_used_at"}
}

func TestCreateAPIKeyGeneratesID(t *testing.T) {
	c, mock := newTestClient(t)

	mock.ExpectExec("INSERT INTO api_keys").
		WillReturnResult(sqlmock.NewResult(0, 1))

	key := &APIKey{Prefix: "plm_abc123", KeyHash: "$2a$10$hash", UserID: "user-1", Name: "ci"}
	require.NoError(t, c.CreateAPIKey(context.Background(), key))

	_, err := uuid.Parse(key.KeyID)
	assert.NoError(t, err)
	assert.False(t, key.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAPIKeyRequiresPrefixAndHash(t *testing.T) {
	c, mock := newTestClient(t)

	require.Error(t, c.CreateAPIKey(context.Background(), &APIKey{UserID: "user-1"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAPIKeyByPrefix(t *testing.T) {
	c, mock := newTestClient(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(apiKeyColumns()).AddRow(
		"key-1", "plm_abc123", "$2a$10$hash", "user-1", nil, false, now, nil,
	)
	mock.ExpectQuery("SELECT key_id, prefix, key_hash").
		WithArgs("plm_abc123").
		WillReturnRows(rows)

	key, err := c.GetAPIKeyByPrefix(context.Background(), "plm_abc123")
	require.NoError(t, err)
	require.NotNil(t, key)

	assert.Equal(t, "key-1", key.KeyID)
	assert.Equal(t, "$2a$10$hash", key.KeyHash)
	assert.Empty(t, key.Name)
	assert.False(t, key.Disabled)
	assert.Nil(t, key.LastUsedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAPIKeyByPrefixAbsent(t *testing.T) {
	c, mock := newTestClient(t)

	mock.ExpectQuery("SELECT key_id, prefix, key_hash").
		WithArgs("plm_missing").
		WillReturnRows(sqlmock.NewRows(apiKeyColumns()))

	key, err := c.GetAPIKeyByPrefix(context.Background(), "plm_missing")
	require.NoError(t, err)
	assert.Nil(t, key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTouchAndDisableAPIKey(t *testing.T) {
	c, mock := newTestClient(t)

	mock.ExpectExec("UPDATE api_keys SET last_used_at").
		WithArgs(sqlmock.AnyArg(), "key-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE api_keys SET disabled").
		WithArgs(true, "key-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, c.TouchAPIKey(context.Background(), "key-1"))
	require.NoError(t, c.DisableAPIKey(context.Background(), "key-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
