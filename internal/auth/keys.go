package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/plumeworks/plume/internal/db"
)

// keyPrefixLen is how much of the raw key is stored in clear for lookup.
// The prefix column is unique.
const keyPrefixLen = 12

// KeyStore persists API key records. *db.Client satisfies it.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *db.APIKey) error
	GetAPIKeyByPrefix(ctx context.Context, prefix string) (*db.APIKey, error)
	TouchAPIKey(ctx context.Context, keyID string) error
	DisableAPIKey(ctx context.Context, keyID string) error
}

// Service issues and validates API keys.
type Service struct {
	keys   KeyStore
	logger *zap.Logger
}

// NewService creates a new API key service.
func NewService(keys KeyStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{keys: keys, logger: logger}
}

// CreateAPIKey mints a key for a user and stores its bcrypt hash. The raw key
// is returned once and never persisted.
func (s *Service) CreateAPIKey(ctx context.Context, userID, name string) (*db.APIKey, string, error) {
	if userID == "" {
		return nil, "", fmt.Errorf("user id is required")
	}

	raw, err := generateKey()
	if err != nil {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash api key: %w", err)
	}

	key := &db.APIKey{
		Prefix:  raw[:keyPrefixLen],
		KeyHash: string(hash),
		UserID:  userID,
		Name:    name,
	}
	if err := s.keys.CreateAPIKey(ctx, key); err != nil {
		return nil, "", fmt.Errorf("failed to store api key: %w", err)
	}

	s.logger.Info("API key issued",
		zap.String("key_id", key.KeyID),
		zap.String("prefix", key.Prefix),
		zap.String("user_id", userID),
	)
	return key, raw, nil
}

// ValidateAPIKey checks a raw key against the stored hash and returns the
// caller identity. Keys authenticate with the default user scopes.
func (s *Service) ValidateAPIKey(ctx context.Context, rawKey string) (*UserContext, error) {
	if len(rawKey) < keyPrefixLen || !strings.HasPrefix(rawKey, "sk_") {
		return nil, fmt.Errorf("invalid api key format")
	}

	rec, err := s.keys.GetAPIKeyByPrefix(ctx, rawKey[:keyPrefixLen])
	if err != nil {
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("unknown api key")
	}
	if rec.Disabled {
		return nil, fmt.Errorf("api key is disabled")
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.KeyHash), []byte(rawKey)) != nil {
		return nil, fmt.Errorf("invalid api key")
	}

	// Best effort; a failed touch does not fail authentication.
	if err := s.keys.TouchAPIKey(ctx, rec.KeyID); err != nil {
		s.logger.Warn("failed to record api key use",
			zap.String("key_id", rec.KeyID),
			zap.Error(err),
		)
	}

	return &UserContext{
		UserID:     rec.UserID,
		Role:       RoleUser,
		Scopes:     scopesForRole(RoleUser),
		AuthMethod: "api_key",
		APIKeyID:   rec.KeyID,
	}, nil
}

// RevokeAPIKey disables a key. Revoked keys fail validation immediately.
func (s *Service) RevokeAPIKey(ctx context.Context, keyID string) error {
	if err := s.keys.DisableAPIKey(ctx, keyID); err != nil {
		return err
	}
	s.logger.Info("API key revoked", zap.String("key_id", keyID))
	return nil
}

// generateKey mints a raw API key: "sk_" followed by 64 hex characters.
func generateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return "sk_" + hex.EncodeToString(b), nil
}
