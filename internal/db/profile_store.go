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

// SaveProfile inserts or updates a user profile (idempotent by user_id).
// created_at is preserved on update.
func (c *Client) SaveProfile(ctx context.Context, profile *models.UserProfile) error {
	if profile.UserID == "" {
		return fmt.Errorf("profile user_id is required")
	}
	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	personalInfo, err := marshalColumn(profile.PersonalInfo)
	if err != nil {
		return err
	}
	preferences, err := marshalColumn(profile.WritingPreferences)
	if err != nil {
		return err
	}
	education, err := marshalColumn(profile.Education)
	if err != nil {
		return err
	}
	experience, err := marshalColumn(profile.Experience)
	if err != nil {
		return err
	}
	skills, err := marshalColumn(profile.Skills)
	if err != nil {
		return err
	}

	query := c.rebind(`
		INSERT INTO user_profiles (
			user_id, personal_info, writing_preferences,
			education, experience, skills,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			personal_info = EXCLUDED.personal_info,
			writing_preferences = EXCLUDED.writing_preferences,
			education = EXCLUDED.education,
			experience = EXCLUDED.experience,
			skills = EXCLUDED.skills,
			updated_at = EXCLUDED.updated_at`)

	_, err = c.db.ExecContext(ctx, query,
		profile.UserID, personalInfo, preferences,
		education, experience, skills,
		profile.CreatedAt, profile.UpdatedAt,
	)

	if err != nil {
		metrics.DBWrites.WithLabelValues("user_profiles", "error").Inc()
		return fmt.Errorf("failed to save user profile: %w", err)
	}
	metrics.DBWrites.WithLabelValues("user_profiles", "ok").Inc()

	c.logger.Debug("User profile saved", zap.String("user_id", profile.UserID))
	return nil
}

// GetProfile loads a user profile by ID. Returns (nil, nil) when the user
// has no profile.
func (c *Client) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	query := c.rebind(`
		SELECT user_id, personal_info, writing_preferences,
			education, experience, skills,
			created_at, updated_at
		FROM user_profiles
		WHERE user_id = ?`)

	row, err := c.db.QueryRowContextCB(ctx, query, userID)
	if err != nil {
		return nil, err
	}

	var (
		profile     models.UserProfile
		personal    []byte
		preferences []byte
		education   []byte
		experience  []byte
		skills      []byte
	)
	err = row.Scan(
		&profile.UserID, &personal, &preferences,
		&education, &experience, &skills,
		&profile.CreatedAt, &profile.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}

	if err := unmarshalColumn(personal, &profile.PersonalInfo); err != nil {
		return nil, fmt.Errorf("failed to decode personal_info: %w", err)
	}
	if err := unmarshalColumn(preferences, &profile.WritingPreferences); err != nil {
		return nil, fmt.Errorf("failed to decode writing_preferences: %w", err)
	}
	if err := unmarshalColumn(education, &profile.Education); err != nil {
		return nil, fmt.Errorf("failed to decode education: %w", err)
	}
	if err := unmarshalColumn(experience, &profile.Experience); err != nil {
		return nil, fmt.Errorf("failed to decode experience: %w", err)
	}
	if err := unmarshalColumn(skills, &profile.Skills); err != nil {
		return nil, fmt.Errorf("failed to decode skills: %w", err)
	}

	return &profile, nil
}

// DeleteProfile removes a user profile. Deleting an absent profile is not
// an error.
func (c *Client) DeleteProfile(ctx context.Context, userID string) error {
	query := c.rebind(`DELETE FROM user_profiles WHERE user_id = ?`)
	if _, err := c.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to delete user profile: %w", err)
	}
	return nil
}
