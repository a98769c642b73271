package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"gitlab.com/yelinaung/receipt-tracker/internal/database"
	"gitlab.com/yelinaung/receipt-tracker/internal/models"
)

// ProfileRepository handles profile (sync configuration) operations.
type ProfileRepository struct {
	db database.PGXDB
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(db database.PGXDB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Get retrieves the profile of userID.
func (r *ProfileRepository) Get(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	var p models.Profile
	err := r.db.QueryRow(ctx, `
		SELECT user_id, google_access_token, google_refresh_token, sheets_id, drive_folder_name,
		       setup_mode, google_connected_at, telegram_chat_id, created_at, updated_at
		FROM profiles WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.GoogleAccessToken, &p.GoogleRefreshToken, &p.SheetsID, &p.DriveFolderName,
		&p.SetupMode, &p.GoogleConnectedAt, &p.TelegramChatID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

// Ensure creates an empty profile for userID if none exists.
// Returns true when a new profile was created.
func (r *ProfileRepository) Ensure(ctx context.Context, userID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO profiles (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return false, fmt.Errorf("failed to ensure profile: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SaveGoogleTokens stores tokens obtained from an interactive OAuth connect.
// An empty refresh token keeps the stored one.
func (r *ProfileRepository) SaveGoogleTokens(ctx context.Context, userID uuid.UUID, accessToken, refreshToken string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO profiles (user_id, google_access_token, google_refresh_token, google_connected_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			google_access_token = EXCLUDED.google_access_token,
			google_refresh_token = CASE WHEN EXCLUDED.google_refresh_token = ''
				THEN profiles.google_refresh_token ELSE EXCLUDED.google_refresh_token END,
			google_connected_at = NOW(),
			updated_at = NOW()
	`, userID, accessToken, refreshToken)
	if err != nil {
		return fmt.Errorf("failed to save google tokens: %w", err)
	}
	return nil
}

// UpdateAccessToken stores a refreshed access token. Last write wins.
func (r *ProfileRepository) UpdateAccessToken(ctx context.Context, userID uuid.UUID, accessToken string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE profiles SET google_access_token = $2, updated_at = NOW() WHERE user_id = $1
	`, userID, accessToken)
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}
	return nil
}

// UpdateRefreshToken replaces the stored refresh token when the provider issues a new one.
func (r *ProfileRepository) UpdateRefreshToken(ctx context.Context, userID uuid.UUID, refreshToken string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE profiles SET google_refresh_token = $2, updated_at = NOW() WHERE user_id = $1
	`, userID, refreshToken)
	if err != nil {
		return fmt.Errorf("failed to update refresh token: %w", err)
	}
	return nil
}

// SaveSetup records the spreadsheet and Drive folder chosen during setup.
func (r *ProfileRepository) SaveSetup(ctx context.Context, userID uuid.UUID, sheetsID, folderName, mode string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO profiles (user_id, sheets_id, drive_folder_name, setup_mode)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			sheets_id = EXCLUDED.sheets_id,
			drive_folder_name = EXCLUDED.drive_folder_name,
			setup_mode = EXCLUDED.setup_mode,
			updated_at = NOW()
	`, userID, sheetsID, folderName, mode)
	if err != nil {
		return fmt.Errorf("failed to save setup: %w", err)
	}
	return nil
}

// SetTelegramChatID links (or unlinks with nil) a Telegram chat for sync notifications.
func (r *ProfileRepository) SetTelegramChatID(ctx context.Context, userID uuid.UUID, chatID *int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE profiles SET telegram_chat_id = $2, updated_at = NOW() WHERE user_id = $1
	`, userID, chatID)
	if err != nil {
		return fmt.Errorf("failed to set telegram chat id: %w", err)
	}
	return nil
}
