package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/rkotchamp/postmore-sub002/internal/models"
)

type SettingsRepository interface {
	Create(ctx context.Context, settings *models.Settings) (int64, error)
	GetByUserID(ctx context.Context, userID int64) (*models.Settings, bool, error)
	UpdateSettings(ctx context.Context, s *models.Settings, userID int64) error
}

type settingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

const settingsColumns = `id, user_id, tiktok_privacy_level, tiktok_disable_comments, tiktok_disable_duet, tiktok_disable_stitch, youtube_category_id, youtube_privacy_status, created_at, updated_at`

func (r *settingsRepository) Create(ctx context.Context, settings *models.Settings) (int64, error) {
	query := `
		INSERT INTO settings (user_id, tiktok_privacy_level, tiktok_disable_comments, tiktok_disable_duet, tiktok_disable_stitch, youtube_category_id, youtube_privacy_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		settings.UserID,
		settings.TiktokPrivacyLevel,
		settings.TiktokDisableComments,
		settings.TiktokDisableDuet,
		settings.TiktokDisableStitch,
		settings.YoutubeCategoryID,
		settings.YoutubePrivacyStatus,
	).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *settingsRepository) GetByUserID(ctx context.Context, userID int64) (*models.Settings, bool, error) {
	query := `SELECT ` + settingsColumns + ` FROM settings WHERE user_id = $1`
	row := r.db.QueryRowContext(ctx, query, userID)

	var settings models.Settings
	err := row.Scan(&settings.ID, &settings.UserID,
		&settings.TiktokPrivacyLevel, &settings.TiktokDisableComments,
		&settings.TiktokDisableDuet, &settings.TiktokDisableStitch,
		&settings.YoutubeCategoryID, &settings.YoutubePrivacyStatus,
		&settings.CreatedAt, &settings.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		slog.Info(err.Error())
		return nil, false, err
	}

	return &settings, true, nil
}

func (r *settingsRepository) UpdateSettings(ctx context.Context, s *models.Settings, userID int64) error {
	query := `
		UPDATE settings
		SET tiktok_privacy_level = $1,
			tiktok_disable_comments = $2,
			tiktok_disable_duet = $3,
			tiktok_disable_stitch = $4,
			youtube_category_id = $5,
			youtube_privacy_status = $6,
			updated_at = $7
		WHERE user_id = $8
	`
	_, err := r.db.ExecContext(ctx, query,
		s.TiktokPrivacyLevel,
		s.TiktokDisableComments,
		s.TiktokDisableDuet,
		s.TiktokDisableStitch,
		s.YoutubeCategoryID,
		s.YoutubePrivacyStatus,
		time.Now(), userID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	return nil
}
