package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/repository"
	"github.com/rkotchamp/postmore-sub002/internal/transfer"
)

var tiktokPrivacyLevels = []string{
	"PUBLIC_TO_EVERYONE",
	"MUTUAL_FOLLOW_FRIENDS",
	"FOLLOWER_OF_CREATOR",
	"SELF_ONLY",
}

var youtubePrivacyStatuses = []string{"public", "private", "unlisted"}

type SettingsService interface {
	GetSettingsInfo(ctx context.Context, id int64) (*models.Settings, error)
	UpdateSettings(ctx context.Context, userID int64, update *transfer.SettingsUpdate) error
}

type settingsService struct {
	sr repository.SettingsRepository
}

func NewSettingsService(sr repository.SettingsRepository) SettingsService {
	return &settingsService{
		sr: sr,
	}
}

func (s *settingsService) GetSettingsInfo(ctx context.Context, id int64) (*models.Settings, error) {
	settings, isExist, err := s.sr.GetByUserID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !isExist {
		err = errors.New("setting for given user doesn't exist")
		slog.Info(err.Error())
		return nil, err
	}

	return settings, nil
}

func (s *settingsService) UpdateSettings(ctx context.Context, userID int64, update *transfer.SettingsUpdate) error {

	if update.TiktokPrivacyLevel != "" && !containsSetting(tiktokPrivacyLevels, update.TiktokPrivacyLevel) {
		err := fmt.Errorf("invalid tiktok privacy level: %s", update.TiktokPrivacyLevel)
		slog.Info(err.Error())
		return err
	}

	if update.YoutubePrivacyStatus != "" && !containsSetting(youtubePrivacyStatuses, update.YoutubePrivacyStatus) {
		err := fmt.Errorf("invalid youtube privacy status: %s", update.YoutubePrivacyStatus)
		slog.Info(err.Error())
		return err
	}

	settings := models.Settings{
		UserID:                userID,
		TiktokPrivacyLevel:    update.TiktokPrivacyLevel,
		TiktokDisableComments: update.TiktokDisableComments,
		TiktokDisableDuet:     update.TiktokDisableDuet,
		TiktokDisableStitch:   update.TiktokDisableStitch,
		YoutubeCategoryID:     update.YoutubeCategoryID,
		YoutubePrivacyStatus:  update.YoutubePrivacyStatus,
	}

	_, isExist, err := s.sr.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}

	if !isExist {
		_, err = s.sr.Create(ctx, &settings)
		return err
	}

	return s.sr.UpdateSettings(ctx, &settings, userID)
}

func containsSetting(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
