package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	config "github.com/rkotchamp/postmore-sub002/configs"
	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/repository"
	"github.com/rkotchamp/postmore-sub002/internal/transfer"
	"github.com/rkotchamp/postmore-sub002/pkg/utils"
)

// BlueskyService connects Bluesky accounts. There is no OAuth dance here:
// the user supplies their handle and an app password, and the service
// creates an atproto session. Publishing and session refresh live in the
// publisher adapter.
type BlueskyService interface {
	BlueskyConnect(ctx context.Context, userID int64, handle, appPassword string) (err error)
}

type blueskyService struct {
	cfg *config.Config
	sa  repository.SocialAccountRepository
}

func NewBlueskyService(cfg *config.Config, sa repository.SocialAccountRepository) BlueskyService {
	return &blueskyService{
		cfg: cfg,
		sa:  sa,
	}
}

func (s *blueskyService) BlueskyConnect(ctx context.Context, userID int64, handle, appPassword string) (err error) {

	if handle == "" || appPassword == "" {
		err = errors.New("handle or app password is empty")
		slog.Info(err.Error())
		return err
	}

	if userID == 0 {
		err = errors.New("User not found")
		slog.Info(err.Error())
		return err
	}

	session, err := s.createSession(ctx, handle, appPassword)
	if err != nil {
		return err
	}

	displayName, avatar := s.fetchProfile(ctx, session)

	encryptedAccessToken, err := utils.Encrypt([]byte(session.AccessJwt), []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	encryptedRefreshToken, err := utils.Encrypt([]byte(session.RefreshJwt), []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	accountInfo := &models.SocialAccount{
		UserID:          userID,
		Platform:        models.PlatformBluesky,
		AccountID:       session.Did,
		AccountName:     displayName,
		AccountUsername: session.Handle,
		ProfilePicture:  avatar,
		AccessToken:     encryptedAccessToken,
		RefreshToken:    encryptedRefreshToken,
		TokenExpiresAt:  accessJwtExpiry(session.AccessJwt),
	}

	_, err = s.sa.Create(ctx, nil, accountInfo)
	if err != nil {
		return err
	}

	return nil
}

func (s *blueskyService) createSession(ctx context.Context, handle, appPassword string) (*transfer.BlueskySession, error) {
	body, err := json.Marshal(map[string]string{
		"identifier": handle,
		"password":   appPassword,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		s.cfg.BlueskyServiceURL+"/xrpc/com.atproto.server.createSession",
		bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to create bluesky session: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr transfer.BlueskyErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("bluesky session failed: %s", apiErr.Message)
		}
		return nil, fmt.Errorf("bluesky session failed with status %d", resp.StatusCode)
	}

	var session transfer.BlueskySession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &session, nil
}

// fetchProfile is best effort. A failed lookup falls back to the handle so
// the connect itself still succeeds.
func (s *blueskyService) fetchProfile(ctx context.Context, session *transfer.BlueskySession) (displayName, avatar string) {
	displayName = session.Handle

	reqUrl := s.cfg.BlueskyServiceURL + "/xrpc/app.bsky.actor.getProfile?actor=" + url.QueryEscape(session.Did)
	req, err := http.NewRequestWithContext(ctx, "GET", reqUrl, nil)
	if err != nil {
		return displayName, ""
	}
	req.Header.Set("Authorization", "Bearer "+session.AccessJwt)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return displayName, ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return displayName, ""
	}

	var profile struct {
		DisplayName string `json:"displayName"`
		Avatar      string `json:"avatar"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return displayName, ""
	}

	if profile.DisplayName != "" {
		displayName = profile.DisplayName
	}
	return displayName, profile.Avatar
}

// accessJwtExpiry reads the exp claim without verifying the signature. The
// PDS signed it, we only need the deadline for refresh scheduling.
func accessJwtExpiry(tokenString string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return time.Now().Add(time.Hour)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Now().Add(time.Hour)
	}
	return exp.Time
}
