package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/rkotchamp/postmore-sub002/configs"
	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/tokens"
	"github.com/rkotchamp/postmore-sub002/internal/transfer"
)

// TiktokPublisher posts through the TikTok content posting API. Publishing
// is asynchronous on TikTok's side: init returns a publish_id and the status
// poller confirms the final outcome.
type TiktokPublisher struct {
	cfg     *config.Config
	client  *http.Client
	baseURL string
}

func NewTiktokPublisher(cfg *config.Config) *TiktokPublisher {
	return &TiktokPublisher{
		cfg:     cfg,
		client:  apiClient,
		baseURL: "https://open.tiktokapis.com",
	}
}

func (p *TiktokPublisher) Platform() string { return models.PlatformTiktok }

func (p *TiktokPublisher) Publish(ctx context.Context, account *models.SocialAccount, content *Content) *Result {
	images, video := content.SplitMedia()
	if video == nil && len(images) == 0 {
		return failure(errors.New("tiktok needs at least one photo or video"), false)
	}

	creator, err := p.queryCreatorInfo(ctx, account.AccessToken)
	if err != nil {
		return failure(err, isRetryable(err))
	}

	privacy := content.Options.TiktokPrivacyLevel
	if privacy == "" {
		return failure(errors.New("tiktok privacy level is not configured, set your posting defaults first"), false)
	}
	if !containsString(creator.PrivacyLevelOptions, privacy) {
		return failure(fmt.Errorf("tiktok privacy level %s is not available for this account", privacy), false)
	}

	if video != nil {
		return p.publishVideo(ctx, account, content, video, privacy)
	}
	return p.publishPhotos(ctx, account, content, images, privacy)
}

func (p *TiktokPublisher) publishVideo(ctx context.Context, account *models.SocialAccount, content *Content, video *Media, privacy string) *Result {
	body := transfer.VideoUploadRequest{
		PostInfo: transfer.VideoPostInfo{
			Title:                 content.Caption(models.PlatformTiktok),
			PrivacyLevel:          privacy,
			DisableComment:        content.Options.TiktokDisableComments,
			DisableDuet:           content.Options.TiktokDisableDuet,
			DisableStitch:         content.Options.TiktokDisableStitch,
			VideoCoverTimestampMs: 1000,
		},
		SourceInfo: transfer.VideoSourceInfo{
			Source:   "PULL_FROM_URL",
			VideoURL: video.URL,
		},
	}
	return p.initPublish(ctx, account.AccessToken, "/v2/post/publish/video/init/", body)
}

func (p *TiktokPublisher) publishPhotos(ctx context.Context, account *models.SocialAccount, content *Content, images []Media, privacy string) *Result {
	photos := make([]string, 0, len(images))
	for _, img := range images {
		photos = append(photos, img.URL)
	}

	body := transfer.PhotoUploadRequest{
		PostInfo: transfer.PhotoPostInfo{
			Title:          content.Title,
			Description:    content.Caption(models.PlatformTiktok),
			PrivacyLevel:   privacy,
			DisableComment: content.Options.TiktokDisableComments,
			AutoAddMusic:   true,
		},
		SourceInfo: transfer.PhotoSourceInfo{
			Source:          "PULL_FROM_URL",
			PhotoCoverIndex: 0,
			PhotoImages:     photos,
		},
		PostMode:  "DIRECT_POST",
		MediaType: "PHOTO",
	}
	return p.initPublish(ctx, account.AccessToken, "/v2/post/publish/content/init/", body)
}

func (p *TiktokPublisher) initPublish(ctx context.Context, accessToken, path string, body interface{}) *Result {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return failure(err, false)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return failure(err, false)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := p.client.Do(req)
	if err != nil {
		return failure(err, true)
	}
	defer resp.Body.Close()

	var result transfer.TikTokUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return failure(err, true)
	}

	if resp.StatusCode != http.StatusOK || !tiktokOK(result.Error) {
		err := fmt.Errorf("tiktok publish init: %s (%s)", result.Error.Message, result.Error.Code)
		return failure(err, retryableStatus(resp.StatusCode))
	}

	return pending(result.Data.PublishID)
}

func (p *TiktokPublisher) queryCreatorInfo(ctx context.Context, accessToken string) (*transfer.TiktokCreatorInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v2/post/publish/creator_info/query/", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, retryableError(err)
	}
	defer resp.Body.Close()

	var result transfer.TiktokCreatorInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, retryableError(err)
	}

	if resp.StatusCode != http.StatusOK || !tiktokOK(result.Error) {
		err := fmt.Errorf("tiktok creator info: %s (%s)", result.Error.Message, result.Error.Code)
		if retryableStatus(resp.StatusCode) {
			return nil, retryableError(err)
		}
		return nil, err
	}

	return &result.Data, nil
}

// FetchPublishStatus asks TikTok what became of an earlier publish_id. Used
// by the status poller.
func (p *TiktokPublisher) FetchPublishStatus(ctx context.Context, accessToken, publishID string) (*transfer.TiktokStatusData, error) {
	jsonData, err := json.Marshal(transfer.TiktokStatusRequest{PublishID: publishID})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v2/post/publish/status/fetch/", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result transfer.TiktokStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK || !tiktokOK(result.Error) {
		return nil, fmt.Errorf("tiktok status fetch: %s (%s)", result.Error.Message, result.Error.Code)
	}

	return &result.Data, nil
}

func (p *TiktokPublisher) RefreshCredential(ctx context.Context, account *models.SocialAccount) (*tokens.Update, error) {
	data := url.Values{}
	data.Set("client_key", p.cfg.TiktokClientKey)
	data.Set("client_secret", p.cfg.TiktokClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", account.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v2/oauth/token/", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tokenResponse transfer.TiktokTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return nil, err
	}

	if tokenResponse.Error != "" {
		err := fmt.Errorf("tiktok token refresh: %s (%s)", tokenResponse.ErrorDescription, tokenResponse.Error)
		if tokenResponse.Error == "invalid_grant" {
			return nil, tokens.Permanent(err)
		}
		return nil, err
	}
	if resp.StatusCode != http.StatusOK || tokenResponse.AccessToken == "" {
		return nil, fmt.Errorf("tiktok token refresh: status %d", resp.StatusCode)
	}

	return &tokens.Update{
		AccessToken:  tokenResponse.AccessToken,
		RefreshToken: tokenResponse.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tokenResponse.ExpiresIn) * time.Second),
	}, nil
}

func tiktokOK(e transfer.TiktokError) bool {
	return e.Code == "" || e.Code == "ok"
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
