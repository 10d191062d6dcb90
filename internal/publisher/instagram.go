package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	config "github.com/rkotchamp/postmore-sub002/configs"
	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/tokens"
	"github.com/rkotchamp/postmore-sub002/internal/transfer"
)

// InstagramPublisher posts images through the Instagram graph API, as a
// single container or a carousel, then publishes the container.
type InstagramPublisher struct {
	cfg     *config.Config
	client  *http.Client
	baseURL string
}

func NewInstagramPublisher(cfg *config.Config) *InstagramPublisher {
	return &InstagramPublisher{
		cfg:     cfg,
		client:  apiClient,
		baseURL: "https://graph.instagram.com",
	}
}

func (p *InstagramPublisher) Platform() string { return models.PlatformInstagram }

func (p *InstagramPublisher) Publish(ctx context.Context, account *models.SocialAccount, content *Content) *Result {
	images, video := content.SplitMedia()
	if video != nil {
		log.Printf("post %d: instagram adapter skips video asset %d, images only", content.PostID, video.AssetID)
	}
	if len(images) == 0 {
		return failure(errors.New("instagram needs at least one image"), false)
	}

	caption := content.Caption(models.PlatformInstagram)

	var containerID string
	var err error
	if len(images) == 1 {
		containerID, err = p.createContainer(ctx, account, map[string]interface{}{
			"image_url":    images[0].URL,
			"caption":      caption,
			"access_token": account.AccessToken,
		})
	} else {
		containerID, err = p.createCarousel(ctx, account, images, caption)
	}
	if err != nil {
		return failure(err, isRetryable(err))
	}

	mediaID, err := p.publishContainer(ctx, account, containerID)
	if err != nil {
		return failure(err, isRetryable(err))
	}

	permalink, err := p.fetchPermalink(ctx, account.AccessToken, mediaID)
	if err != nil {
		log.Printf("post %d: instagram permalink lookup: %v", content.PostID, err)
	}

	return success(mediaID, permalink)
}

func (p *InstagramPublisher) createCarousel(ctx context.Context, account *models.SocialAccount, images []Media, caption string) (string, error) {
	children := make([]string, 0, len(images))
	for _, img := range images {
		childID, err := p.createContainer(ctx, account, map[string]interface{}{
			"image_url":        img.URL,
			"is_carousel_item": true,
			"access_token":     account.AccessToken,
		})
		if err != nil {
			return "", err
		}
		children = append(children, childID)
	}

	return p.createContainer(ctx, account, map[string]interface{}{
		"media_type":   "CAROUSEL",
		"caption":      caption,
		"children":     children,
		"access_token": account.AccessToken,
	})
}

func (p *InstagramPublisher) createContainer(ctx context.Context, account *models.SocialAccount, payload map[string]interface{}) (string, error) {
	endpoint := fmt.Sprintf("%s/v21.0/%s/media", p.baseURL, account.AccountID)
	return p.postForID(ctx, endpoint, payload)
}

func (p *InstagramPublisher) publishContainer(ctx context.Context, account *models.SocialAccount, containerID string) (string, error) {
	endpoint := fmt.Sprintf("%s/v21.0/%s/media_publish", p.baseURL, account.AccountID)
	return p.postForID(ctx, endpoint, map[string]interface{}{
		"creation_id":  containerID,
		"access_token": account.AccessToken,
	})
}

func (p *InstagramPublisher) postForID(ctx context.Context, endpoint string, payload map[string]interface{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", retryableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var igErr transfer.InstagramErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&igErr)
		err := fmt.Errorf("instagram: %s (code %d, status %d)", igErr.Error.Message, igErr.Error.Code, resp.StatusCode)
		if retryableStatus(resp.StatusCode) || igErr.Error.IsTransient {
			return "", retryableError(err)
		}
		return "", err
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", retryableError(err)
	}
	if result.ID == "" {
		return "", errors.New("no media ID returned from Instagram")
	}

	return result.ID, nil
}

func (p *InstagramPublisher) fetchPermalink(ctx context.Context, accessToken, mediaID string) (string, error) {
	endpoint := fmt.Sprintf("%s/v21.0/%s?fields=permalink&access_token=%s", p.baseURL, mediaID, url.QueryEscape(accessToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("instagram permalink: status %d", resp.StatusCode)
	}

	var result struct {
		Permalink string `json:"permalink"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Permalink, nil
}

// RefreshCredential renews the long-lived token. Instagram refreshes with
// the token itself, so the connect flow stores it in both token fields.
func (p *InstagramPublisher) RefreshCredential(ctx context.Context, account *models.SocialAccount) (*tokens.Update, error) {
	endpoint := fmt.Sprintf("%s/refresh_access_token?grant_type=ig_refresh_token&access_token=%s",
		p.baseURL, url.QueryEscape(account.RefreshToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var igErr transfer.InstagramErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&igErr)
		err := fmt.Errorf("instagram token refresh: %s (code %d, status %d)", igErr.Error.Message, igErr.Error.Code, resp.StatusCode)
		// Code 190 is Instagram's invalid/expired token class.
		if igErr.Error.Code == 190 {
			return nil, tokens.Permanent(err)
		}
		return nil, err
	}

	var tokenResponse struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return nil, err
	}

	return &tokens.Update{
		AccessToken:  tokenResponse.AccessToken,
		RefreshToken: tokenResponse.AccessToken,
		ExpiresAt:    time.Now().Add(time.Duration(tokenResponse.ExpiresIn) * time.Second),
	}, nil
}
