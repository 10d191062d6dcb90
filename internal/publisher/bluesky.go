package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	config "github.com/rkotchamp/postmore-sub002/configs"
	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/tokens"
	"github.com/rkotchamp/postmore-sub002/internal/transfer"
)

const blueskyMaxPostLength = 300

// BlueskyPublisher talks to an atproto PDS. Access and refresh credentials
// are short-lived session JWTs rather than OAuth tokens, so expiry is read
// out of the access JWT itself when a session is minted.
type BlueskyPublisher struct {
	cfg     *config.Config
	client  *http.Client
	baseURL string
}

func NewBlueskyPublisher(cfg *config.Config) *BlueskyPublisher {
	return &BlueskyPublisher{
		cfg:     cfg,
		client:  apiClient,
		baseURL: cfg.BlueskyServiceURL,
	}
}

func (p *BlueskyPublisher) Platform() string { return models.PlatformBluesky }

func (p *BlueskyPublisher) Publish(ctx context.Context, account *models.SocialAccount, content *Content) *Result {
	images, video := content.SplitMedia()
	if video != nil {
		log.Printf("post %d: bluesky adapter does not post video, skipping asset %d", content.PostID, video.AssetID)
	}

	text := content.Caption(models.PlatformBluesky)
	if runes := []rune(text); len(runes) > blueskyMaxPostLength {
		log.Printf("post %d: bluesky text truncated from %d to %d characters", content.PostID, len(runes), blueskyMaxPostLength)
		text = string(runes[:blueskyMaxPostLength])
	}
	if text == "" && len(images) == 0 {
		return failure(fmt.Errorf("nothing to post for bluesky"), false)
	}

	record := transfer.BlueskyPostRecord{
		Type:      "app.bsky.feed.post",
		Text:      text,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	if len(images) > 0 {
		embed := &transfer.BlueskyEmbed{Type: "app.bsky.embed.images"}
		for i, image := range images {
			if i == 4 {
				log.Printf("post %d: bluesky embeds at most 4 images, skipping %d more", content.PostID, len(images)-4)
				break
			}
			blob, err := p.uploadBlob(ctx, account.AccessToken, image)
			if err != nil {
				return failure(err, isRetryable(err))
			}
			embed.Images = append(embed.Images, transfer.BlueskyImage{Image: *blob})
		}
		record.Embed = embed
	}

	uri, err := p.createRecord(ctx, account.AccessToken, account.AccountID, record)
	if err != nil {
		return failure(err, isRetryable(err))
	}

	return success(uri, postURLFromATURI(account.AccountID, uri))
}

func (p *BlueskyPublisher) uploadBlob(ctx context.Context, accessJwt string, image Media) (*transfer.BlueskyBlob, error) {
	data, err := fetchMedia(ctx, image.URL)
	if err != nil {
		return nil, retryableError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/xrpc/com.atproto.repo.uploadBlob", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessJwt)
	req.Header.Set("Content-Type", image.Mime)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, retryableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.apiError("upload blob", resp)
	}

	var result transfer.BlueskyBlobResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, retryableError(err)
	}

	return &result.Blob, nil
}

func (p *BlueskyPublisher) createRecord(ctx context.Context, accessJwt, did string, record transfer.BlueskyPostRecord) (string, error) {
	body := transfer.BlueskyCreateRecordRequest{
		Repo:       did,
		Collection: "app.bsky.feed.post",
		Record:     record,
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/xrpc/com.atproto.repo.createRecord", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessJwt)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", retryableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", p.apiError("create record", resp)
	}

	var result transfer.BlueskyCreateRecordResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", retryableError(err)
	}

	return result.URI, nil
}

// postURLFromATURI maps at://<did>/app.bsky.feed.post/<rkey> to the public
// bsky.app permalink.
func postURLFromATURI(did, uri string) string {
	parts := strings.Split(uri, "/")
	if len(parts) == 0 {
		return ""
	}
	rkey := parts[len(parts)-1]
	return "https://bsky.app/profile/" + did + "/post/" + rkey
}

func (p *BlueskyPublisher) apiError(operation string, resp *http.Response) error {
	var apiErr transfer.BlueskyErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)
	err := fmt.Errorf("bluesky %s: %s: %s (status %d)", operation, apiErr.Error, apiErr.Message, resp.StatusCode)
	if retryableStatus(resp.StatusCode) {
		return retryableError(err)
	}
	return err
}

// RefreshCredential rotates the atproto session. The refresh JWT goes in the
// Authorization header and the PDS answers with a fresh session pair.
func (p *BlueskyPublisher) RefreshCredential(ctx context.Context, account *models.SocialAccount) (*tokens.Update, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/xrpc/com.atproto.server.refreshSession", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+account.RefreshToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr transfer.BlueskyErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		err := fmt.Errorf("bluesky refresh session: %s: %s (status %d)", apiErr.Error, apiErr.Message, resp.StatusCode)
		if apiErr.Error == "ExpiredToken" || apiErr.Error == "InvalidToken" {
			return nil, tokens.Permanent(err)
		}
		return nil, err
	}

	var session transfer.BlueskySession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, err
	}

	return &tokens.Update{
		AccessToken:  session.AccessJwt,
		RefreshToken: session.RefreshJwt,
		ExpiresAt:    jwtExpiry(session.AccessJwt),
	}, nil
}

// jwtExpiry pulls the exp claim out of a session JWT without verifying the
// signature. The PDS signed it, we only need the deadline.
func jwtExpiry(tokenString string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
