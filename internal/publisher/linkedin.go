package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/linkedin"

	config "github.com/rkotchamp/postmore-sub002/configs"
	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/tokens"
	"github.com/rkotchamp/postmore-sub002/internal/transfer"
)

const (
	linkedinVersion   = "202405"
	linkedinChunkSize = 4 * 1024 * 1024
)

// LinkedinPublisher posts to member feeds through the LinkedIn REST API.
// Videos go through the three-phase chunked upload: initializeUpload hands
// out per-chunk URLs, every chunk PUT answers with an ETag that becomes that
// chunk's part ID, and finalizeUpload submits the part IDs in chunk order.
type LinkedinPublisher struct {
	cfg     *config.Config
	client  *http.Client
	baseURL string
}

func NewLinkedinPublisher(cfg *config.Config) *LinkedinPublisher {
	return &LinkedinPublisher{
		cfg:     cfg,
		client:  apiClient,
		baseURL: "https://api.linkedin.com",
	}
}

func (p *LinkedinPublisher) Platform() string { return models.PlatformLinkedin }

func (p *LinkedinPublisher) Publish(ctx context.Context, account *models.SocialAccount, content *Content) *Result {
	author := "urn:li:person:" + account.AccountID
	images, video := content.SplitMedia()

	var assetURN string
	var err error
	switch {
	case video != nil:
		assetURN, err = p.uploadVideo(ctx, account.AccessToken, author, video)
	case len(images) > 0:
		if len(images) > 1 {
			log.Printf("post %d: linkedin adapter posts the first image, skipping %d more", content.PostID, len(images)-1)
		}
		assetURN, err = p.uploadImage(ctx, account.AccessToken, author, images[0])
	}
	if err != nil {
		return failure(err, isRetryable(err))
	}

	postURN, err := p.createPost(ctx, account.AccessToken, author, content, assetURN)
	if err != nil {
		return failure(err, isRetryable(err))
	}

	return success(postURN, "https://www.linkedin.com/feed/update/"+postURN)
}

func (p *LinkedinPublisher) uploadVideo(ctx context.Context, accessToken, author string, video *Media) (string, error) {
	data, err := fetchMedia(ctx, video.URL)
	if err != nil {
		return "", retryableError(err)
	}

	init, err := p.initializeUpload(ctx, accessToken, "/rest/videos?action=initializeUpload", transfer.LinkedinInitUploadRequest{
		InitializeUploadRequest: transfer.LinkedinInitUploadOwner{
			Owner:         author,
			FileSizeBytes: int64(len(data)),
		},
	})
	if err != nil {
		return "", err
	}
	if len(init.UploadInstructions) == 0 {
		return "", errors.New("linkedin: no upload instructions returned")
	}

	partIDs := make([]string, 0, len(init.UploadInstructions))
	for _, instruction := range init.UploadInstructions {
		if instruction.FirstByte < 0 || instruction.LastByte >= int64(len(data)) {
			return "", fmt.Errorf("linkedin: upload instruction out of range [%d,%d]", instruction.FirstByte, instruction.LastByte)
		}
		chunk := data[instruction.FirstByte : instruction.LastByte+1]

		etag, err := p.putChunk(ctx, instruction.UploadURL, chunk)
		if err != nil {
			return "", err
		}
		partIDs = append(partIDs, etag)
	}

	if err := p.finalizeUpload(ctx, accessToken, init.Video, init.UploadToken, partIDs); err != nil {
		return "", err
	}

	return init.Video, nil
}

func (p *LinkedinPublisher) uploadImage(ctx context.Context, accessToken, author string, image Media) (string, error) {
	data, err := fetchMedia(ctx, image.URL)
	if err != nil {
		return "", retryableError(err)
	}

	init, err := p.initializeUpload(ctx, accessToken, "/rest/images?action=initializeUpload", transfer.LinkedinInitUploadRequest{
		InitializeUploadRequest: transfer.LinkedinInitUploadOwner{Owner: author},
	})
	if err != nil {
		return "", err
	}

	if _, err := p.putChunk(ctx, init.UploadURL, data); err != nil {
		return "", err
	}

	return init.Image, nil
}

func (p *LinkedinPublisher) initializeUpload(ctx context.Context, accessToken, path string, body transfer.LinkedinInitUploadRequest) (*transfer.LinkedinInitUploadValue, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	p.setHeaders(req, accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, retryableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.apiError("initialize upload", resp)
	}

	var result transfer.LinkedinInitUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, retryableError(err)
	}

	return &result.Value, nil
}

// putChunk uploads one byte range and returns the response ETag, which
// LinkedIn uses as the chunk's part identifier.
func (p *LinkedinPublisher) putChunk(ctx context.Context, uploadURL string, chunk []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(chunk))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := mediaClient.Do(req)
	if err != nil {
		return "", retryableError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		err := fmt.Errorf("linkedin chunk upload: status %d", resp.StatusCode)
		if retryableStatus(resp.StatusCode) {
			return "", retryableError(err)
		}
		return "", err
	}

	return resp.Header.Get("ETag"), nil
}

func (p *LinkedinPublisher) finalizeUpload(ctx context.Context, accessToken, videoURN, uploadToken string, partIDs []string) error {
	body := transfer.LinkedinFinalizeUploadRequest{
		FinalizeUploadRequest: transfer.LinkedinFinalizeUpload{
			Video:           videoURN,
			UploadToken:     uploadToken,
			UploadedPartIds: partIDs,
		},
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/rest/videos?action=finalizeUpload", bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	p.setHeaders(req, accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return retryableError(err)
	}
	defer resp.Body.Close()

	// An empty body on 200 is the success shape here.
	if resp.StatusCode != http.StatusOK {
		return p.apiError("finalize upload", resp)
	}
	io.Copy(io.Discard, resp.Body)

	return nil
}

func (p *LinkedinPublisher) createPost(ctx context.Context, accessToken, author string, content *Content, assetURN string) (string, error) {
	post := transfer.LinkedinPostRequest{
		Author:         author,
		Commentary:     content.Caption(models.PlatformLinkedin),
		Visibility:     "PUBLIC",
		Distribution:   transfer.LinkedinDistribution{FeedDistribution: "MAIN_FEED"},
		LifecycleState: "PUBLISHED",
	}
	if assetURN != "" {
		post.Content = &transfer.LinkedinContent{
			Media: &transfer.LinkedinMedia{ID: assetURN, Title: content.Title},
		}
	}

	jsonData, err := json.Marshal(post)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/rest/posts", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	p.setHeaders(req, accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", retryableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", p.apiError("create post", resp)
	}
	io.Copy(io.Discard, resp.Body)

	postURN := resp.Header.Get("x-restli-id")
	if postURN == "" {
		return "", errors.New("linkedin: no post URN in response")
	}

	return postURN, nil
}

func (p *LinkedinPublisher) setHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("LinkedIn-Version", linkedinVersion)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
}

func (p *LinkedinPublisher) apiError(operation string, resp *http.Response) error {
	var apiErr transfer.LinkedinErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)
	err := fmt.Errorf("linkedin %s: %s (status %d)", operation, apiErr.Message, resp.StatusCode)
	if retryableStatus(resp.StatusCode) {
		return retryableError(err)
	}
	return err
}

func (p *LinkedinPublisher) RefreshCredential(ctx context.Context, account *models.SocialAccount) (*tokens.Update, error) {
	conf := &oauth2.Config{
		ClientID:     p.cfg.LinkedinClientID,
		ClientSecret: p.cfg.LinkedinClientSecret,
		Endpoint:     linkedin.Endpoint,
	}

	tokenSource := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken})
	token, err := tokenSource.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			return nil, tokens.Permanent(err)
		}
		return nil, err
	}

	update := &tokens.Update{
		AccessToken: token.AccessToken,
		ExpiresAt:   token.Expiry,
	}
	if token.RefreshToken != account.RefreshToken {
		update.RefreshToken = token.RefreshToken
	}
	return update, nil
}
