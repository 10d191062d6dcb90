package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	config "github.com/rkotchamp/postmore-sub002/configs"
	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/tokens"
)

// YoutubePublisher uploads the post's video through the YouTube data API.
// The video is staged to a temp file because the upload client needs a
// seekable reader for resumable transfers.
type YoutubePublisher struct {
	cfg *config.Config
}

func NewYoutubePublisher(cfg *config.Config) *YoutubePublisher {
	return &YoutubePublisher{cfg: cfg}
}

func (p *YoutubePublisher) Platform() string { return models.PlatformYoutube }

func (p *YoutubePublisher) Publish(ctx context.Context, account *models.SocialAccount, content *Content) *Result {
	_, video := content.SplitMedia()
	if video == nil {
		return failure(errors.New("youtube needs a video"), false)
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: account.AccessToken,
	}))
	service, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return failure(err, true)
	}

	tempFile, err := stageVideo(ctx, video.URL)
	if err != nil {
		return failure(err, true)
	}
	defer os.Remove(tempFile)

	file, err := os.Open(tempFile)
	if err != nil {
		return failure(err, true)
	}
	defer file.Close()

	categoryID := content.Options.YoutubeCategoryID
	if categoryID == "" {
		categoryID = "22"
	}
	privacy := content.Options.YoutubePrivacyStatus
	if privacy == "" {
		privacy = "public"
	}

	upload := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       content.Title,
			Description: content.Caption(models.PlatformYoutube),
			CategoryId:  categoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: privacy,
		},
	}

	call := service.Videos.Insert([]string{"snippet", "status"}, upload)
	response, err := call.Media(file).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return failure(err, retryableStatus(apiErr.Code))
		}
		return failure(err, true)
	}

	return success(response.Id, "https://youtu.be/"+response.Id)
}

func stageVideo(ctx context.Context, url string) (string, error) {
	tempFile, err := os.CreateTemp("", "upload-*.mp4")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer tempFile.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	response, err := mediaClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download video: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download video: status %d", response.StatusCode)
	}

	if _, err := io.Copy(tempFile, response.Body); err != nil {
		return "", fmt.Errorf("stage video: %w", err)
	}

	return tempFile.Name(), nil
}

func (p *YoutubePublisher) RefreshCredential(ctx context.Context, account *models.SocialAccount) (*tokens.Update, error) {
	conf := &oauth2.Config{
		ClientID:     p.cfg.GoogleClientID,
		ClientSecret: p.cfg.GoogleClientSecret,
		Scopes:       []string{"https://www.googleapis.com/auth/youtube.upload"},
		Endpoint:     google.Endpoint,
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
