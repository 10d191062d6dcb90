package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	config "github.com/rkotchamp/postmore-sub002/configs"
	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/transfer"
)

func newTiktokServer(t *testing.T, privacyOptions []string, inits *[]transfer.VideoUploadRequest) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/post/publish/creator_info/query/", func(w http.ResponseWriter, r *http.Request) {
		resp := transfer.TiktokCreatorInfoResponse{
			Data:  transfer.TiktokCreatorInfo{PrivacyLevelOptions: privacyOptions},
			Error: transfer.TiktokError{Code: "ok"},
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/v2/post/publish/video/init/", func(w http.ResponseWriter, r *http.Request) {
		var req transfer.VideoUploadRequest
		json.NewDecoder(r.Body).Decode(&req)
		*inits = append(*inits, req)

		resp := transfer.TikTokUploadResponse{
			Data:  transfer.TiktokPublishData{PublishID: "v_pub_123"},
			Error: transfer.TiktokError{Code: "ok"},
		}
		json.NewEncoder(w).Encode(resp)
	})

	return httptest.NewServer(mux)
}

func TestTiktokVideoPublishIsPending(t *testing.T) {
	assert := assert.New(t)

	var inits []transfer.VideoUploadRequest
	srv := newTiktokServer(t, []string{"SELF_ONLY", "PUBLIC_TO_EVERYONE"}, &inits)
	defer srv.Close()

	p := NewTiktokPublisher(&config.Config{})
	p.baseURL = srv.URL

	account := &models.SocialAccount{AccountID: "open-id-1", AccessToken: "token"}
	content := &Content{
		Text:    "new clip",
		Media:   []Media{{URL: "https://cdn.example.com/clip.mp4", Mime: "video/mp4", Kind: MediaKindVideo}},
		Options: Options{TiktokPrivacyLevel: "SELF_ONLY"},
	}

	result := p.Publish(context.Background(), account, content)

	if result.Err != nil {
		t.Fatalf("publish: %v", result.Err)
	}
	assert.True(result.Success)
	assert.True(result.Pending)
	assert.Equal("v_pub_123", result.PlatformPostID)

	if assert.Len(inits, 1) {
		assert.Equal("PULL_FROM_URL", inits[0].SourceInfo.Source)
		assert.Equal("https://cdn.example.com/clip.mp4", inits[0].SourceInfo.VideoURL)
		assert.Equal("SELF_ONLY", inits[0].PostInfo.PrivacyLevel)
		assert.Equal("new clip", inits[0].PostInfo.Title)
	}
}

func TestTiktokMissingPrivacyLevelFailsFast(t *testing.T) {
	assert := assert.New(t)

	var inits []transfer.VideoUploadRequest
	srv := newTiktokServer(t, []string{"SELF_ONLY"}, &inits)
	defer srv.Close()

	p := NewTiktokPublisher(&config.Config{})
	p.baseURL = srv.URL

	account := &models.SocialAccount{AccountID: "open-id-1", AccessToken: "token"}
	content := &Content{
		Media: []Media{{URL: "https://cdn.example.com/clip.mp4", Mime: "video/mp4", Kind: MediaKindVideo}},
	}

	result := p.Publish(context.Background(), account, content)

	assert.False(result.Success)
	assert.False(result.Retryable)
	assert.ErrorContains(result.Err, "privacy level")
	assert.Empty(inits, "must not start a publish without a privacy level")
}

func TestTiktokUnavailablePrivacyLevelFailsFast(t *testing.T) {
	assert := assert.New(t)

	var inits []transfer.VideoUploadRequest
	srv := newTiktokServer(t, []string{"SELF_ONLY"}, &inits)
	defer srv.Close()

	p := NewTiktokPublisher(&config.Config{})
	p.baseURL = srv.URL

	account := &models.SocialAccount{AccountID: "open-id-1", AccessToken: "token"}
	content := &Content{
		Media:   []Media{{URL: "https://cdn.example.com/clip.mp4", Mime: "video/mp4", Kind: MediaKindVideo}},
		Options: Options{TiktokPrivacyLevel: "PUBLIC_TO_EVERYONE"},
	}

	result := p.Publish(context.Background(), account, content)

	assert.False(result.Success)
	assert.False(result.Retryable)
	assert.ErrorContains(result.Err, "not available")
	assert.Empty(inits)
}

func TestTiktokNoMediaFails(t *testing.T) {
	assert := assert.New(t)

	p := NewTiktokPublisher(&config.Config{})

	account := &models.SocialAccount{AccountID: "open-id-1", AccessToken: "token"}
	result := p.Publish(context.Background(), account, &Content{Text: "words only"})

	assert.False(result.Success)
	assert.False(result.Retryable)
}
