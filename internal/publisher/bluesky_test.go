package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	config "github.com/rkotchamp/postmore-sub002/configs"
	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/transfer"
)

func newBlueskyServer(created *[]transfer.BlueskyCreateRecordRequest, blobs *int) *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/media/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image-bytes"))
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.uploadBlob", func(w http.ResponseWriter, r *http.Request) {
		*blobs++
		resp := transfer.BlueskyBlobResponse{Blob: transfer.BlueskyBlob{
			Type:     "blob",
			Ref:      transfer.BlueskyBlobRef{Link: fmt.Sprintf("link-%d", *blobs)},
			MimeType: "image/png",
			Size:     11,
		}}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.createRecord", func(w http.ResponseWriter, r *http.Request) {
		var req transfer.BlueskyCreateRecordRequest
		json.NewDecoder(r.Body).Decode(&req)
		*created = append(*created, req)

		resp := transfer.BlueskyCreateRecordResponse{
			URI: "at://did:plc:abc/app.bsky.feed.post/3k44",
			Cid: "bafy123",
		}
		json.NewEncoder(w).Encode(resp)
	})

	return httptest.NewServer(mux)
}

func TestBlueskyTruncatesLongText(t *testing.T) {
	assert := assert.New(t)

	var created []transfer.BlueskyCreateRecordRequest
	blobs := 0
	srv := newBlueskyServer(&created, &blobs)
	defer srv.Close()

	p := NewBlueskyPublisher(&config.Config{BlueskyServiceURL: srv.URL})

	account := &models.SocialAccount{AccountID: "did:plc:abc", AccessToken: "jwt"}
	content := &Content{Text: strings.Repeat("x", 350)}

	result := p.Publish(context.Background(), account, content)

	if result.Err != nil {
		t.Fatalf("publish: %v", result.Err)
	}
	assert.True(result.Success)
	assert.Equal("at://did:plc:abc/app.bsky.feed.post/3k44", result.PlatformPostID)
	assert.Equal("https://bsky.app/profile/did:plc:abc/post/3k44", result.URL)

	if assert.Len(created, 1) {
		assert.Len([]rune(created[0].Record.Text), 300)
		assert.Equal("did:plc:abc", created[0].Repo)
		assert.Equal("app.bsky.feed.post", created[0].Collection)
	}
}

func TestBlueskyEmbedsAtMostFourImages(t *testing.T) {
	assert := assert.New(t)

	var created []transfer.BlueskyCreateRecordRequest
	blobs := 0
	srv := newBlueskyServer(&created, &blobs)
	defer srv.Close()

	p := NewBlueskyPublisher(&config.Config{BlueskyServiceURL: srv.URL})

	media := make([]Media, 0, 6)
	for i := 0; i < 6; i++ {
		media = append(media, Media{
			AssetID: int64(i + 1),
			URL:     fmt.Sprintf("%s/media/%d.png", srv.URL, i),
			Mime:    "image/png",
			Kind:    MediaKindImage,
		})
	}

	account := &models.SocialAccount{AccountID: "did:plc:abc", AccessToken: "jwt"}
	result := p.Publish(context.Background(), account, &Content{Text: "gallery", Media: media})

	if result.Err != nil {
		t.Fatalf("publish: %v", result.Err)
	}
	assert.Equal(4, blobs)
	if assert.Len(created, 1) && assert.NotNil(created[0].Record.Embed) {
		assert.Len(created[0].Record.Embed.Images, 4)
	}
}

func TestBlueskyNothingToPost(t *testing.T) {
	assert := assert.New(t)

	p := NewBlueskyPublisher(&config.Config{BlueskyServiceURL: "http://unused"})

	account := &models.SocialAccount{AccountID: "did:plc:abc", AccessToken: "jwt"}
	result := p.Publish(context.Background(), account, &Content{
		Media: []Media{{AssetID: 1, URL: "http://unused/v.mp4", Mime: "video/mp4", Kind: MediaKindVideo}},
	})

	assert.False(result.Success)
	assert.False(result.Retryable)
}

func TestPostURLFromATURI(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(
		"https://bsky.app/profile/did:plc:abc/post/3k44",
		postURLFromATURI("did:plc:abc", "at://did:plc:abc/app.bsky.feed.post/3k44"),
	)
}
