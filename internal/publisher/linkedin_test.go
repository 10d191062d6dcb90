package publisher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	config "github.com/rkotchamp/postmore-sub002/configs"
	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/transfer"
)

func TestLinkedinVideoChunkedUpload(t *testing.T) {
	assert := assert.New(t)

	// 10 bytes split into 4-byte ranges by the init response: 3 chunk PUTs.
	videoBytes := []byte("0123456789")

	var (
		putPaths  []string
		putSizes  []int
		finalized []transfer.LinkedinFinalizeUpload
	)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/media/video.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write(videoBytes)
	})
	mux.HandleFunc("/rest/videos", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "initializeUpload":
			resp := transfer.LinkedinInitUploadResponse{Value: transfer.LinkedinInitUploadValue{
				Video:       "urn:li:video:abc",
				UploadToken: "upload-token",
				UploadInstructions: []transfer.LinkedinUploadInstruction{
					{UploadURL: srv.URL + "/upload/0", FirstByte: 0, LastByte: 3},
					{UploadURL: srv.URL + "/upload/1", FirstByte: 4, LastByte: 7},
					{UploadURL: srv.URL + "/upload/2", FirstByte: 8, LastByte: 9},
				},
			}}
			json.NewEncoder(w).Encode(resp)
		case "finalizeUpload":
			var req transfer.LinkedinFinalizeUploadRequest
			json.NewDecoder(r.Body).Decode(&req)
			finalized = append(finalized, req.FinalizeUploadRequest)
			// 200 with an empty body is the success shape here
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	mux.HandleFunc("/upload/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		putPaths = append(putPaths, r.URL.Path)
		putSizes = append(putSizes, len(body))
		w.Header().Set("ETag", "etag-"+strings.TrimPrefix(r.URL.Path, "/upload/"))
	})
	mux.HandleFunc("/rest/posts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-restli-id", "urn:li:share:42")
		w.WriteHeader(http.StatusCreated)
	})

	p := NewLinkedinPublisher(&config.Config{})
	p.baseURL = srv.URL

	account := &models.SocialAccount{AccountID: "member1", AccessToken: "token"}
	content := &Content{
		PostID: 11,
		Text:   "release day",
		Media: []Media{{
			AssetID: 9,
			URL:     srv.URL + "/media/video.mp4",
			Mime:    "video/mp4",
			Kind:    MediaKindVideo,
			Size:    int64(len(videoBytes)),
		}},
	}

	result := p.Publish(context.Background(), account, content)

	if result.Err != nil {
		t.Fatalf("publish: %v", result.Err)
	}
	assert.True(result.Success)
	assert.Equal("urn:li:share:42", result.PlatformPostID)
	assert.Equal("https://www.linkedin.com/feed/update/urn:li:share:42", result.URL)

	assert.Equal([]string{"/upload/0", "/upload/1", "/upload/2"}, putPaths)
	assert.Equal([]int{4, 4, 2}, putSizes)

	if assert.Len(finalized, 1) {
		assert.Equal("urn:li:video:abc", finalized[0].Video)
		assert.Equal("upload-token", finalized[0].UploadToken)
		assert.Equal([]string{"etag-0", "etag-1", "etag-2"}, finalized[0].UploadedPartIds)
	}
}

func TestLinkedinTextOnlyPost(t *testing.T) {
	assert := assert.New(t)

	var posted []transfer.LinkedinPostRequest
	uploads := 0

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/rest/videos", func(w http.ResponseWriter, r *http.Request) { uploads++ })
	mux.HandleFunc("/rest/images", func(w http.ResponseWriter, r *http.Request) { uploads++ })
	mux.HandleFunc("/rest/posts", func(w http.ResponseWriter, r *http.Request) {
		var req transfer.LinkedinPostRequest
		json.NewDecoder(r.Body).Decode(&req)
		posted = append(posted, req)
		w.Header().Set("x-restli-id", "urn:li:share:7")
		w.WriteHeader(http.StatusCreated)
	})

	p := NewLinkedinPublisher(&config.Config{})
	p.baseURL = srv.URL

	account := &models.SocialAccount{AccountID: "member1", AccessToken: "token"}
	content := &Content{
		Text:     "base text",
		Captions: map[string]string{models.PlatformLinkedin: "linkedin flavoured"},
	}

	result := p.Publish(context.Background(), account, content)

	if result.Err != nil {
		t.Fatalf("publish: %v", result.Err)
	}
	assert.True(result.Success)
	assert.Equal(0, uploads)

	if assert.Len(posted, 1) {
		assert.Equal("linkedin flavoured", posted[0].Commentary)
		assert.Equal("urn:li:person:member1", posted[0].Author)
		assert.Nil(posted[0].Content)
	}
}

func TestLinkedinChunkUploadFailureIsRetryable(t *testing.T) {
	assert := assert.New(t)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/media/video.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123"))
	})
	mux.HandleFunc("/rest/videos", func(w http.ResponseWriter, r *http.Request) {
		resp := transfer.LinkedinInitUploadResponse{Value: transfer.LinkedinInitUploadValue{
			Video:       "urn:li:video:abc",
			UploadToken: "upload-token",
			UploadInstructions: []transfer.LinkedinUploadInstruction{
				{UploadURL: srv.URL + "/upload/0", FirstByte: 0, LastByte: 3},
			},
		}}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/upload/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	p := NewLinkedinPublisher(&config.Config{})
	p.baseURL = srv.URL

	account := &models.SocialAccount{AccountID: "member1", AccessToken: "token"}
	content := &Content{Media: []Media{{
		URL:  srv.URL + "/media/video.mp4",
		Mime: "video/mp4",
		Kind: MediaKindVideo,
	}}}

	result := p.Publish(context.Background(), account, content)

	assert.False(result.Success)
	assert.True(result.Retryable)
	assert.Error(result.Err)
}
