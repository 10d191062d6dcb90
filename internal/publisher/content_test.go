package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rkotchamp/postmore-sub002/internal/models"
)

func TestCaptionResolution(t *testing.T) {
	assert := assert.New(t)

	content := &Content{
		Text: "base text",
		Captions: map[string]string{
			models.PlatformTiktok: "tiktok caption",
		},
	}

	t.Run("platform caption wins over base text", func(t *testing.T) {
		assert.Equal("tiktok caption", content.Caption(models.PlatformTiktok))
	})

	t.Run("missing platform caption falls back to base text", func(t *testing.T) {
		assert.Equal("base text", content.Caption(models.PlatformLinkedin))
	})

	t.Run("account override wins over everything", func(t *testing.T) {
		withOverride := *content
		withOverride.CaptionOverride = "just for this account"
		assert.Equal("just for this account", withOverride.Caption(models.PlatformTiktok))
	})

	t.Run("empty platform caption falls back to base text", func(t *testing.T) {
		withEmpty := *content
		withEmpty.Captions = map[string]string{models.PlatformTiktok: ""}
		assert.Equal("base text", withEmpty.Caption(models.PlatformTiktok))
	})

	t.Run("empty caption is a valid outcome", func(t *testing.T) {
		empty := &Content{}
		assert.Equal("", empty.Caption(models.PlatformBluesky))
	})
}

func TestSplitMedia(t *testing.T) {
	assert := assert.New(t)

	t.Run("separates images from the video", func(t *testing.T) {
		content := &Content{Media: []Media{
			{AssetID: 1, Kind: MediaKindImage},
			{AssetID: 2, Kind: MediaKindVideo},
			{AssetID: 3, Kind: MediaKindImage},
		}}

		images, video := content.SplitMedia()
		assert.Len(images, 2)
		if assert.NotNil(video) {
			assert.Equal(int64(2), video.AssetID)
		}
	})

	t.Run("keeps the first video and drops extras", func(t *testing.T) {
		content := &Content{Media: []Media{
			{AssetID: 1, Kind: MediaKindVideo},
			{AssetID: 2, Kind: MediaKindVideo},
		}}

		images, video := content.SplitMedia()
		assert.Empty(images)
		if assert.NotNil(video) {
			assert.Equal(int64(1), video.AssetID)
		}
	})

	t.Run("no video yields nil", func(t *testing.T) {
		content := &Content{Media: []Media{{AssetID: 1, Kind: MediaKindImage}}}

		images, video := content.SplitMedia()
		assert.Len(images, 1)
		assert.Nil(video)
	})
}

func TestKindFromMime(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(MediaKindVideo, KindFromMime("video/mp4"))
	assert.Equal(MediaKindImage, KindFromMime("image/png"))
	assert.Equal(MediaKindImage, KindFromMime("application/octet-stream"))
}
