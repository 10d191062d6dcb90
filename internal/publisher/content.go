package publisher

import (
	"log"
	"strings"
)

const (
	MediaKindImage = "image"
	MediaKindVideo = "video"
)

// Media is one asset reference inside a job payload. The URL points at
// public object storage; platforms that pull media fetch it from there.
type Media struct {
	AssetID int64  `json:"assetId"`
	URL     string `json:"url"`
	Mime    string `json:"mime"`
	Kind    string `json:"kind"`
	Size    int64  `json:"size"`
}

// Options are the per-user posting defaults snapshotted into the payload at
// schedule time.
type Options struct {
	TiktokPrivacyLevel    string `json:"tiktokPrivacyLevel,omitempty"`
	TiktokDisableComments bool   `json:"tiktokDisableComments,omitempty"`
	TiktokDisableDuet     bool   `json:"tiktokDisableDuet,omitempty"`
	TiktokDisableStitch   bool   `json:"tiktokDisableStitch,omitempty"`
	YoutubeCategoryID     string `json:"youtubeCategoryId,omitempty"`
	YoutubePrivacyStatus  string `json:"youtubePrivacyStatus,omitempty"`
}

// Content is the full snapshot of what gets published, baked into the job
// payload when the post is scheduled. Later edits to the post do not reach
// jobs already enqueued.
type Content struct {
	ContentType     string            `json:"contentType"`
	Text            string            `json:"text"`
	Captions        map[string]string `json:"captions,omitempty"`
	CaptionOverride string            `json:"captionOverride,omitempty"`
	Title           string            `json:"title,omitempty"`
	Media           []Media           `json:"media,omitempty"`
	Options         Options           `json:"options,omitempty"`
	PostID          int64             `json:"postId"`
}

// Caption resolves the text for one platform: the target account's override
// wins, then the per-platform caption, then the base text. Empty is a valid
// outcome; media-only posts go out with an empty caption.
func (c *Content) Caption(platform string) string {
	if c.CaptionOverride != "" {
		return c.CaptionOverride
	}
	if caption, ok := c.Captions[platform]; ok && caption != "" {
		return caption
	}
	return c.Text
}

// SplitMedia separates images from the post's video. At most one video is
// published per post; extras are dropped here, logged, and never treated as
// an error.
func (c *Content) SplitMedia() (images []Media, video *Media) {
	for i := range c.Media {
		m := c.Media[i]
		switch m.Kind {
		case MediaKindVideo:
			if video == nil {
				video = &c.Media[i]
			} else {
				log.Printf("post %d: dropping extra video asset %d, one video per post", c.PostID, m.AssetID)
			}
		default:
			images = append(images, m)
		}
	}
	return images, video
}

func KindFromMime(mime string) string {
	if strings.HasPrefix(mime, "video/") {
		return MediaKindVideo
	}
	return MediaKindImage
}
