package transfer

import "github.com/rkotchamp/postmore-sub002/internal/models"

// PostCreation carries the multipart form fields of a create-post request.
// Captions, AccountCaptions and SelectedAccounts arrive as JSON strings and
// are parsed by the post service.
type PostCreation struct {
	Caption          string `json:"caption"`
	Title            string `json:"title"`
	Captions         string `json:"captions"`
	AccountCaptions  string `json:"account_captions"`
	ScheduleMode     string `json:"schedule_mode"`
	ScheduledTime    string `json:"scheduled_time"`
	SelectedAccounts string `json:"selected_accounts"`
}

type PostWithResults struct {
	Post    *models.Post         `json:"post"`
	Results []*models.PostResult `json:"results"`
}

// SettingsUpdate carries the posting defaults form.
type SettingsUpdate struct {
	TiktokPrivacyLevel    string `json:"tiktok_privacy_level"`
	TiktokDisableComments bool   `json:"tiktok_disable_comments"`
	TiktokDisableDuet     bool   `json:"tiktok_disable_duet"`
	TiktokDisableStitch   bool   `json:"tiktok_disable_stitch"`
	YoutubeCategoryID     string `json:"youtube_category_id"`
	YoutubePrivacyStatus  string `json:"youtube_privacy_status"`
}
