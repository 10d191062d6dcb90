package models

import "time"

// Settings holds a user's posting defaults. The platform fields feed the
// adapters' disclosure and visibility options at publish time.
type Settings struct {
	ID                    int64     `db:"id" json:"id"`
	UserID                int64     `db:"user_id" json:"user_id"`
	TiktokPrivacyLevel    string    `db:"tiktok_privacy_level" json:"tiktok_privacy_level"`
	TiktokDisableComments bool      `db:"tiktok_disable_comments" json:"tiktok_disable_comments"`
	TiktokDisableDuet     bool      `db:"tiktok_disable_duet" json:"tiktok_disable_duet"`
	TiktokDisableStitch   bool      `db:"tiktok_disable_stitch" json:"tiktok_disable_stitch"`
	YoutubeCategoryID     string    `db:"youtube_category_id" json:"youtube_category_id"`
	YoutubePrivacyStatus  string    `db:"youtube_privacy_status" json:"youtube_privacy_status"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}
