package models

import "time"

// PostResult is one terminal delivery attempt of a post against a single
// target account. The reconciler keeps at most one row per (post, account).
type PostResult struct {
	ID             int64     `db:"id" json:"id"`
	PostID         int64     `db:"post_id" json:"post_id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	Platform       string    `db:"platform" json:"platform"`
	AccountID      int64     `db:"account_id" json:"account_id"`
	Success        bool      `db:"success" json:"success"`
	PlatformPostID string    `db:"platform_post_id" json:"platform_post_id"`
	PostURL        string    `db:"post_url" json:"post_url"`
	ErrorMessage   string    `db:"error_message" json:"error_message"`
	Confirmed      bool      `db:"confirmed" json:"confirmed"`
	PostedAt       time.Time `db:"posted_at" json:"posted_at"`
}
