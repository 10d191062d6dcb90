package models

import (
	"time"
)

type SocialAccount struct {
	ID              int64     `db:"id" json:"id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	Platform        string    `db:"platform" json:"platform"`
	AccountID       string    `db:"account_id" json:"account_id"`
	AccountName     string    `db:"account_name" json:"account_name"`
	AccountUsername string    `db:"account_username" json:"account_username"`
	ProfilePicture  string    `db:"profile_picture_url" json:"profile_picture"`
	AccessToken     string    `db:"access_token" json:"-"`
	RefreshToken    string    `db:"refresh_token" json:"-"`
	TokenExpiresAt  time.Time `db:"token_expires_at" json:"token_expires_at"`
	AccountStatus   string    `db:"account_status" json:"account_status"`
	LastError       string    `db:"last_error" json:"last_error"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether the access token is past, or within buffer of,
// its recorded expiry. A zero expiry means the platform never told us and
// the token is treated as still usable.
func (a *SocialAccount) IsExpired(buffer time.Duration) bool {
	if a.TokenExpiresAt.IsZero() {
		return false
	}
	return !time.Now().Add(buffer).Before(a.TokenExpiresAt)
}

type SelectedAccount struct {
	PostID          int64     `db:"post_id" json:"post_id"`
	AccountID       int64     `db:"account_id" json:"account_id"`
	CaptionOverride string    `db:"caption_override" json:"caption_override"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

const (
	AccountStatusActive  = "active"
	AccountStatusExpired = "expired"
	AccountStatusError   = "error"
	AccountStatusRevoked = "revoked"
)
