package queue

import (
	"context"

	job "github.com/rkotchamp/postmore-sub002/internal/jobs"
	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/publisher"
	"github.com/rkotchamp/postmore-sub002/internal/reconcile"
)

const (
	TaskTypePublishPost  = "post:publish"
	TaskTypeTokenRefresh = "token:refresh"
	TaskTypePlatformPoll = "platform:poll"
)

const (
	QueuePublish = "publish"
	QueueRefresh = "refresh"
	QueuePoll    = "poll"
)

// PublishPayload is one delivery job: one post to one account. The content
// snapshot travels inside so the worker does not depend on the post row
// still looking the way it did at schedule time.
type PublishPayload struct {
	UserID      int64             `json:"userId"`
	Platform    string            `json:"platform"`
	AccountData AccountData       `json:"accountData"`
	Content     publisher.Content `json:"content"`
	CreatedAt   int64             `json:"createdAt"`
}

// AccountData identifies the target account. ID is our row, AccountID the
// platform-native identifier.
type AccountData struct {
	ID        int64  `json:"id"`
	AccountID string `json:"accountId"`
	Name      string `json:"name"`
}

// RefreshPayload targets one credential, or the whole expiring set when no
// account is named. Scheduled marks cron-fired sweeps, Triggered manual ones.
type RefreshPayload struct {
	AccountID int64  `json:"accountId,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Scheduled bool   `json:"scheduled,omitempty"`
	Triggered bool   `json:"triggered,omitempty"`
}

type PollPayload struct {
	Scheduled bool `json:"scheduled,omitempty"`
}

type credentialCoordinator interface {
	EnsureValid(ctx context.Context, accountID int64) (*models.SocialAccount, error)
	Refresh(ctx context.Context, accountID int64) (*models.SocialAccount, error)
}

// Worker holds everything the task handlers need.
type Worker struct {
	coordinator credentialCoordinator
	registry    *publisher.Registry
	reconciler  *reconcile.Reconciler
	refreshJob  *job.TokenRefreshJob
	pollJob     *job.StatusPollJob
}

func NewWorker(
	coordinator credentialCoordinator,
	registry *publisher.Registry,
	reconciler *reconcile.Reconciler,
	refreshJob *job.TokenRefreshJob,
	pollJob *job.StatusPollJob) *Worker {
	return &Worker{
		coordinator: coordinator,
		registry:    registry,
		reconciler:  reconciler,
		refreshJob:  refreshJob,
		pollJob:     pollJob,
	}
}
