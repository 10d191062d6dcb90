package job

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/reconcile"
	"github.com/rkotchamp/postmore-sub002/internal/repository"
	"github.com/rkotchamp/postmore-sub002/internal/transfer"
)

const (
	// pollCutoff caps how long an unconfirmed attempt is polled before it
	// is written off as failed.
	pollCutoff        = 24 * time.Hour
	platformHealthKey = "platform:health:tiktok"
	platformHealthTTL = time.Hour
)

type credentialSource interface {
	EnsureValid(ctx context.Context, accountID int64) (*models.SocialAccount, error)
}

type publishStatusFetcher interface {
	FetchPublishStatus(ctx context.Context, accessToken, publishID string) (*transfer.TiktokStatusData, error)
}

// StatusPollJob resolves publishes that TikTok finishes asynchronously. It
// walks the unconfirmed results, asks the platform what became of each
// publish_id and hands the answer to the reconciler. A health marker goes to
// Redis so the API can surface platform trouble.
type StatusPollJob struct {
	rr          repository.PostResultRepository
	coordinator credentialSource
	fetcher     publishStatusFetcher
	reconciler  *reconcile.Reconciler
	rdb         *redis.Client
}

func NewStatusPollJob(
	rr repository.PostResultRepository,
	coordinator credentialSource,
	fetcher publishStatusFetcher,
	reconciler *reconcile.Reconciler,
	rdb *redis.Client) *StatusPollJob {
	return &StatusPollJob{
		rr:          rr,
		coordinator: coordinator,
		fetcher:     fetcher,
		reconciler:  reconciler,
		rdb:         rdb,
	}
}

func (j *StatusPollJob) Run(ctx context.Context) error {
	results, err := j.rr.ListUnconfirmed(ctx, models.PlatformTiktok)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	health := "ok"
	for _, res := range results {
		if time.Since(res.PostedAt) > pollCutoff {
			err := j.reconciler.ConfirmResult(ctx, res, false, "", "", "no publish confirmation from tiktok within 24 hours")
			if err != nil {
				slog.Info(err.Error())
			}
			continue
		}

		account, err := j.coordinator.EnsureValid(ctx, res.AccountID)
		if err != nil {
			slog.Info(err.Error())
			continue
		}

		status, err := j.fetcher.FetchPublishStatus(ctx, account.AccessToken, res.PlatformPostID)
		if err != nil {
			slog.Info(err.Error())
			health = err.Error()
			continue
		}

		switch status.Status {
		case "PUBLISH_COMPLETE":
			var platformPostID string
			if len(status.PublicPostIDs) > 0 {
				platformPostID = strconv.FormatInt(status.PublicPostIDs[0], 10)
			}
			if err := j.reconciler.ConfirmResult(ctx, res, true, platformPostID, "", ""); err != nil {
				slog.Info(err.Error())
			}
		case "FAILED":
			message := "tiktok publish failed"
			if status.FailReason != "" {
				message += ": " + status.FailReason
			}
			if err := j.reconciler.ConfirmResult(ctx, res, false, "", "", message); err != nil {
				slog.Info(err.Error())
			}
		default:
			// Still processing, keep polling.
		}
	}

	if j.rdb != nil {
		if err := j.rdb.Set(ctx, platformHealthKey, health, platformHealthTTL).Err(); err != nil {
			slog.Info(err.Error())
		}
	}

	return nil
}
