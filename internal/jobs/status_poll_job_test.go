package job

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/reconcile"
	"github.com/rkotchamp/postmore-sub002/internal/transfer"
)

type pollPostRepoStub struct {
	posts map[int64]*models.Post
}

func (s *pollPostRepoStub) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	return s.posts[id], nil
}

func (s *pollPostRepoStub) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	return 0, nil
}

func (s *pollPostRepoStub) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	return nil, nil
}

func (s *pollPostRepoStub) GetLatestByUserAndStatus(ctx context.Context, userID int64, status string) (*models.Post, error) {
	return nil, nil
}

func (s *pollPostRepoStub) GetLatestByUser(ctx context.Context, userID int64) (*models.Post, error) {
	return nil, nil
}

func (s *pollPostRepoStub) UpdatePostStatus(ctx context.Context, status string, postID int64) error {
	if post, ok := s.posts[postID]; ok {
		post.Status = status
	}
	return nil
}

func (s *pollPostRepoStub) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	return false, nil
}

func (s *pollPostRepoStub) Remove(ctx context.Context, id int64) error { return nil }

type pollTargetRepoStub struct {
	targets map[int64][]*models.SelectedAccount
}

func (s *pollTargetRepoStub) Create(ctx context.Context, tx *sql.Tx, sa *models.SelectedAccount) error {
	return nil
}

func (s *pollTargetRepoStub) GetByID(ctx context.Context, postID, accountID int64) (*models.SelectedAccount, error) {
	return nil, nil
}

func (s *pollTargetRepoStub) ListByPostID(ctx context.Context, postID int64) ([]*models.SelectedAccount, error) {
	return s.targets[postID], nil
}

func (s *pollTargetRepoStub) ListByAccountID(ctx context.Context, accountID int64) ([]*models.SelectedAccount, error) {
	return nil, nil
}

func (s *pollTargetRepoStub) Remove(ctx context.Context, postID, accountID int64) error {
	return nil
}

type pollResultRepoStub struct {
	rows []*models.PostResult
}

func (s *pollResultRepoStub) Create(ctx context.Context, pr *models.PostResult) (int64, error) {
	row := *pr
	row.ID = int64(len(s.rows) + 1)
	s.rows = append(s.rows, &row)
	return row.ID, nil
}

func (s *pollResultRepoStub) GetByPostAndAccount(ctx context.Context, postID, accountID int64) (*models.PostResult, error) {
	for _, row := range s.rows {
		if row.PostID == postID && row.AccountID == accountID {
			return row, nil
		}
	}
	return nil, nil
}

func (s *pollResultRepoStub) ListByPostID(ctx context.Context, postID int64) ([]*models.PostResult, error) {
	var out []*models.PostResult
	for _, row := range s.rows {
		if row.PostID == postID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *pollResultRepoStub) ListByUserID(ctx context.Context, userID int64) ([]*models.PostResult, error) {
	return nil, nil
}

func (s *pollResultRepoStub) ListUnconfirmed(ctx context.Context, platform string) ([]*models.PostResult, error) {
	var out []*models.PostResult
	for _, row := range s.rows {
		if row.Platform == platform && !row.Confirmed && row.Success {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *pollResultRepoStub) UpdateOutcome(ctx context.Context, id int64, success bool, platformPostID, postURL, errorMessage string) error {
	for _, row := range s.rows {
		if row.ID != id {
			continue
		}
		row.Success = success
		if platformPostID != "" {
			row.PlatformPostID = platformPostID
		}
		if postURL != "" {
			row.PostURL = postURL
		}
		row.ErrorMessage = errorMessage
		row.Confirmed = true
	}
	return nil
}

type pollCredentialStub struct {
	account *models.SocialAccount
	err     error
	calls   int
}

func (s *pollCredentialStub) EnsureValid(ctx context.Context, accountID int64) (*models.SocialAccount, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.account, nil
}

type statusFetcherStub struct {
	status *transfer.TiktokStatusData
	err    error
	calls  []string
}

func (s *statusFetcherStub) FetchPublishStatus(ctx context.Context, accessToken, publishID string) (*transfer.TiktokStatusData, error) {
	s.calls = append(s.calls, publishID)
	if s.err != nil {
		return nil, s.err
	}
	return s.status, nil
}

// One pending tiktok attempt for post 1, account 3, publish id v_pub_123.
func newPollHarness(fetcher *statusFetcherStub, cred *pollCredentialStub, postedAt time.Time) (*StatusPollJob, *pollPostRepoStub, *pollResultRepoStub) {
	posts := &pollPostRepoStub{posts: map[int64]*models.Post{
		1: {ID: 1, UserID: 7, Status: models.PostStatusPending},
	}}
	targets := &pollTargetRepoStub{targets: map[int64][]*models.SelectedAccount{
		1: {{PostID: 1, AccountID: 3}},
	}}
	results := &pollResultRepoStub{rows: []*models.PostResult{{
		ID:             1,
		PostID:         1,
		UserID:         7,
		Platform:       models.PlatformTiktok,
		AccountID:      3,
		Success:        true,
		PlatformPostID: "v_pub_123",
		Confirmed:      false,
		PostedAt:       postedAt,
	}}}
	reconciler := reconcile.NewReconciler(posts, targets, results)

	poll := NewStatusPollJob(results, cred, fetcher, reconciler, nil)
	return poll, posts, results
}

func activeCredential() *pollCredentialStub {
	return &pollCredentialStub{account: &models.SocialAccount{ID: 3, AccessToken: "token", Platform: models.PlatformTiktok}}
}

func TestPollConfirmsCompletedPublish(t *testing.T) {
	assert := assert.New(t)

	fetcher := &statusFetcherStub{status: &transfer.TiktokStatusData{
		Status:        "PUBLISH_COMPLETE",
		PublicPostIDs: []int64{7321000123},
	}}
	poll, posts, results := newPollHarness(fetcher, activeCredential(), time.Now().Add(-time.Hour))

	assert.NoError(poll.Run(context.Background()))

	assert.Equal([]string{"v_pub_123"}, fetcher.calls)
	row := results.rows[0]
	assert.True(row.Confirmed)
	assert.True(row.Success)
	assert.Equal("7321000123", row.PlatformPostID, "publish id gives way to the public post id")
	assert.Equal(models.PostStatusPublished, posts.posts[1].Status)
}

func TestPollFailedPublishFlipsPost(t *testing.T) {
	assert := assert.New(t)

	fetcher := &statusFetcherStub{status: &transfer.TiktokStatusData{
		Status:     "FAILED",
		FailReason: "video_too_long",
	}}
	poll, posts, results := newPollHarness(fetcher, activeCredential(), time.Now().Add(-time.Hour))

	assert.NoError(poll.Run(context.Background()))

	row := results.rows[0]
	assert.True(row.Confirmed)
	assert.False(row.Success)
	assert.Equal("tiktok publish failed: video_too_long", row.ErrorMessage)
	assert.Equal("v_pub_123", row.PlatformPostID, "publish id stays for diagnosis")
	assert.Equal(models.PostStatusFailed, posts.posts[1].Status)
}

func TestPollKeepsProcessingAttempt(t *testing.T) {
	assert := assert.New(t)

	fetcher := &statusFetcherStub{status: &transfer.TiktokStatusData{Status: "PROCESSING_DOWNLOAD"}}
	poll, posts, results := newPollHarness(fetcher, activeCredential(), time.Now().Add(-time.Hour))

	assert.NoError(poll.Run(context.Background()))

	assert.Len(fetcher.calls, 1)
	assert.False(results.rows[0].Confirmed, "unresolved attempts stay pollable")
	assert.Equal(models.PostStatusPending, posts.posts[1].Status)
}

func TestPollWritesOffStaleAttempt(t *testing.T) {
	assert := assert.New(t)

	fetcher := &statusFetcherStub{status: &transfer.TiktokStatusData{Status: "PUBLISH_COMPLETE"}}
	cred := activeCredential()
	poll, posts, results := newPollHarness(fetcher, cred, time.Now().Add(-25*time.Hour))

	assert.NoError(poll.Run(context.Background()))

	assert.Empty(fetcher.calls, "no point asking about a day-old publish")
	assert.Equal(0, cred.calls)
	row := results.rows[0]
	assert.True(row.Confirmed)
	assert.False(row.Success)
	assert.Contains(row.ErrorMessage, "within 24 hours")
	assert.Equal(models.PostStatusFailed, posts.posts[1].Status)
}

func TestPollSkipsDeadCredential(t *testing.T) {
	assert := assert.New(t)

	fetcher := &statusFetcherStub{status: &transfer.TiktokStatusData{Status: "PUBLISH_COMPLETE"}}
	cred := &pollCredentialStub{err: errors.New("decrypt access token for account 3: cipher: message authentication failed")}
	poll, posts, results := newPollHarness(fetcher, cred, time.Now().Add(-time.Hour))

	assert.NoError(poll.Run(context.Background()))

	assert.Empty(fetcher.calls)
	assert.False(results.rows[0].Confirmed)
	assert.Equal(models.PostStatusPending, posts.posts[1].Status)
}
