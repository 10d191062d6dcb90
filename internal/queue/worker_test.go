package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"

	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/publisher"
	"github.com/rkotchamp/postmore-sub002/internal/reconcile"
	"github.com/rkotchamp/postmore-sub002/internal/tokens"
)

type postRepoStub struct {
	posts map[int64]*models.Post
}

func (s *postRepoStub) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	return s.posts[id], nil
}

func (s *postRepoStub) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	return 0, nil
}

func (s *postRepoStub) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	return nil, nil
}

func (s *postRepoStub) GetLatestByUserAndStatus(ctx context.Context, userID int64, status string) (*models.Post, error) {
	return nil, nil
}

func (s *postRepoStub) GetLatestByUser(ctx context.Context, userID int64) (*models.Post, error) {
	return nil, nil
}

func (s *postRepoStub) UpdatePostStatus(ctx context.Context, status string, postID int64) error {
	if post, ok := s.posts[postID]; ok {
		post.Status = status
	}
	return nil
}

func (s *postRepoStub) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	return false, nil
}

func (s *postRepoStub) Remove(ctx context.Context, id int64) error { return nil }

type selectedAccountRepoStub struct {
	targets map[int64][]*models.SelectedAccount
}

func (s *selectedAccountRepoStub) Create(ctx context.Context, tx *sql.Tx, sa *models.SelectedAccount) error {
	return nil
}

func (s *selectedAccountRepoStub) GetByID(ctx context.Context, postID, accountID int64) (*models.SelectedAccount, error) {
	return nil, nil
}

func (s *selectedAccountRepoStub) ListByPostID(ctx context.Context, postID int64) ([]*models.SelectedAccount, error) {
	return s.targets[postID], nil
}

func (s *selectedAccountRepoStub) ListByAccountID(ctx context.Context, accountID int64) ([]*models.SelectedAccount, error) {
	return nil, nil
}

func (s *selectedAccountRepoStub) Remove(ctx context.Context, postID, accountID int64) error {
	return nil
}

type postResultRepoStub struct {
	rows []*models.PostResult
}

func (s *postResultRepoStub) Create(ctx context.Context, pr *models.PostResult) (int64, error) {
	row := *pr
	row.ID = int64(len(s.rows) + 1)
	s.rows = append(s.rows, &row)
	return row.ID, nil
}

func (s *postResultRepoStub) GetByPostAndAccount(ctx context.Context, postID, accountID int64) (*models.PostResult, error) {
	for _, row := range s.rows {
		if row.PostID == postID && row.AccountID == accountID {
			return row, nil
		}
	}
	return nil, nil
}

func (s *postResultRepoStub) ListByPostID(ctx context.Context, postID int64) ([]*models.PostResult, error) {
	var out []*models.PostResult
	for _, row := range s.rows {
		if row.PostID == postID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *postResultRepoStub) ListByUserID(ctx context.Context, userID int64) ([]*models.PostResult, error) {
	return nil, nil
}

func (s *postResultRepoStub) ListUnconfirmed(ctx context.Context, platform string) ([]*models.PostResult, error) {
	return nil, nil
}

func (s *postResultRepoStub) UpdateOutcome(ctx context.Context, id int64, success bool, platformPostID, postURL, errorMessage string) error {
	return nil
}

type coordinatorStub struct {
	account   *models.SocialAccount
	err       error
	refreshed []int64
}

func (s *coordinatorStub) EnsureValid(ctx context.Context, accountID int64) (*models.SocialAccount, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.account, nil
}

func (s *coordinatorStub) Refresh(ctx context.Context, accountID int64) (*models.SocialAccount, error) {
	s.refreshed = append(s.refreshed, accountID)
	if s.err != nil {
		return nil, s.err
	}
	return s.account, nil
}

type publisherStub struct {
	platform string
	result   *publisher.Result
	calls    int
}

func (p *publisherStub) Platform() string { return p.platform }

func (p *publisherStub) Publish(ctx context.Context, account *models.SocialAccount, content *publisher.Content) *publisher.Result {
	p.calls++
	return p.result
}

func newWorkerHarness(pub *publisherStub, coord *coordinatorStub) (*Worker, *postRepoStub, *postResultRepoStub) {
	pr := &postRepoStub{posts: map[int64]*models.Post{
		1: {ID: 1, UserID: 7, Status: models.PostStatusPending},
	}}
	sar := &selectedAccountRepoStub{targets: map[int64][]*models.SelectedAccount{
		1: {{PostID: 1, AccountID: 3}},
	}}
	rr := &postResultRepoStub{}
	reconciler := reconcile.NewReconciler(pr, sar, rr)

	worker := NewWorker(coord, publisher.NewRegistry(pub), reconciler, nil, nil)
	return worker, pr, rr
}

func workerPayload(platform string) []byte {
	data, _ := json.Marshal(&PublishPayload{
		UserID:   7,
		Platform: platform,
		AccountData: AccountData{
			ID:        3,
			AccountID: "member1",
			Name:      "Work Account",
		},
		Content:   publisher.Content{Text: "hello", PostID: 1},
		CreatedAt: 1700000000000,
	})
	return data
}

func TestHandlePublishTaskRecordsSuccess(t *testing.T) {
	assert := assert.New(t)

	pub := &publisherStub{
		platform: models.PlatformLinkedin,
		result:   &publisher.Result{Success: true, PlatformPostID: "urn:li:share:1", URL: "https://example.com/1"},
	}
	coord := &coordinatorStub{account: &models.SocialAccount{ID: 3, Platform: models.PlatformLinkedin}}
	worker, pr, rr := newWorkerHarness(pub, coord)

	task := asynq.NewTask(TaskTypePublishPost, workerPayload(models.PlatformLinkedin))
	err := worker.HandlePublishTask(context.Background(), task)

	assert.NoError(err)
	assert.Equal(1, pub.calls)
	if assert.Len(rr.rows, 1) {
		assert.True(rr.rows[0].Success)
		assert.Equal("urn:li:share:1", rr.rows[0].PlatformPostID)
		assert.True(rr.rows[0].Confirmed)
	}
	assert.Equal(models.PostStatusPublished, pr.posts[1].Status)
}

func TestHandlePublishTaskNonRetryableFailure(t *testing.T) {
	assert := assert.New(t)

	pub := &publisherStub{
		platform: models.PlatformTiktok,
		result:   &publisher.Result{Err: errors.New("tiktok privacy level is not configured"), Retryable: false},
	}
	coord := &coordinatorStub{account: &models.SocialAccount{ID: 3, Platform: models.PlatformTiktok}}
	worker, pr, rr := newWorkerHarness(pub, coord)

	task := asynq.NewTask(TaskTypePublishPost, workerPayload(models.PlatformTiktok))
	err := worker.HandlePublishTask(context.Background(), task)

	assert.ErrorIs(err, asynq.SkipRetry, "validation failures must not retry")
	if assert.Len(rr.rows, 1) {
		assert.False(rr.rows[0].Success)
		assert.Contains(rr.rows[0].ErrorMessage, "privacy level")
	}
	assert.Equal(models.PostStatusFailed, pr.posts[1].Status)
}

func TestHandlePublishTaskRetryableFinalAttempt(t *testing.T) {
	assert := assert.New(t)

	pub := &publisherStub{
		platform: models.PlatformLinkedin,
		result:   &publisher.Result{Err: errors.New("status 503"), Retryable: true},
	}
	coord := &coordinatorStub{account: &models.SocialAccount{ID: 3, Platform: models.PlatformLinkedin}}
	worker, _, rr := newWorkerHarness(pub, coord)

	// A bare context carries no retry metadata, so this counts as the last
	// attempt: the failure is recorded and the error goes back to the queue.
	task := asynq.NewTask(TaskTypePublishPost, workerPayload(models.PlatformLinkedin))
	err := worker.HandlePublishTask(context.Background(), task)

	assert.Error(err)
	assert.False(errors.Is(err, asynq.SkipRetry))
	if assert.Len(rr.rows, 1) {
		assert.False(rr.rows[0].Success)
	}
}

func TestHandlePublishTaskDeadCredential(t *testing.T) {
	assert := assert.New(t)

	pub := &publisherStub{platform: models.PlatformLinkedin, result: &publisher.Result{Success: true}}
	coord := &coordinatorStub{err: tokens.Permanent(errors.New("No refresh token available. Please reconnect your account."))}
	worker, pr, rr := newWorkerHarness(pub, coord)

	task := asynq.NewTask(TaskTypePublishPost, workerPayload(models.PlatformLinkedin))
	err := worker.HandlePublishTask(context.Background(), task)

	assert.ErrorIs(err, asynq.SkipRetry)
	assert.Equal(0, pub.calls, "no publish attempt without a valid credential")
	if assert.Len(rr.rows, 1) {
		assert.Contains(rr.rows[0].ErrorMessage, "reconnect your account")
	}
	assert.Equal(models.PostStatusFailed, pr.posts[1].Status)
}

func TestHandlePublishTaskUnknownPlatform(t *testing.T) {
	assert := assert.New(t)

	pub := &publisherStub{platform: models.PlatformLinkedin, result: &publisher.Result{Success: true}}
	coord := &coordinatorStub{account: &models.SocialAccount{ID: 3}}
	worker, _, rr := newWorkerHarness(pub, coord)

	task := asynq.NewTask(TaskTypePublishPost, workerPayload("myspace"))
	err := worker.HandlePublishTask(context.Background(), task)

	assert.ErrorIs(err, asynq.SkipRetry)
	assert.Equal(0, pub.calls)
	assert.Len(rr.rows, 1)
}

func TestHandlePublishTaskBadPayload(t *testing.T) {
	assert := assert.New(t)

	pub := &publisherStub{platform: models.PlatformLinkedin, result: &publisher.Result{Success: true}}
	coord := &coordinatorStub{account: &models.SocialAccount{ID: 3}}
	worker, _, _ := newWorkerHarness(pub, coord)

	task := asynq.NewTask(TaskTypePublishPost, []byte("{not json"))
	err := worker.HandlePublishTask(context.Background(), task)

	assert.ErrorIs(err, asynq.SkipRetry)
}

func TestHandleTokenRefreshTaskSingleAccount(t *testing.T) {
	assert := assert.New(t)

	coord := &coordinatorStub{account: &models.SocialAccount{ID: 5, Platform: models.PlatformTiktok}}
	worker := NewWorker(coord, publisher.NewRegistry(), nil, nil, nil)

	data, _ := json.Marshal(&RefreshPayload{AccountID: 5, Platform: models.PlatformTiktok})
	task := asynq.NewTask(TaskTypeTokenRefresh, data)

	assert.NoError(worker.HandleTokenRefreshTask(context.Background(), task))
	assert.Equal([]int64{5}, coord.refreshed)
}

func TestHandleTokenRefreshTaskPermanentFailureSkipsRetry(t *testing.T) {
	assert := assert.New(t)

	coord := &coordinatorStub{err: tokens.Permanent(errors.New("invalid_grant"))}
	worker := NewWorker(coord, publisher.NewRegistry(), nil, nil, nil)

	data, _ := json.Marshal(&RefreshPayload{AccountID: 5, Platform: models.PlatformTiktok})
	task := asynq.NewTask(TaskTypeTokenRefresh, data)

	err := worker.HandleTokenRefreshTask(context.Background(), task)
	assert.ErrorIs(err, asynq.SkipRetry)
}
