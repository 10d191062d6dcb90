package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/publisher"
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
	var latest *models.Post
	for _, post := range s.posts {
		if post.UserID != userID || post.Status != status {
			continue
		}
		if latest == nil || post.ID > latest.ID {
			latest = post
		}
	}
	return latest, nil
}

func (s *postRepoStub) GetLatestByUser(ctx context.Context, userID int64) (*models.Post, error) {
	var latest *models.Post
	for _, post := range s.posts {
		if post.UserID != userID {
			continue
		}
		if latest == nil || post.ID > latest.ID {
			latest = post
		}
	}
	return latest, nil
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
	var out []*models.PostResult
	for _, row := range s.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *postResultRepoStub) ListUnconfirmed(ctx context.Context, platform string) ([]*models.PostResult, error) {
	var out []*models.PostResult
	for _, row := range s.rows {
		if row.Platform == platform && row.Success && !row.Confirmed {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *postResultRepoStub) UpdateOutcome(ctx context.Context, id int64, success bool, platformPostID, postURL, errorMessage string) error {
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
		return nil
	}
	return errors.New("no such row")
}

func newTestReconciler(posts map[int64]*models.Post, targets map[int64][]*models.SelectedAccount) (*Reconciler, *postRepoStub, *postResultRepoStub) {
	pr := &postRepoStub{posts: posts}
	sar := &selectedAccountRepoStub{targets: targets}
	rr := &postResultRepoStub{}
	return NewReconciler(pr, sar, rr), pr, rr
}

func twoTargetPost() (map[int64]*models.Post, map[int64][]*models.SelectedAccount) {
	posts := map[int64]*models.Post{
		1: {ID: 1, UserID: 7, Status: models.PostStatusPending},
	}
	targets := map[int64][]*models.SelectedAccount{
		1: {
			{PostID: 1, AccountID: 3},
			{PostID: 1, AccountID: 4},
		},
	}
	return posts, targets
}

func successOutcome(postID, accountID int64) *Outcome {
	return &Outcome{
		PostID:    postID,
		UserID:    7,
		Platform:  models.PlatformLinkedin,
		AccountID: accountID,
		Result:    &publisher.Result{Success: true, PlatformPostID: "remote-1", URL: "https://example.com/p/1"},
	}
}

func failureOutcome(postID, accountID int64) *Outcome {
	return &Outcome{
		PostID:    postID,
		UserID:    7,
		Platform:  models.PlatformLinkedin,
		AccountID: accountID,
		Result:    &publisher.Result{Err: errors.New("rejected by platform")},
	}
}

func TestApplyPublishesWhenAllTargetsSucceed(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	posts, targets := twoTargetPost()
	r, pr, rr := newTestReconciler(posts, targets)

	assert.NoError(r.Apply(ctx, successOutcome(1, 3)))
	assert.Len(rr.rows, 1)
	assert.Equal(models.PostStatusPending, pr.posts[1].Status, "one of two targets resolved, status must not move")

	assert.NoError(r.Apply(ctx, successOutcome(1, 4)))
	assert.Len(rr.rows, 2)
	assert.Equal(models.PostStatusPublished, pr.posts[1].Status)
}

func TestApplyPartialFailureMarksFailed(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	posts, targets := twoTargetPost()
	r, pr, rr := newTestReconciler(posts, targets)

	assert.NoError(r.Apply(ctx, successOutcome(1, 3)))
	assert.NoError(r.Apply(ctx, failureOutcome(1, 4)))

	assert.Len(rr.rows, 2, "exactly one row per target")
	assert.Equal(models.PostStatusFailed, pr.posts[1].Status)

	failed, err := rr.GetByPostAndAccount(ctx, 1, 4)
	assert.NoError(err)
	if assert.NotNil(failed) {
		assert.False(failed.Success)
		assert.Equal("rejected by platform", failed.ErrorMessage)
	}
}

func TestApplyDuplicateOutcomeKeepsOneRow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	posts := map[int64]*models.Post{1: {ID: 1, UserID: 7, Status: models.PostStatusPending}}
	targets := map[int64][]*models.SelectedAccount{1: {{PostID: 1, AccountID: 3}}}
	r, pr, rr := newTestReconciler(posts, targets)

	assert.NoError(r.Apply(ctx, successOutcome(1, 3)))
	assert.NoError(r.Apply(ctx, successOutcome(1, 3)))

	assert.Len(rr.rows, 1, "a redelivered task must not add a second row")
	assert.Equal(models.PostStatusPublished, pr.posts[1].Status)
}

func TestApplyFallsBackToNewestScheduledPost(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	posts := map[int64]*models.Post{
		1: {ID: 1, UserID: 7, Status: models.PostStatusPublished},
		2: {ID: 2, UserID: 7, Status: models.PostStatusScheduled},
	}
	targets := map[int64][]*models.SelectedAccount{
		2: {{PostID: 2, AccountID: 3}},
	}
	r, pr, rr := newTestReconciler(posts, targets)

	// Legacy payload without a post id.
	outcome := successOutcome(0, 3)
	assert.NoError(r.Apply(ctx, outcome))

	if assert.Len(rr.rows, 1) {
		assert.Equal(int64(2), rr.rows[0].PostID)
	}
	assert.Equal(models.PostStatusPublished, pr.posts[2].Status)
}

func TestApplyFallsBackWhenPostRowIsGone(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	posts := map[int64]*models.Post{
		2: {ID: 2, UserID: 7, Status: models.PostStatusPending},
	}
	targets := map[int64][]*models.SelectedAccount{
		2: {{PostID: 2, AccountID: 3}},
	}
	r, _, rr := newTestReconciler(posts, targets)

	// Post 99 was deleted after the task went out; the chain lands on the
	// newest pending post.
	assert.NoError(r.Apply(ctx, successOutcome(99, 3)))

	if assert.Len(rr.rows, 1) {
		assert.Equal(int64(2), rr.rows[0].PostID)
	}
}

func TestConfirmResultResolvesPendingInPlace(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	posts := map[int64]*models.Post{1: {ID: 1, UserID: 7, Status: models.PostStatusPending}}
	targets := map[int64][]*models.SelectedAccount{1: {{PostID: 1, AccountID: 3}}}
	r, pr, rr := newTestReconciler(posts, targets)

	outcome := &Outcome{
		PostID:    1,
		UserID:    7,
		Platform:  models.PlatformTiktok,
		AccountID: 3,
		Result:    &publisher.Result{Success: true, PlatformPostID: "pub-9", Pending: true},
	}
	assert.NoError(r.Apply(ctx, outcome))

	if assert.Len(rr.rows, 1) {
		assert.False(rr.rows[0].Confirmed, "async publish starts unconfirmed")
	}

	assert.NoError(r.ConfirmResult(ctx, rr.rows[0], true, "123456", "", ""))

	assert.Len(rr.rows, 1, "confirmation updates the row, never adds one")
	assert.True(rr.rows[0].Confirmed)
	assert.True(rr.rows[0].Success)
	assert.Equal("123456", rr.rows[0].PlatformPostID)
	assert.Equal(models.PostStatusPublished, pr.posts[1].Status)
}

func TestConfirmResultFailureFlipsPostToFailed(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	posts := map[int64]*models.Post{1: {ID: 1, UserID: 7, Status: models.PostStatusPending}}
	targets := map[int64][]*models.SelectedAccount{1: {{PostID: 1, AccountID: 3}}}
	r, pr, rr := newTestReconciler(posts, targets)

	outcome := &Outcome{
		PostID:    1,
		UserID:    7,
		Platform:  models.PlatformTiktok,
		AccountID: 3,
		Result:    &publisher.Result{Success: true, PlatformPostID: "pub-9", Pending: true},
	}
	assert.NoError(r.Apply(ctx, outcome))
	assert.Equal(models.PostStatusPublished, pr.posts[1].Status, "optimistic until the platform says otherwise")

	assert.NoError(r.ConfirmResult(ctx, rr.rows[0], false, "", "", "tiktok publish failed: file_format_check_failed"))

	assert.Len(rr.rows, 1)
	assert.False(rr.rows[0].Success)
	assert.Equal("pub-9", rr.rows[0].PlatformPostID, "the publish id stays for diagnosis")
	assert.Equal(models.PostStatusFailed, pr.posts[1].Status)
}
