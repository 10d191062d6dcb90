package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/publisher"
	"github.com/rkotchamp/postmore-sub002/internal/repository"
)

// Outcome is one finished delivery attempt, ready to be recorded against
// its post.
type Outcome struct {
	PostID    int64
	UserID    int64
	Platform  string
	AccountID int64
	Result    *publisher.Result
}

// Reconciler records delivery results and keeps each post's status
// consistent with them. It writes at most one result row per
// (post, account) pair; late confirmations update that row in place.
type Reconciler struct {
	pr  repository.PostRepository
	sar repository.SelectedAccountRepository
	rr  repository.PostResultRepository
}

func NewReconciler(pr repository.PostRepository, sar repository.SelectedAccountRepository, rr repository.PostResultRepository) *Reconciler {
	return &Reconciler{pr: pr, sar: sar, rr: rr}
}

// Apply records an outcome and rolls the parent post's status forward.
func (r *Reconciler) Apply(ctx context.Context, outcome *Outcome) error {
	post, err := r.matchPost(ctx, outcome)
	if err != nil {
		return err
	}

	existing, err := r.rr.GetByPostAndAccount(ctx, post.ID, outcome.AccountID)
	if err != nil {
		return err
	}
	if existing != nil {
		log.Printf("post %d account %d: result already recorded, skipping insert", post.ID, outcome.AccountID)
		return r.recompute(ctx, post.ID)
	}

	res := outcome.Result
	row := &models.PostResult{
		PostID:         post.ID,
		UserID:         outcome.UserID,
		Platform:       outcome.Platform,
		AccountID:      outcome.AccountID,
		Success:        res.Success,
		PlatformPostID: res.PlatformPostID,
		PostURL:        res.URL,
		Confirmed:      !res.Pending,
		PostedAt:       time.Now(),
	}
	if res.Err != nil {
		row.ErrorMessage = res.Err.Error()
	}

	if _, err := r.rr.Create(ctx, row); err != nil {
		return err
	}

	return r.recompute(ctx, post.ID)
}

// ConfirmResult resolves a previously pending attempt once the platform
// reports its final state, then recomputes the post status.
func (r *Reconciler) ConfirmResult(ctx context.Context, result *models.PostResult, success bool, platformPostID, postURL, errorMessage string) error {
	if err := r.rr.UpdateOutcome(ctx, result.ID, success, platformPostID, postURL, errorMessage); err != nil {
		return err
	}
	return r.recompute(ctx, result.PostID)
}

// matchPost resolves the post an outcome belongs to. Payloads carry the post
// ID, so the first lookup is exact; the fallbacks cover payloads produced
// before the ID was added and each step is logged when taken.
func (r *Reconciler) matchPost(ctx context.Context, outcome *Outcome) (*models.Post, error) {
	if outcome.PostID != 0 {
		post, err := r.pr.GetByID(ctx, outcome.PostID)
		if err != nil {
			return nil, err
		}
		if post != nil {
			return post, nil
		}
		log.Printf("user %d: post %d not found, trying newest scheduled post", outcome.UserID, outcome.PostID)
	}

	post, err := r.pr.GetLatestByUserAndStatus(ctx, outcome.UserID, models.PostStatusScheduled)
	if err != nil {
		return nil, err
	}
	if post != nil {
		log.Printf("user %d: matched outcome to newest scheduled post %d", outcome.UserID, post.ID)
		return post, nil
	}

	post, err = r.pr.GetLatestByUserAndStatus(ctx, outcome.UserID, models.PostStatusPending)
	if err != nil {
		return nil, err
	}
	if post != nil {
		log.Printf("user %d: matched outcome to newest pending post %d", outcome.UserID, post.ID)
		return post, nil
	}

	post, err = r.pr.GetLatestByUser(ctx, outcome.UserID)
	if err != nil {
		return nil, err
	}
	if post != nil {
		log.Printf("user %d: matched outcome to newest post %d", outcome.UserID, post.ID)
		return post, nil
	}

	return nil, fmt.Errorf("no post found for user %d", outcome.UserID)
}

func (r *Reconciler) recompute(ctx context.Context, postID int64) error {
	post, err := r.pr.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		return fmt.Errorf("post %d disappeared during reconciliation", postID)
	}

	targets, err := r.sar.ListByPostID(ctx, postID)
	if err != nil {
		return err
	}
	results, err := r.rr.ListByPostID(ctx, postID)
	if err != nil {
		return err
	}

	status, terminal := computeStatus(targets, results)
	if !terminal || status == post.Status {
		return nil
	}

	log.Printf("post %d: status %s -> %s", postID, post.Status, status)
	return r.pr.UpdatePostStatus(ctx, status, postID)
}

// computeStatus folds per-target results into a post status. Published
// requires a successful result for every target; failed requires every
// target resolved with at least one failure. Anything in between keeps the
// current status.
func computeStatus(targets []*models.SelectedAccount, results []*models.PostResult) (string, bool) {
	if len(targets) == 0 {
		return "", false
	}

	byAccount := make(map[int64]*models.PostResult, len(results))
	for _, res := range results {
		byAccount[res.AccountID] = res
	}

	resolved := 0
	succeeded := 0
	for _, target := range targets {
		res, ok := byAccount[target.AccountID]
		if !ok {
			continue
		}
		resolved++
		if res.Success {
			succeeded++
		}
	}

	switch {
	case succeeded == len(targets):
		return models.PostStatusPublished, true
	case resolved == len(targets):
		return models.PostStatusFailed, true
	}
	return "", false
}
