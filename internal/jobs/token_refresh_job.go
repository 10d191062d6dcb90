package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	config "github.com/rkotchamp/postmore-sub002/configs"
	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/repository"
)

// sweepHorizon is how far ahead the weekly sweep looks for credentials
// worth renewing.
const sweepHorizon = 7 * 24 * time.Hour

type credentialRefresher interface {
	Refresh(ctx context.Context, accountID int64) (*models.SocialAccount, error)
}

// SweepResult summarizes one refresh sweep.
type SweepResult struct {
	Total     int
	Refreshed int
	Failed    int
	Failures  map[int64]string
}

// TokenRefreshJob renews credentials that expire within the sweep horizon.
// Refreshes run concurrently but bounded, and each one goes through the
// coordinator so concurrent publish traffic shares the same refresh.
type TokenRefreshJob struct {
	cfg         *config.Config
	sr          repository.SocialAccountRepository
	coordinator credentialRefresher
}

func NewTokenRefreshJob(cfg *config.Config, sr repository.SocialAccountRepository, coordinator credentialRefresher) *TokenRefreshJob {
	return &TokenRefreshJob{
		cfg:         cfg,
		sr:          sr,
		coordinator: coordinator,
	}
}

func (j *TokenRefreshJob) Run(ctx context.Context) (*SweepResult, error) {
	horizon := time.Now().Add(sweepHorizon)

	accounts, err := j.sr.ListExpiring(ctx, horizon)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	result := &SweepResult{
		Total:    len(accounts),
		Failures: make(map[int64]string),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	semaphore := make(chan struct{}, j.cfg.Queue.RefreshConcurrency)

	for _, acc := range accounts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.SocialAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()

			_, err := j.coordinator.Refresh(ctx, acc.ID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Info(err.Error())
				result.Failed++
				result.Failures[acc.ID] = err.Error()
				return
			}
			result.Refreshed++
		}(acc)
	}

	wg.Wait()
	return result, nil
}
