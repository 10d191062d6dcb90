package tokens

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	config "github.com/rkotchamp/postmore-sub002/configs"
	"github.com/rkotchamp/postmore-sub002/internal/metrics"
	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/repository"
	"github.com/rkotchamp/postmore-sub002/pkg/utils"
)

// ErrNoRefreshToken is returned when a credential must be refreshed but no
// refresh token is stored. The message is surfaced to users as-is.
var ErrNoRefreshToken = errors.New("No refresh token available. Please reconnect your account.")

// Update carries plaintext tokens returned by a platform refresh. Empty
// RefreshToken keeps the stored one; zero ExpiresAt keeps the stored expiry.
type Update struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Refresher exchanges a credential's refresh token for fresh tokens against
// one platform. The account passed in carries plaintext tokens; the returned
// update is plaintext too, encryption happens in the coordinator.
type Refresher interface {
	RefreshCredential(ctx context.Context, account *models.SocialAccount) (*Update, error)
}

// PermanentError marks a refresh failure that retrying cannot fix, such as a
// revoked grant. The coordinator clears the stored refresh token for these.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

type refreshOp struct {
	done    chan struct{}
	account *models.SocialAccount
	err     error
}

// Coordinator hands out valid credentials and serializes refreshes so that
// one stale token triggers one platform call no matter how many jobs hit it
// at once. Keys are platform plus platform-native account ID; a finished
// operation lingers for a cool-down so bursts share its outcome.
type Coordinator struct {
	cfg        *config.Config
	sr         repository.SocialAccountRepository
	refreshers map[string]Refresher
	locker     *RedisLocker

	mu       sync.Mutex
	inflight map[string]*refreshOp
}

func NewCoordinator(cfg *config.Config, sr repository.SocialAccountRepository, refreshers map[string]Refresher, locker *RedisLocker) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		sr:         sr,
		refreshers: refreshers,
		locker:     locker,
		inflight:   make(map[string]*refreshOp),
	}
}

func refreshKey(platform, accountID string) string {
	return platform + ":" + accountID
}

// EnsureValid returns the credential row with plaintext tokens, refreshing
// first when the access token is inside the expiry buffer.
func (c *Coordinator) EnsureValid(ctx context.Context, accountID int64) (*models.SocialAccount, error) {
	account, err := c.load(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if !account.IsExpired(c.cfg.TokenExpiryBuffer) {
		return account, nil
	}

	return c.refresh(ctx, account)
}

// Refresh forces a refresh regardless of expiry. The sweep uses it so that
// credentials predicted to expire are renewed ahead of time.
func (c *Coordinator) Refresh(ctx context.Context, accountID int64) (*models.SocialAccount, error) {
	account, err := c.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return c.refresh(ctx, account)
}

func (c *Coordinator) load(ctx context.Context, accountID int64) (*models.SocialAccount, error) {
	stored, err := c.sr.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("social account %d not found", accountID)
	}
	return c.decrypt(stored)
}

// decrypt returns a copy of the row with plaintext tokens. Stored values
// stay encrypted; only the in-memory copy is usable.
func (c *Coordinator) decrypt(stored *models.SocialAccount) (*models.SocialAccount, error) {
	account := *stored
	key := []byte(c.cfg.SecretKey)

	if stored.AccessToken != "" {
		plain, err := utils.Decrypt(stored.AccessToken, key)
		if err != nil {
			return nil, fmt.Errorf("decrypt access token for account %d: %w", stored.ID, err)
		}
		account.AccessToken = plain
	}
	if stored.RefreshToken != "" {
		plain, err := utils.Decrypt(stored.RefreshToken, key)
		if err != nil {
			return nil, fmt.Errorf("decrypt refresh token for account %d: %w", stored.ID, err)
		}
		account.RefreshToken = plain
	}

	return &account, nil
}

func (c *Coordinator) refresh(ctx context.Context, account *models.SocialAccount) (*models.SocialAccount, error) {
	key := refreshKey(account.Platform, account.AccountID)

	c.mu.Lock()
	if op, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-op.done:
			return op.account, op.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	op := &refreshOp{done: make(chan struct{})}
	c.inflight[key] = op
	c.mu.Unlock()

	op.account, op.err = c.doRefresh(ctx, account)
	close(op.done)

	// Keep the finished op around briefly so stragglers share its outcome
	// instead of firing another refresh.
	time.AfterFunc(c.cfg.RefreshCooldown, func() {
		c.mu.Lock()
		if c.inflight[key] == op {
			delete(c.inflight, key)
		}
		c.mu.Unlock()
	})

	return op.account, op.err
}

func (c *Coordinator) doRefresh(ctx context.Context, account *models.SocialAccount) (*models.SocialAccount, error) {
	if c.locker != nil {
		acquired, err := c.locker.Acquire(ctx, leaseKey(account), leaseTTL)
		if err != nil {
			log.Printf("refresh lease for account %d: %v", account.ID, err)
		} else if !acquired {
			return c.awaitLease(ctx, account)
		} else {
			defer c.locker.Release(context.Background(), leaseKey(account))
		}
	}

	if account.RefreshToken == "" {
		c.markError(ctx, account.ID, ErrNoRefreshToken.Error())
		metrics.TokenRefreshes.WithLabelValues(account.Platform, "no_token").Inc()
		return nil, Permanent(ErrNoRefreshToken)
	}

	refresher, ok := c.refreshers[account.Platform]
	if !ok {
		err := fmt.Errorf("no refresher registered for platform %s", account.Platform)
		c.markError(ctx, account.ID, err.Error())
		return nil, Permanent(err)
	}

	update, err := refresher.RefreshCredential(ctx, account)
	if err != nil {
		if IsPermanent(err) {
			if clearErr := c.sr.ClearRefreshToken(ctx, account.ID); clearErr != nil {
				log.Printf("clear refresh token for account %d: %v", account.ID, clearErr)
			}
			c.markError(ctx, account.ID, err.Error())
			metrics.TokenRefreshes.WithLabelValues(account.Platform, "permanent").Inc()
			return nil, err
		}
		metrics.TokenRefreshes.WithLabelValues(account.Platform, "failure").Inc()
		return nil, fmt.Errorf("refresh %s account %d: %w", account.Platform, account.ID, err)
	}

	if err := c.persist(ctx, account.ID, update); err != nil {
		return nil, err
	}
	metrics.TokenRefreshes.WithLabelValues(account.Platform, "success").Inc()

	refreshed := *account
	refreshed.AccessToken = update.AccessToken
	if update.RefreshToken != "" {
		refreshed.RefreshToken = update.RefreshToken
	}
	if !update.ExpiresAt.IsZero() {
		refreshed.TokenExpiresAt = update.ExpiresAt
	}
	refreshed.AccountStatus = models.AccountStatusActive
	refreshed.LastError = ""

	return &refreshed, nil
}

// awaitLease waits for another process to finish refreshing, then rereads
// the row it persisted.
func (c *Coordinator) awaitLease(ctx context.Context, account *models.SocialAccount) (*models.SocialAccount, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	deadline := time.NewTimer(leaseTTL)
	defer deadline.Stop()

	key := leaseKey(account)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("refresh of account %d still held elsewhere", account.ID)
		case <-ticker.C:
			held, err := c.locker.IsHeld(ctx, key)
			if err != nil {
				return nil, err
			}
			if held {
				continue
			}
			reloaded, err := c.load(ctx, account.ID)
			if err != nil {
				return nil, err
			}
			if reloaded.IsExpired(c.cfg.TokenExpiryBuffer) {
				return nil, fmt.Errorf("account %d still expired after remote refresh", account.ID)
			}
			return reloaded, nil
		}
	}
}

func (c *Coordinator) persist(ctx context.Context, accountID int64, update *Update) error {
	key := []byte(c.cfg.SecretKey)

	encAccess, err := utils.Encrypt([]byte(update.AccessToken), key)
	if err != nil {
		return err
	}

	var encRefresh string
	if update.RefreshToken != "" {
		encRefresh, err = utils.Encrypt([]byte(update.RefreshToken), key)
		if err != nil {
			return err
		}
	}

	return c.sr.SetToken(ctx, accountID, &models.SocialAccount{
		AccessToken:    encAccess,
		RefreshToken:   encRefresh,
		TokenExpiresAt: update.ExpiresAt,
	})
}

func (c *Coordinator) markError(ctx context.Context, accountID int64, message string) {
	if err := c.sr.SetStatus(ctx, accountID, models.AccountStatusError, message); err != nil {
		log.Printf("mark account %d errored: %v", accountID, err)
	}
}
