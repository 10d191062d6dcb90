package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/rkotchamp/postmore-sub002/internal/models"
)

type PostResultRepository interface {
	Create(ctx context.Context, pr *models.PostResult) (int64, error)
	GetByPostAndAccount(ctx context.Context, postID, accountID int64) (*models.PostResult, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.PostResult, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.PostResult, error)
	ListUnconfirmed(ctx context.Context, platform string) ([]*models.PostResult, error)
	UpdateOutcome(ctx context.Context, id int64, success bool, platformPostID, postURL, errorMessage string) error
}

type postResultRepository struct {
	db *sql.DB
}

func NewPostResultRepository(db *sql.DB) PostResultRepository {
	return &postResultRepository{db: db}
}

const postResultColumns = `id, post_id, user_id, platform, account_id, success, platform_post_id, post_url, error_message, confirmed, posted_at`

func (r *postResultRepository) Create(ctx context.Context, pr *models.PostResult) (int64, error) {
	query := `
		INSERT INTO post_results (post_id, user_id, platform, account_id, success, platform_post_id, post_url, error_message, confirmed, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	postedAt := pr.PostedAt
	if postedAt.IsZero() {
		postedAt = time.Now()
	}

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		pr.PostID, pr.UserID, pr.Platform, pr.AccountID,
		pr.Success, pr.PlatformPostID, pr.PostURL, pr.ErrorMessage,
		pr.Confirmed, postedAt,
	).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *postResultRepository) GetByPostAndAccount(ctx context.Context, postID, accountID int64) (*models.PostResult, error) {
	query := `SELECT ` + postResultColumns + ` FROM post_results WHERE post_id = $1 AND account_id = $2`
	row := r.db.QueryRowContext(ctx, query, postID, accountID)

	var pr models.PostResult
	err := row.Scan(&pr.ID, &pr.PostID, &pr.UserID, &pr.Platform, &pr.AccountID,
		&pr.Success, &pr.PlatformPostID, &pr.PostURL, &pr.ErrorMessage, &pr.Confirmed, &pr.PostedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &pr, nil
}

func (r *postResultRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PostResult, error) {
	query := `SELECT ` + postResultColumns + ` FROM post_results WHERE post_id = $1 ORDER BY posted_at`
	return r.list(ctx, query, postID)
}

func (r *postResultRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.PostResult, error) {
	query := `SELECT ` + postResultColumns + ` FROM post_results WHERE user_id = $1 ORDER BY posted_at DESC`
	return r.list(ctx, query, userID)
}

// ListUnconfirmed returns successful attempts still awaiting platform-side
// confirmation, oldest first. Used by the status poller.
func (r *postResultRepository) ListUnconfirmed(ctx context.Context, platform string) ([]*models.PostResult, error) {
	query := `SELECT ` + postResultColumns + ` FROM post_results WHERE platform = $1 AND confirmed = false AND success = true ORDER BY posted_at`
	return r.list(ctx, query, platform)
}

func (r *postResultRepository) list(ctx context.Context, query string, arg interface{}) ([]*models.PostResult, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var results []*models.PostResult
	for rows.Next() {
		var pr models.PostResult
		err := rows.Scan(&pr.ID, &pr.PostID, &pr.UserID, &pr.Platform, &pr.AccountID,
			&pr.Success, &pr.PlatformPostID, &pr.PostURL, &pr.ErrorMessage, &pr.Confirmed, &pr.PostedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		results = append(results, &pr)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return results, nil
}

// UpdateOutcome rewrites an attempt in place and marks it confirmed. The
// row count per (post, account) never grows through confirmation.
func (r *postResultRepository) UpdateOutcome(ctx context.Context, id int64, success bool, platformPostID, postURL, errorMessage string) error {
	query := `
		UPDATE post_results
		SET success = $2,
			platform_post_id = COALESCE(NULLIF($3, ''), platform_post_id),
			post_url = COALESCE(NULLIF($4, ''), post_url),
			error_message = $5,
			confirmed = true
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, success, platformPostID, postURL, errorMessage)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
