package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"mime/multipart"
	"strconv"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/publisher"
	"github.com/rkotchamp/postmore-sub002/internal/queue"
	"github.com/rkotchamp/postmore-sub002/internal/repository"
	"github.com/rkotchamp/postmore-sub002/internal/transfer"
)

type publishScheduler interface {
	SchedulePublish(ctx context.Context, payload *queue.PublishPayload, whenDue time.Time) (string, error)
	CancelPending(ctx context.Context, jobID string) error
}

type PostService interface {
	CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, error)
	List(ctx context.Context, userID int64) ([]*models.Post, error)
	PostInfo(ctx context.Context, postID, userID int64) (*transfer.PostWithResults, error)
	Remove(ctx context.Context, userID, postID int64) error
}

type postService struct {
	db        *sql.DB
	pr        repository.PostRepository
	sa        repository.SelectedAccountRepository
	ac        repository.SocialAccountRepository
	ma        repository.MediaAssetRepository
	pm        repository.PostMediaRepository
	st        repository.SettingsRepository
	rr        repository.PostResultRepository
	r2        *R2Service
	scheduler publishScheduler
}

func NewPostService(
	db *sql.DB,
	pr repository.PostRepository,
	sa repository.SelectedAccountRepository,
	ma repository.MediaAssetRepository,
	ac repository.SocialAccountRepository,
	pm repository.PostMediaRepository,
	st repository.SettingsRepository,
	rr repository.PostResultRepository,
	r2 *R2Service,
	scheduler publishScheduler) PostService {
	return &postService{
		db:        db,
		pr:        pr,
		sa:        sa,
		ac:        ac,
		ma:        ma,
		pm:        pm,
		st:        st,
		rr:        rr,
		r2:        r2,
		scheduler: scheduler,
	}
}

// CreatePost stores the post with its targets and media inside one
// transaction, then enqueues one delivery task per target. The enqueued
// payloads carry a full content snapshot, so edits after this point do not
// change what goes out.
func (s *postService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, error) {
	if pc == nil {
		err := errors.New("post creation data is nil")
		slog.Error(err.Error())
		return 0, err
	}

	// A caption is only mandatory when there is nothing else to post.
	if pc.Caption == "" && len(files) == 0 {
		err := errors.New("post needs a caption or at least one media file")
		slog.Info(err.Error())
		return 0, err
	}

	var selectedAccounts []int64
	if err := json.Unmarshal([]byte(pc.SelectedAccounts), &selectedAccounts); err != nil {
		err = fmt.Errorf("invalid selected accounts format: %w", err)
		slog.Error(err.Error())
		return 0, err
	}
	if len(selectedAccounts) == 0 {
		err := errors.New("no social accounts selected")
		slog.Error(err.Error())
		return 0, err
	}

	captions, err := parseCaptions(pc.Captions)
	if err != nil {
		slog.Error(err.Error())
		return 0, err
	}
	accountCaptions, err := parseAccountCaptions(pc.AccountCaptions)
	if err != nil {
		slog.Error(err.Error())
		return 0, err
	}

	scheduleMode := pc.ScheduleMode
	if scheduleMode == "" {
		scheduleMode = models.ScheduleModeImmediate
		if pc.ScheduledTime != "" {
			scheduleMode = models.ScheduleModeScheduled
		}
	}

	whenDue := time.Now()
	status := models.PostStatusPending
	switch scheduleMode {
	case models.ScheduleModeImmediate:
	case models.ScheduleModeScheduled:
		scheduledTime, err := time.Parse("2006-01-02T15:04", pc.ScheduledTime)
		if err != nil {
			err = fmt.Errorf("invalid scheduled time format: %w", err)
			slog.Error(err.Error())
			return 0, err
		}
		whenDue = scheduledTime
		status = models.PostStatusScheduled
	default:
		err := fmt.Errorf("unknown schedule mode %q", scheduleMode)
		slog.Info(err.Error())
		return 0, err
	}

	postType := models.PostTypeText
	switch {
	case len(files) == 1:
		postType = models.PostTypeSingle
	case len(files) > 1:
		postType = models.PostTypeMultiple
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	post := models.Post{
		UserID:        userID,
		PostType:      postType,
		Caption:       pc.Caption,
		Title:         pc.Title,
		ScheduleMode:  scheduleMode,
		ScheduledTime: whenDue,
		Status:        status,
	}

	postID, err := s.pr.Create(ctx, tx, &post)
	if err != nil {
		return 0, fmt.Errorf("error creating post: %w", err)
	}

	targets, err := s.saveSelectedAccounts(ctx, tx, userID, postID, selectedAccounts, accountCaptions)
	if err != nil {
		return 0, fmt.Errorf("error processing selected accounts: %w", err)
	}

	media, err := s.processFiles(ctx, tx, userID, postID, files)
	if err != nil {
		return 0, fmt.Errorf("error processing files: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	content := publisher.Content{
		ContentType: postType,
		Text:        pc.Caption,
		Captions:    captions,
		Title:       pc.Title,
		Media:       media,
		Options:     s.loadOptions(ctx, userID),
		PostID:      postID,
	}

	for _, account := range targets {
		targetContent := content
		targetContent.CaptionOverride = accountCaptions[account.ID]

		payload := &queue.PublishPayload{
			UserID:   userID,
			Platform: account.Platform,
			AccountData: queue.AccountData{
				ID:        account.ID,
				AccountID: account.AccountID,
				Name:      account.AccountName,
			},
			Content:   targetContent,
			CreatedAt: post.CreatedAt.UnixMilli(),
		}

		jobID, err := s.scheduler.SchedulePublish(ctx, payload, whenDue)
		if err != nil {
			log.Printf("schedule delivery for post %d account %d: %v", postID, account.ID, err)
			continue
		}
		log.Printf("Task scheduled: %s", jobID)
	}

	return postID, nil
}

func (s *postService) saveSelectedAccounts(ctx context.Context, tx *sql.Tx, userID, postID int64, accountIDs []int64, overrides map[int64]string) ([]*models.SocialAccount, error) {
	accounts := make([]*models.SocialAccount, 0, len(accountIDs))
	for _, accountID := range accountIDs {
		account, err := s.ac.GetByID(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("error checking social account %d: %w", accountID, err)
		}
		if account == nil || account.UserID != userID {
			return nil, fmt.Errorf("social account %d does not exist", accountID)
		}

		target := models.SelectedAccount{
			PostID:          postID,
			AccountID:       accountID,
			CaptionOverride: overrides[accountID],
		}
		if err := s.sa.Create(ctx, tx, &target); err != nil {
			return nil, fmt.Errorf("error saving selected account %d: %w", accountID, err)
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (s *postService) processFiles(ctx context.Context, tx *sql.Tx, userID, postID int64, files []*multipart.FileHeader) ([]publisher.Media, error) {
	allowedTypes := map[string]struct{}{
		"mp4": {}, "mov": {}, "jpeg": {}, "png": {}, "jpg": {},
	}

	media := make([]publisher.Media, 0, len(files))
	for i, file := range files {
		fileContent, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("error opening file: %w", err)
		}

		fileBytes, err := io.ReadAll(fileContent)
		fileContent.Close()
		if err != nil {
			return nil, fmt.Errorf("error reading file content: %w", err)
		}

		fileType, err := filetype.Match(fileBytes)
		if err != nil || fileType == types.Unknown {
			return nil, fmt.Errorf("unsupported file type: %w", err)
		}
		if _, ok := allowedTypes[fileType.Extension]; !ok {
			return nil, fmt.Errorf("file type %s is not allowed", fileType.Extension)
		}

		asset, err := s.saveFile(ctx, tx, userID, fileType.MIME.Value, fileBytes)
		if err != nil {
			return nil, fmt.Errorf("error uploading file: %w", err)
		}

		postMedia := models.PostMedia{
			PostID:       postID,
			AssetID:      asset.ID,
			DisplayOrder: i,
		}
		if err := s.pm.Create(ctx, tx, &postMedia); err != nil {
			return nil, fmt.Errorf("error saving media file: %w", err)
		}

		media = append(media, publisher.Media{
			AssetID: asset.ID,
			URL:     asset.FileURL,
			Mime:    asset.FileType,
			Kind:    publisher.KindFromMime(asset.FileType),
			Size:    asset.FileSize,
		})
	}
	return media, nil
}

func (s *postService) saveFile(ctx context.Context, tx *sql.Tx, userID int64, fileType string, file []byte) (*models.MediaAsset, error) {
	id, err := gonanoid.New()
	if err != nil {
		log.Println(err.Error())
		return nil, err
	}

	if err := s.r2.UploadToR2(ctx, id, file, fileType); err != nil {
		return nil, err
	}

	ma := models.MediaAsset{
		UserID:   userID,
		FileName: id,
		FileType: fileType,
		FileSize: int64(len(file)),
		FileURL:  s.r2.PublicURL(id),
	}

	assetID, err := s.ma.Create(ctx, tx, &ma)
	if err != nil {
		return nil, err
	}
	ma.ID = assetID

	return &ma, nil
}

func (s *postService) loadOptions(ctx context.Context, userID int64) publisher.Options {
	settings, ok, err := s.st.GetByUserID(ctx, userID)
	if err != nil || !ok {
		return publisher.Options{}
	}
	return publisher.Options{
		TiktokPrivacyLevel:    settings.TiktokPrivacyLevel,
		TiktokDisableComments: settings.TiktokDisableComments,
		TiktokDisableDuet:     settings.TiktokDisableDuet,
		TiktokDisableStitch:   settings.TiktokDisableStitch,
		YoutubeCategoryID:     settings.YoutubeCategoryID,
		YoutubePrivacyStatus:  settings.YoutubePrivacyStatus,
	}
}

func (s *postService) PostInfo(ctx context.Context, postID, userID int64) (*transfer.PostWithResults, error) {
	var err error

	if userID == 0 {
		err = errors.New("User is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	if postID == 0 {
		err = errors.New("post id is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}

	if !isValid {
		err = errors.New("Post doesn't exist")
		slog.Info(err.Error())
		return nil, err
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("Error getting post info")
	}

	results, err := s.rr.ListByPostID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("Error getting post results")
	}

	return &transfer.PostWithResults{Post: post, Results: results}, nil
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	posts, err := s.pr.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Error getting posts")
	}
	return posts, nil
}

// Remove deletes a post and cancels its queued deliveries. Deliveries a
// worker already picked up finish on their own; their results outlive the
// post row's deletion attempt and are simply orphaned with it.
func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	var err error

	if userID == 0 {
		err = errors.New("User is not valid")
		slog.Info(err.Error())
		return err
	}

	if postID == 0 {
		err = errors.New("post_id is not valid")
		slog.Info(err.Error())
		return err
	}

	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return err
	}

	if !isValid {
		err = errors.New("Post doesn't exist")
		slog.Info(err.Error())
		return err
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return err
	}

	targets, err := s.sa.ListByPostID(ctx, postID)
	if err == nil && post != nil {
		for _, target := range targets {
			jobID := queue.PublishTaskID(userID, target.AccountID, post.CreatedAt.UnixMilli())
			if err := s.scheduler.CancelPending(ctx, jobID); err != nil {
				log.Printf("cancel delivery %s: %v", jobID, err)
			}
		}
	}

	err = s.pr.Remove(ctx, postID)
	if err != nil {
		return fmt.Errorf("Error removing post")
	}

	return nil
}

func parseCaptions(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	captions := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &captions); err != nil {
		return nil, fmt.Errorf("invalid captions format: %w", err)
	}
	return captions, nil
}

func parseAccountCaptions(raw string) (map[int64]string, error) {
	if raw == "" {
		return nil, nil
	}
	byKey := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &byKey); err != nil {
		return nil, fmt.Errorf("invalid account captions format: %w", err)
	}

	overrides := make(map[int64]string, len(byKey))
	for key, caption := range byKey {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid account id %q in account captions", key)
		}
		overrides[id] = caption
	}
	return overrides, nil
}
