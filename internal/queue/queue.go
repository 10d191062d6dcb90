package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron"

	config "github.com/rkotchamp/postmore-sub002/configs"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler turns domain events into queued tasks. Deterministic task IDs
// make enqueues idempotent: scheduling the same delivery twice is a no-op,
// not a duplicate post.
type Scheduler struct {
	cfg       *config.Config
	client    enqueuer
	inspector *asynq.Inspector
	cron      *cron.Cron
}

func NewScheduler(cfg *config.Config, client enqueuer, inspector *asynq.Inspector) *Scheduler {
	return &Scheduler{cfg: cfg, client: client, inspector: inspector, cron: cron.New()}
}

// PublishTaskID names one delivery after the user, target account and the
// instant the post was created. The same delivery always maps to the same
// ID, which is what makes cancellation and duplicate-enqueue checks work
// without storing task handles anywhere.
func PublishTaskID(userID, accountID, createdAtMillis int64) string {
	return fmt.Sprintf("publish:%d:%d:%d", userID, accountID, createdAtMillis)
}

// SchedulePublish enqueues one delivery, due now for immediate posts or at
// the scheduled time otherwise, and returns the job ID. A task ID conflict
// means the delivery is already queued and is not an error.
func (s *Scheduler) SchedulePublish(ctx context.Context, payload *PublishPayload, whenDue time.Time) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	delay := time.Until(whenDue)
	if delay < 0 {
		delay = 0
	}

	taskID := PublishTaskID(payload.UserID, payload.AccountData.ID, payload.CreatedAt)
	_, err = s.client.EnqueueContext(ctx, asynq.NewTask(TaskTypePublishPost, data),
		asynq.Queue(QueuePublish),
		asynq.TaskID(taskID),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(s.cfg.Queue.MaxRetry),
		asynq.Timeout(10*time.Minute),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			log.Printf("task %s already enqueued", taskID)
			return taskID, nil
		}
		return "", err
	}

	return taskID, nil
}

// ScheduleRefresh enqueues an on-demand refresh for one credential.
func (s *Scheduler) ScheduleRefresh(ctx context.Context, accountID int64, platform string) error {
	data, err := json.Marshal(&RefreshPayload{AccountID: accountID, Platform: platform})
	if err != nil {
		return err
	}

	_, err = s.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeTokenRefresh, data),
		asynq.Queue(QueueRefresh),
		asynq.MaxRetry(s.cfg.Queue.MaxRetry),
	)
	return err
}

// EnqueueRefreshSweep queues the periodic sweep over expiring credentials.
// The task ID is keyed to the hour, so overlapping cron fires from multiple
// processes collapse into one sweep.
func (s *Scheduler) EnqueueRefreshSweep(ctx context.Context) error {
	data, err := json.Marshal(&RefreshPayload{Scheduled: true})
	if err != nil {
		return err
	}

	taskID := "token:sweep:" + time.Now().UTC().Format("2006010215")
	_, err = s.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeTokenRefresh, data),
		asynq.Queue(QueueRefresh),
		asynq.TaskID(taskID),
		asynq.Timeout(30*time.Minute),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// TriggerRefreshSweep queues a sweep outside the weekly schedule, without
// the hourly dedup. Used at startup to catch credentials that expired while
// the process was down.
func (s *Scheduler) TriggerRefreshSweep(ctx context.Context) error {
	data, err := json.Marshal(&RefreshPayload{Triggered: true})
	if err != nil {
		return err
	}

	_, err = s.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeTokenRefresh, data),
		asynq.Queue(QueueRefresh),
		asynq.Timeout(30*time.Minute),
	)
	return err
}

// EnqueuePoll queues a status poll, deduplicated per 15 minute window.
func (s *Scheduler) EnqueuePoll(ctx context.Context) error {
	data, err := json.Marshal(&PollPayload{Scheduled: true})
	if err != nil {
		return err
	}

	taskID := fmt.Sprintf("platform:poll:%d", time.Now().Unix()/900)
	_, err = s.client.EnqueueContext(ctx, asynq.NewTask(TaskTypePlatformPoll, data),
		asynq.Queue(QueuePoll),
		asynq.TaskID(taskID),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// ScheduleRecurringRefreshSweep registers the sweep on the internal cron.
// Occurrence-window task IDs make re-registration across restarts and
// replicas idempotent, so this can run in every process.
func (s *Scheduler) ScheduleRecurringRefreshSweep(cronExpr string) error {
	return s.cron.AddFunc(cronExpr, func() {
		if err := s.EnqueueRefreshSweep(context.Background()); err != nil {
			log.Printf("Failed to enqueue refresh sweep: %v", err)
		}
	})
}

// ScheduleRecurringPoll registers the status poll on the internal cron.
func (s *Scheduler) ScheduleRecurringPoll(cronExpr string) error {
	return s.cron.AddFunc(cronExpr, func() {
		if err := s.EnqueuePoll(context.Background()); err != nil {
			log.Printf("Failed to enqueue status poll: %v", err)
		}
	})
}

func (s *Scheduler) StartRecurring() { s.cron.Start() }

func (s *Scheduler) StopRecurring() { s.cron.Stop() }

// CancelPending removes a still-queued delivery. Tasks a worker has already
// picked up are past cancelling; their results still land.
func (s *Scheduler) CancelPending(ctx context.Context, jobID string) error {
	if s.inspector == nil {
		return nil
	}

	err := s.inspector.DeleteTask(QueuePublish, jobID)
	if err != nil && !errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
		return err
	}
	return nil
}
