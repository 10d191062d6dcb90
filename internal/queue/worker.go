package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rkotchamp/postmore-sub002/internal/metrics"
	"github.com/rkotchamp/postmore-sub002/internal/publisher"
	"github.com/rkotchamp/postmore-sub002/internal/reconcile"
	"github.com/rkotchamp/postmore-sub002/internal/tokens"
)

// HandlePublishTask executes one delivery. Retryable failures return a plain
// error so asynq reschedules the task; final failures are recorded as a
// result and wrapped in SkipRetry so the task archives instead of running
// again.
func (w *Worker) HandlePublishTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal publish payload: %v: %w", err, asynq.SkipRetry)
	}

	timer := prometheus.NewTimer(metrics.PublishDuration.WithLabelValues(payload.Platform))
	defer timer.ObserveDuration()

	account, err := w.coordinator.EnsureValid(ctx, payload.AccountData.ID)
	if err != nil {
		metrics.PublishAttempts.WithLabelValues(payload.Platform, "failure").Inc()
		if tokens.IsPermanent(err) {
			w.recordFinalFailure(ctx, &payload, err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return w.failOrRetry(ctx, &payload, err)
	}

	pub, ok := w.registry.Get(payload.Platform)
	if !ok {
		err := fmt.Errorf("no publisher registered for platform %s", payload.Platform)
		metrics.PublishAttempts.WithLabelValues(payload.Platform, "failure").Inc()
		w.recordFinalFailure(ctx, &payload, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	result := pub.Publish(ctx, account, &payload.Content)
	if result.Success {
		metrics.PublishAttempts.WithLabelValues(payload.Platform, "success").Inc()
		return w.apply(ctx, &payload, result)
	}

	metrics.PublishAttempts.WithLabelValues(payload.Platform, "failure").Inc()
	log.Printf("publish to %s for post %d failed: %v", payload.Platform, payload.Content.PostID, result.Err)

	if result.Retryable {
		return w.failOrRetry(ctx, &payload, result.Err)
	}

	w.recordFinalFailure(ctx, &payload, result.Err)
	return fmt.Errorf("%v: %w", result.Err, asynq.SkipRetry)
}

// failOrRetry passes a retryable failure back to asynq. When this attempt
// was the last one the failure is recorded first, because asynq archives
// the task without calling the handler again.
func (w *Worker) failOrRetry(ctx context.Context, payload *PublishPayload, cause error) error {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if retried >= maxRetry {
		w.recordFinalFailure(ctx, payload, cause)
	}
	return cause
}

func (w *Worker) recordFinalFailure(ctx context.Context, payload *PublishPayload, cause error) {
	outcome := w.outcome(payload, &publisher.Result{Err: cause})
	if err := w.reconciler.Apply(ctx, outcome); err != nil {
		log.Printf("record failed delivery for post %d: %v", payload.Content.PostID, err)
	}
}

// apply records the result. The platform already accepted the publish at
// this point; a reconcile error must not re-run the task or the post would
// go out twice.
func (w *Worker) apply(ctx context.Context, payload *PublishPayload, result *publisher.Result) error {
	if err := w.reconciler.Apply(ctx, w.outcome(payload, result)); err != nil {
		return fmt.Errorf("reconcile post %d: %v: %w", payload.Content.PostID, err, asynq.SkipRetry)
	}
	return nil
}

func (w *Worker) outcome(payload *PublishPayload, result *publisher.Result) *reconcile.Outcome {
	return &reconcile.Outcome{
		PostID:    payload.Content.PostID,
		UserID:    payload.UserID,
		Platform:  payload.Platform,
		AccountID: payload.AccountData.ID,
		Result:    result,
	}
}

// HandleTokenRefreshTask refreshes one credential, or sweeps the expiring
// set when the payload names no account.
func (w *Worker) HandleTokenRefreshTask(ctx context.Context, task *asynq.Task) error {
	var payload RefreshPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal refresh payload: %v: %w", err, asynq.SkipRetry)
	}

	if payload.AccountID != 0 {
		if _, err := w.coordinator.Refresh(ctx, payload.AccountID); err != nil {
			if tokens.IsPermanent(err) {
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			return err
		}
		return nil
	}

	result, err := w.refreshJob.Run(ctx)
	if err != nil {
		return err
	}
	log.Printf("token refresh sweep: %d due, %d refreshed, %d failed", result.Total, result.Refreshed, result.Failed)
	return nil
}

func (w *Worker) HandlePlatformPollTask(ctx context.Context, task *asynq.Task) error {
	var payload PollPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal poll payload: %v: %w", err, asynq.SkipRetry)
	}

	return w.pollJob.Run(ctx)
}
