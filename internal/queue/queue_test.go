package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"

	config "github.com/rkotchamp/postmore-sub002/configs"
	"github.com/rkotchamp/postmore-sub002/internal/models"
	"github.com/rkotchamp/postmore-sub002/internal/publisher"
)

type enqueuedTask struct {
	task *asynq.Task
	opts []asynq.Option
}

type enqueuerStub struct {
	enqueued []enqueuedTask
	err      error
}

func (s *enqueuerStub) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	_ = ctx
	if s.err != nil {
		return nil, s.err
	}
	s.enqueued = append(s.enqueued, enqueuedTask{task: task, opts: opts})
	return &asynq.TaskInfo{ID: "enqueued"}, nil
}

func optionValue(opts []asynq.Option, typ asynq.OptionType) (interface{}, bool) {
	for _, opt := range opts {
		if opt.Type() == typ {
			return opt.Value(), true
		}
	}
	return nil, false
}

func testConfig() *config.Config {
	return &config.Config{
		Queue: config.Queue{MaxRetry: 3, RetryBase: time.Second},
	}
}

func publishPayload(createdAt int64) *PublishPayload {
	return &PublishPayload{
		UserID:   7,
		Platform: models.PlatformLinkedin,
		AccountData: AccountData{
			ID:        3,
			AccountID: "member1",
			Name:      "Work Account",
		},
		Content:   publisher.Content{Text: "hello", PostID: 42},
		CreatedAt: createdAt,
	}
}

func TestSchedulePublishTaskIdentity(t *testing.T) {
	assert := assert.New(t)

	client := &enqueuerStub{}
	s := NewScheduler(testConfig(), client, nil)

	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	jobID, err := s.SchedulePublish(context.Background(), publishPayload(createdAt), time.Now())

	assert.NoError(err)
	assert.Equal(fmt.Sprintf("publish:7:3:%d", createdAt), jobID)

	if assert.Len(client.enqueued, 1) {
		got := client.enqueued[0]
		assert.Equal(TaskTypePublishPost, got.task.Type())

		taskID, ok := optionValue(got.opts, asynq.TaskIDOpt)
		assert.True(ok)
		assert.Equal(jobID, taskID)

		queueName, ok := optionValue(got.opts, asynq.QueueOpt)
		assert.True(ok)
		assert.Equal(QueuePublish, queueName)

		maxRetry, ok := optionValue(got.opts, asynq.MaxRetryOpt)
		assert.True(ok)
		assert.Equal(3, maxRetry)

		var decoded PublishPayload
		assert.NoError(json.Unmarshal(got.task.Payload(), &decoded))
		assert.Equal(int64(42), decoded.Content.PostID, "payload must carry the post id")
	}
}

func TestSchedulePublishDelay(t *testing.T) {
	assert := assert.New(t)

	client := &enqueuerStub{}
	s := NewScheduler(testConfig(), client, nil)

	_, err := s.SchedulePublish(context.Background(), publishPayload(1), time.Now().Add(30*time.Second))
	assert.NoError(err)

	delayVal, ok := optionValue(client.enqueued[0].opts, asynq.ProcessInOpt)
	if !ok {
		t.Fatalf("expected a ProcessIn option")
	}
	delay := delayVal.(time.Duration)
	assert.Greater(delay, 29*time.Second)
	assert.LessOrEqual(delay, 30*time.Second)
}

func TestSchedulePublishPastDueRunsNow(t *testing.T) {
	assert := assert.New(t)

	client := &enqueuerStub{}
	s := NewScheduler(testConfig(), client, nil)

	_, err := s.SchedulePublish(context.Background(), publishPayload(1), time.Now().Add(-time.Hour))
	assert.NoError(err)

	delayVal, _ := optionValue(client.enqueued[0].opts, asynq.ProcessInOpt)
	assert.Equal(time.Duration(0), delayVal)
}

func TestSchedulePublishDuplicateIsNoop(t *testing.T) {
	assert := assert.New(t)

	client := &enqueuerStub{err: asynq.ErrTaskIDConflict}
	s := NewScheduler(testConfig(), client, nil)

	createdAt := int64(1700000000000)
	jobID, err := s.SchedulePublish(context.Background(), publishPayload(createdAt), time.Now())

	assert.NoError(err, "an already-queued delivery is not an error")
	assert.Equal(fmt.Sprintf("publish:7:3:%d", createdAt), jobID)
}

func TestScheduleRefreshCarriesPlatform(t *testing.T) {
	assert := assert.New(t)

	client := &enqueuerStub{}
	s := NewScheduler(testConfig(), client, nil)

	err := s.ScheduleRefresh(context.Background(), 12, models.PlatformTiktok)
	assert.NoError(err)

	if assert.Len(client.enqueued, 1) {
		assert.Equal(TaskTypeTokenRefresh, client.enqueued[0].task.Type())

		var decoded RefreshPayload
		assert.NoError(json.Unmarshal(client.enqueued[0].task.Payload(), &decoded))
		assert.Equal(int64(12), decoded.AccountID)
		assert.Equal(models.PlatformTiktok, decoded.Platform)
		assert.False(decoded.Scheduled)
	}
}

func TestEnqueueRefreshSweepCollapsesPerHour(t *testing.T) {
	assert := assert.New(t)

	client := &enqueuerStub{}
	s := NewScheduler(testConfig(), client, nil)

	assert.NoError(s.EnqueueRefreshSweep(context.Background()))
	assert.NoError(s.EnqueueRefreshSweep(context.Background()))

	if assert.Len(client.enqueued, 2) {
		first, _ := optionValue(client.enqueued[0].opts, asynq.TaskIDOpt)
		second, _ := optionValue(client.enqueued[1].opts, asynq.TaskIDOpt)
		assert.Equal(first, second, "same hour window must produce the same task id")

		var decoded RefreshPayload
		assert.NoError(json.Unmarshal(client.enqueued[0].task.Payload(), &decoded))
		assert.True(decoded.Scheduled)
		assert.Zero(decoded.AccountID)
	}

	// A second process whose enqueue hits the ID conflict sees a no-op.
	client.err = asynq.ErrTaskIDConflict
	assert.NoError(s.EnqueueRefreshSweep(context.Background()))
}

func TestTriggerRefreshSweepSkipsDedup(t *testing.T) {
	assert := assert.New(t)

	client := &enqueuerStub{}
	s := NewScheduler(testConfig(), client, nil)

	assert.NoError(s.TriggerRefreshSweep(context.Background()))

	if assert.Len(client.enqueued, 1) {
		_, hasTaskID := optionValue(client.enqueued[0].opts, asynq.TaskIDOpt)
		assert.False(hasTaskID, "manual sweeps always run")

		var decoded RefreshPayload
		assert.NoError(json.Unmarshal(client.enqueued[0].task.Payload(), &decoded))
		assert.True(decoded.Triggered)
	}
}

func TestEnqueuePollWindowedTaskID(t *testing.T) {
	assert := assert.New(t)

	client := &enqueuerStub{}
	s := NewScheduler(testConfig(), client, nil)

	before := time.Now().Unix() / 900
	assert.NoError(s.EnqueuePoll(context.Background()))
	after := time.Now().Unix() / 900

	if assert.Len(client.enqueued, 1) {
		taskID, ok := optionValue(client.enqueued[0].opts, asynq.TaskIDOpt)
		assert.True(ok)
		assert.Contains([]interface{}{
			fmt.Sprintf("platform:poll:%d", before),
			fmt.Sprintf("platform:poll:%d", after),
		}, taskID)

		queueName, _ := optionValue(client.enqueued[0].opts, asynq.QueueOpt)
		assert.Equal(QueuePoll, queueName)
	}
}
