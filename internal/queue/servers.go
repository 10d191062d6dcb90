package queue

import (
	"context"
	"log"
	"time"

	"github.com/hibiken/asynq"

	config "github.com/rkotchamp/postmore-sub002/configs"
	"github.com/rkotchamp/postmore-sub002/internal/metrics"
)

// Servers runs the three task servers. Each queue gets its own server so
// its concurrency limit is absolute: a burst of publish traffic cannot eat
// the refresh or poll slots.
type Servers struct {
	publish *asynq.Server
	refresh *asynq.Server
	poll    *asynq.Server

	publishMux *asynq.ServeMux
	refreshMux *asynq.ServeMux
	pollMux    *asynq.ServeMux
}

func NewServers(cfg *config.Config, redisOpt asynq.RedisClientOpt, worker *Worker) *Servers {
	s := &Servers{}

	s.publish = asynq.NewServer(redisOpt, serverConfig(cfg, QueuePublish, cfg.Queue.PublishConcurrency))
	s.publishMux = asynq.NewServeMux()
	s.publishMux.HandleFunc(TaskTypePublishPost, worker.HandlePublishTask)

	s.refresh = asynq.NewServer(redisOpt, serverConfig(cfg, QueueRefresh, cfg.Queue.RefreshConcurrency))
	s.refreshMux = asynq.NewServeMux()
	s.refreshMux.HandleFunc(TaskTypeTokenRefresh, worker.HandleTokenRefreshTask)

	s.poll = asynq.NewServer(redisOpt, serverConfig(cfg, QueuePoll, cfg.Queue.PollConcurrency))
	s.pollMux = asynq.NewServeMux()
	s.pollMux.HandleFunc(TaskTypePlatformPoll, worker.HandlePlatformPollTask)

	return s
}

func serverConfig(cfg *config.Config, queue string, concurrency int) asynq.Config {
	return asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			delay := cfg.Queue.RetryBase << n
			if delay <= 0 || delay > time.Minute {
				delay = time.Minute
			}
			return delay
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			metrics.QueueFailures.WithLabelValues(queue).Inc()
			log.Printf("task %s on queue %s failed: %v", task.Type(), queue, err)
		}),
	}
}

func (s *Servers) Start() error {
	if err := s.publish.Start(s.publishMux); err != nil {
		return err
	}
	if err := s.refresh.Start(s.refreshMux); err != nil {
		s.publish.Shutdown()
		return err
	}
	if err := s.poll.Start(s.pollMux); err != nil {
		s.publish.Shutdown()
		s.refresh.Shutdown()
		return err
	}
	return nil
}

func (s *Servers) Shutdown() {
	s.publish.Shutdown()
	s.refresh.Shutdown()
	s.poll.Shutdown()
}
