package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postmore_publish_attempts_total",
		Help: "Publish attempts by platform and outcome.",
	}, []string{"platform", "outcome"})

	PublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "postmore_publish_duration_seconds",
		Help:    "Wall time of platform publish calls.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"platform"})

	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postmore_token_refreshes_total",
		Help: "Credential refresh operations by platform and outcome.",
	}, []string{"platform", "outcome"})

	QueueFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postmore_queue_failures_total",
		Help: "Task handler failures by queue.",
	}, []string{"queue"})
)

// Serve exposes /metrics on its own listener. Blocks, so run it in a
// goroutine from main.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("metrics listener: %v", err)
	}
}
