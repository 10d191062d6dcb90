package publisher

import (
	"context"

	"github.com/rkotchamp/postmore-sub002/internal/models"
)

// Publisher delivers content to one platform. Implementations never panic
// and never return a Go error from Publish; every failure is normalized into
// the Result so the worker can apply the retry policy uniformly.
type Publisher interface {
	Platform() string
	Publish(ctx context.Context, account *models.SocialAccount, content *Content) *Result
}

// Result is the outcome of a single publish attempt.
type Result struct {
	Success        bool
	PlatformPostID string
	URL            string
	Err            error
	// Retryable marks failures worth another attempt (network faults,
	// 5xx). Validation and credential failures are final.
	Retryable bool
	// Pending marks a success the platform finishes asynchronously; the
	// status poller confirms or flips it later.
	Pending bool
}

func success(platformPostID, url string) *Result {
	return &Result{Success: true, PlatformPostID: platformPostID, URL: url}
}

func pending(publishID string) *Result {
	return &Result{Success: true, PlatformPostID: publishID, Pending: true}
}

func failure(err error, retryable bool) *Result {
	return &Result{Err: err, Retryable: retryable}
}

// Registry maps platform tags to their adapters. Dispatch is a lookup, so
// adding a platform means registering one more Publisher, nothing else.
type Registry struct {
	publishers map[string]Publisher
}

func NewRegistry(publishers ...Publisher) *Registry {
	r := &Registry{publishers: make(map[string]Publisher, len(publishers))}
	for _, p := range publishers {
		r.publishers[p.Platform()] = p
	}
	return r
}

func (r *Registry) Get(platform string) (Publisher, bool) {
	p, ok := r.publishers[platform]
	return p, ok
}

func (r *Registry) Platforms() []string {
	platforms := make([]string, 0, len(r.publishers))
	for tag := range r.publishers {
		platforms = append(platforms, tag)
	}
	return platforms
}
