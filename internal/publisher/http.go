package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// API calls and media transfers carry different timeouts; a stuck platform
// surfaces as a normal failed attempt instead of a wedged worker.
var (
	apiClient   = &http.Client{Timeout: 30 * time.Second}
	mediaClient = &http.Client{Timeout: 120 * time.Second}
)

// fetchMedia downloads an asset from object storage.
func fetchMedia(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := mediaClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch media: status %d from %s", resp.StatusCode, url)
	}

	return io.ReadAll(resp.Body)
}

// retryableStatus reports whether a platform HTTP status is worth retrying.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// transientError tags an error as retryable while it travels through helper
// returns that feed a Result.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func retryableError(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

func isRetryable(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
