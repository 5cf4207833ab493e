package config

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DoWithBackoff sends req, retrying network errors and 5xx/429 responses with
// exponential backoff up to maxRetries extra attempts. The final response is
// returned even when its status is an error so callers can report it.
func DoWithBackoff(ctx context.Context, client *http.Client, req *http.Request, maxRetries int) (*http.Response, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	policy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxInterval(30*time.Second),
		backoff.WithMaxElapsedTime(0),
	)
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxRetries)), ctx)

	attempts := 0
	return backoff.RetryWithData(func() (*http.Response, error) {
		attempts++
		resp, err := client.Do(req.Clone(ctx))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			if attempts <= maxRetries {
				resp.Body.Close()
				return nil, fmt.Errorf("server responded with status %d", resp.StatusCode)
			}
		}
		return resp, nil
	}, retry)
}
