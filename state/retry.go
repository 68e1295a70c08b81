package state

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Retry policy: up to three attempts with exponential backoff and jitter,
// only for transient classes (throttling, timeouts). Conditional-check
// failures and not-found outcomes surface immediately.
const (
	maxAttempts     = 3
	initialInterval = 500 * time.Millisecond
	maxInterval     = 8 * time.Second
)

// withRetry runs op under the store retry policy.
func withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	bo.MaxInterval = maxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			if !isTransient(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(maxAttempts))
	return err
}
