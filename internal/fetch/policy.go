package fetch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the retries performed for a single download. It is
// deliberately decoupled from the client so callers decide how persistent
// a fetch should be.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy retries transient failures twice (three attempts
// total) with a constant two second backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 2 * time.Second}
}

func (policy RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	constant := backoff.NewConstantBackOff(policy.Backoff)
	return backoff.WithContext(backoff.WithMaxRetries(constant, uint64(attempts-1)), ctx)
}
