package services

import (
	"context"
	"time"
)

// RetryPolicy retries an operation with exponential backoff. The zero value
// performs a single attempt.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy suits short transient outages of backing services.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	Backoff:     200 * time.Millisecond,
	MaxBackoff:  2 * time.Second,
}

// Do runs fn until it succeeds, attempts are exhausted, or the context ends.
// The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Backoff

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
	}
	return err
}
