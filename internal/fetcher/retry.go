package fetcher

import (
	"context"
	"time"
)

// RetryPolicy is the single retry configuration applied to every fetch.
// Delay before attempt n is BaseDelay * Multiplier^(n-1).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy matches the original scrapers' 403 handling: five
// attempts starting at half a second, doubling each time.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2,
	}
}

// Do runs op up to MaxAttempts times. retryable decides whether a given
// error is worth another attempt; context cancellation always stops early.
// A nil retryable retries every failure.
func (p RetryPolicy) Do(ctx context.Context, op func() error, retryable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.BaseDelay
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			if p.Multiplier > 0 {
				delay = time.Duration(float64(delay) * p.Multiplier)
			}
		}

		err = op()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return err
}
