package coordinator

import (
	"context"
	"time"
)

// RetryPolicy bounds a retry loop
// FUNCTIONAL DISCOVERY: Multiplier 1.0 gives the fixed-interval classroom
// default (20 attempts, 3s apart); larger values back off exponentially
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	Multiplier  float64
	MaxInterval time.Duration
}

// DefaultJoinRetry is the auto-join policy
func DefaultJoinRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 20, Interval: 3 * time.Second, Multiplier: 1.0}
}

// DefaultReconnect is the feed resubscribe policy
func DefaultReconnect() RetryPolicy {
	return RetryPolicy{MaxAttempts: 10, Interval: 500 * time.Millisecond, Multiplier: 2.0, MaxInterval: 15 * time.Second}
}

// Delay returns the wait before attempt n (1-based; attempt 1 runs immediately)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(p.Interval)
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 2; i < attempt; i++ {
		d *= mult
		if p.MaxInterval > 0 && d >= float64(p.MaxInterval) {
			return p.MaxInterval
		}
	}
	if p.MaxInterval > 0 && time.Duration(d) > p.MaxInterval {
		return p.MaxInterval
	}
	return time.Duration(d)
}

// Run calls fn until it reports done, attempts run out, or ctx ends.
// It returns the last error from fn, or ctx.Err() on cancellation.
func (p RetryPolicy) Run(ctx context.Context, fn func(attempt int) (done bool, err error)) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if d := p.Delay(attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		done, err := fn(attempt)
		if done {
			return err
		}
		lastErr = err
	}
	return lastErr
}
