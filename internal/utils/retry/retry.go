package retry

import (
	"context"
	"math"
	"time"
)

// Backoff returns the wait before the next attempt. attempt is 1 after the first failure.
type Backoff func(attempt int) time.Duration

// Policy is a bounded retry policy. The zero value runs fn once.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff

	// Retryable reports whether err is worth another attempt. nil retries every error.
	Retryable func(error) bool

	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Do executes fn until it succeeds, the policy is exhausted, or ctx is done.
// The last error from fn is returned on exhaustion.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for functions producing a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}

	var result T
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt == max || (p.Retryable != nil && !p.Retryable(err)) {
			break
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
		if serr := Sleep(ctx, wait); serr != nil {
			return result, serr
		}
	}
	return result, err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ExponentialBackoff doubles from initial on each attempt: initial, 2*initial, 4*initial, capped at max.
func ExponentialBackoff(initial, max time.Duration) Backoff {
	return GrowthBackoff(initial, 2, max)
}

// GrowthBackoff returns base * factor^(attempt-1), capped at max when max > 0.
func GrowthBackoff(base time.Duration, factor float64, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return capped(float64(base)*math.Pow(factor, float64(attempt-1)), max)
	}
}

// QuadraticBackoff returns base * attempt^2, capped at max when max > 0.
func QuadraticBackoff(base, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return capped(float64(base)*float64(attempt*attempt), max)
	}
}

func capped(wait float64, max time.Duration) time.Duration {
	if max > 0 && (wait > float64(max) || math.IsInf(wait, 1)) {
		return max
	}
	return time.Duration(wait)
}
