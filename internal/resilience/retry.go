package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy controls retrying of outbound work with exponential backoff and
// jitter. The zero value is usable; unset fields fall back to the fetch
// defaults.
type Policy struct {
	// Attempts is the total number of tries including the first. A value of
	// 1 disables retries.
	Attempts int

	// BaseDelay is the sleep before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the grown delay.
	MaxDelay time.Duration

	// Growth scales the delay after each failed attempt.
	Growth float64

	// Jitter widens each delay by a random fraction in [-Jitter, +Jitter].
	Jitter float64

	// Retryable decides whether an error is worth another attempt. Nil means
	// IsTransient.
	Retryable func(err error) bool

	// OnRetry runs before each retry sleep with the attempt number and error.
	OnRetry func(attempt int, err error)
}

// FetchPolicy is tuned for pulling catalog images from merchant CDNs: quick
// first retry, capped well under the ingest stage timeout.
func FetchPolicy() Policy {
	return Policy{
		Attempts:  3,
		BaseDelay: 250 * time.Millisecond,
		MaxDelay:  5 * time.Second,
		Growth:    2.0,
		Jitter:    0.25,
	}
}

// PublishPolicy is tuned for event publishing, where the local sink rarely
// fails and a second try is cheap.
func PublishPolicy() Policy {
	return Policy{
		Attempts:  2,
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  time.Second,
		Growth:    2.0,
		Jitter:    0.25,
	}
}

// Do runs fn until it succeeds, the policy is exhausted, the error is not
// retryable, or the context ends. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for calls that produce a value, preserving the result of the
// successful attempt.
func DoVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = withDefaults(p)

	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}
		if !retryable(lastErr) {
			return zero, lastErr
		}
		if attempt >= p.Attempts-1 {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt+1, lastErr)
		}

		timer := time.NewTimer(delayFor(attempt, p))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, lastErr
}

func withDefaults(p Policy) Policy {
	def := FetchPolicy()
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Growth <= 0 {
		p.Growth = def.Growth
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

func delayFor(attempt int, p Policy) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Growth, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		spread := delay * p.Jitter
		delay += (rand.Float64()*2 - 1) * spread
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryLogger returns an OnRetry callback that logs each retry with the
// pipeline stage and the resource being fetched.
func RetryLogger(stage, resource string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying",
			zap.String("stage", stage),
			zap.String("resource", resource),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
