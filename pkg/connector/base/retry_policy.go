package base

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ajitpratap0/orbit/pkg/errors"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy defines retry behavior for batch-level connector calls
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64

	// Sleep waits between attempts; tests replace it to avoid real delays
	Sleep SleepFunc
	// OnRetry is called before each wait
	OnRetry func(retry int, delay time.Duration, err error)
}

// DefaultRetryPolicy retries three times after 1s, 2s and 4s, capped at 30s
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// NoRetryPolicy returns a policy that doesn't retry
func NoRetryPolicy() *RetryPolicy {
	return &RetryPolicy{}
}

// Execute runs fn, retrying every error
func (rp *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	return rp.ExecuteWithCondition(ctx, fn, func(error) bool { return true })
}

// ExecuteRetryable runs fn, retrying only transient connector failures
func (rp *RetryPolicy) ExecuteRetryable(ctx context.Context, fn func() error) error {
	return rp.ExecuteWithCondition(ctx, fn, errors.IsRetryable)
}

// ExecuteWithCondition runs fn with retry only if condition is met. When
// retries run out the last error is returned wrapped with its own type and
// an "attempts" detail.
func (rp *RetryPolicy) ExecuteWithCondition(ctx context.Context, fn func() error, shouldRetry func(error) bool) error {
	b := rp.backOff()
	b.Reset()
	sleep := rp.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	attempts := 0
	for {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if !shouldRetry(err) {
			return err
		}
		if attempts > rp.MaxRetries {
			return errors.Wrap(err, errors.GetType(err), fmt.Sprintf("all %d attempts failed", attempts)).
				WithDetail("attempts", attempts)
		}

		delay := b.NextBackOff()
		if rp.OnRetry != nil {
			rp.OnRetry(attempts, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return fmt.Errorf("retry cancelled: %w", serr)
		}
	}
}

// GetDelay returns the delay before the given retry, counting from zero
func (rp *RetryPolicy) GetDelay(retry int) time.Duration {
	b := rp.backOff()
	b.Reset()
	var d time.Duration
	for i := 0; i <= retry; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Delays lists the waits of a fully exhausted run
func (rp *RetryPolicy) Delays() []time.Duration {
	out := make([]time.Duration, 0, rp.MaxRetries)
	b := rp.backOff()
	b.Reset()
	for i := 0; i < rp.MaxRetries; i++ {
		out = append(out, b.NextBackOff())
	}
	return out
}

func (rp *RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = rp.InitialDelay
	b.MaxInterval = rp.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = rp.InitialDelay
	}
	b.Multiplier = rp.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.RandomizationFactor = rp.RandomizeFactor
	return b
}

// Clone creates a copy of the retry policy
func (rp *RetryPolicy) Clone() *RetryPolicy {
	policy := *rp
	return &policy
}

// WithMaxRetries returns a new policy with updated retry budget
func (rp *RetryPolicy) WithMaxRetries(retries int) *RetryPolicy {
	policy := rp.Clone()
	policy.MaxRetries = retries
	return policy
}

// WithDelay returns a new policy with updated delays
func (rp *RetryPolicy) WithDelay(initial, max time.Duration) *RetryPolicy {
	policy := rp.Clone()
	policy.InitialDelay = initial
	policy.MaxDelay = max
	return policy
}

// WithSleep returns a new policy using the given sleep function
func (rp *RetryPolicy) WithSleep(sleep SleepFunc) *RetryPolicy {
	policy := rp.Clone()
	policy.Sleep = sleep
	return policy
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
