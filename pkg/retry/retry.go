package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryableFunc is one attempt of a retried operation.
type RetryableFunc func(ctx context.Context) error

// ErrorClassifier reports whether err is worth another attempt.
type ErrorClassifier func(error) bool

// RetryOptions configures Do.
type RetryOptions struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter spreads each wait by up to this fraction in either direction.
	Jitter float64
	// Classifier overrides the default of retrying everything that is not
	// marked Permanent.
	Classifier ErrorClassifier
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// DefaultOptions allows five attempts, backing off from 1s up to 30s.
func DefaultOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:     5,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		Jitter:          0.1,
	}
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err so Do gives up on it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

func (o RetryOptions) retryable(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if o.Classifier != nil {
		return o.Classifier(err)
	}
	return true
}

// Backoff returns the wait after the given failed attempt, before jitter.
func (o RetryOptions) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return o.InitialInterval
	}
	mult := o.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(o.InitialInterval) * math.Pow(mult, float64(attempt-1))
	if o.MaxInterval > 0 && d > float64(o.MaxInterval) {
		return o.MaxInterval
	}
	return time.Duration(d)
}

func (o RetryOptions) wait(attempt int) time.Duration {
	d := o.Backoff(attempt)
	if o.Jitter <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * o.Jitter
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}

// Do runs fn until it succeeds, fails permanently, runs out of attempts or
// ctx ends. Exhausting the attempts returns the last error wrapped with the
// attempt count. At least one attempt is always made.
func Do(ctx context.Context, fn RetryableFunc, opts RetryOptions) error {
	attempts := max(opts.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case !opts.retryable(err):
			return err
		case attempt >= attempts:
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err)
		}

		timer := time.NewTimer(opts.wait(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
