// Package backoff provides a bounded exponential-backoff retry helper.
package backoff

import (
	"context"
	"errors"
	"time"
)

// Policy configures Retry.
type Policy struct {
	Initial     time.Duration // Delay before the second attempt
	Max         time.Duration // Cap on any single delay
	Multiplier  float64       // Growth factor, values below 1 are treated as 1
	MaxAttempts int           // Total attempts including the first, values below 1 are treated as 1
}

// DefaultPolicy is suitable for short transient conditions such as lock contention.
var DefaultPolicy = Policy{
	MaxAttempts: 5,
	Initial:     50 * time.Millisecond,
	Max:         time.Second,
	Multiplier:  2,
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Delay returns the wait before attempt n (1-based, n >= 2).
func (p Policy) Delay(n int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Initial)
	for i := 2; i < n; i++ {
		d *= mult
		if p.Max > 0 && d >= float64(p.Max) {
			return p.Max
		}
	}
	if p.Max > 0 && time.Duration(d) > p.Max {
		return p.Max
	}
	return time.Duration(d)
}

// Retry calls fn until it succeeds, returns a Permanent error, the attempts are
// exhausted or ctx is done. It returns the last error from fn.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for n := 1; n <= attempts; n++ {
		if n > 1 {
			timer := time.NewTimer(p.Delay(n))
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(err, ctx.Err())
			case <-timer.C:
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
	}
	return err
}
