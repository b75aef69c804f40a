package workpool

import (
	"errors"
	"math"
	"time"
)

// RetryPolicy is an exponential backoff schedule. Attempt n (1-based) that
// fails is followed by a delay of InitialBackoff * Base^(n-1), up to
// MaxAttempts attempts in total.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Base           float64
}

// DefaultRetryPolicy is 5 attempts starting at 250ms, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialBackoff: 250 * time.Millisecond, Base: 2}
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff < 0 {
		p.InitialBackoff = 0
	}
	if p.Base < 1 {
		p.Base = 1
	}
	return p
}

// Backoff returns the delay after failed attempt n.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialBackoff) * math.Pow(p.Base, float64(attempt-1))
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the job fails immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
