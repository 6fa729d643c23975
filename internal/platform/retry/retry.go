// Package retry holds the transaction retry policy shared by every store backend.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	gax "github.com/googleapis/gax-go/v2"
)

const (
	defaultMaxAttempts = 5
	defaultInitial     = 50 * time.Millisecond
	defaultMax         = 2 * time.Second
	defaultMultiplier  = 2.0
	defaultTimeout     = 15 * time.Second
)

// Policy bounds how often a conflicting transaction is re-run and how long to wait in between.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Timeout caps a whole transaction including retries. Zero leaves the caller deadline alone.
	Timeout time.Duration
}

// DefaultPolicy returns the policy used when configuration is silent.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    defaultMaxAttempts,
		InitialBackoff: defaultInitial,
		MaxBackoff:     defaultMax,
		Multiplier:     defaultMultiplier,
		Timeout:        defaultTimeout,
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	return p
}

// Backoff returns a fresh jittered exponential backoff for the policy.
func (p Policy) Backoff() *gax.Backoff {
	p = p.normalized()
	return &gax.Backoff{
		Initial:    p.InitialBackoff,
		Max:        p.MaxBackoff,
		Multiplier: p.Multiplier,
	}
}

// Attempts returns the effective attempt budget.
func (p Policy) Attempts() int {
	return p.normalized().MaxAttempts
}

// ExhaustedError reports that every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs fn until it succeeds, returns a non-retryable error, the attempt budget runs out or ctx ends.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("retry: function is nil")
	}
	p = p.normalized()

	if p.Timeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > p.Timeout {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
	}

	backoff := p.Backoff()
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable == nil || !retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := gax.Sleep(ctx, backoff.Pause()); err != nil {
			return err
		}
	}
	return &ExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}
