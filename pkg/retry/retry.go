// Package retry wraps a single fallible operation in bounded retry.
// Failures classified as transient are retried with fixed or exponential
// backoff; permanent failures surface immediately; running out of budget
// surfaces an errors.ExhaustedError, distinct from a permanent failure.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/errors"
)

// Policy defines retry behavior for one class of operations.
type Policy struct {
	// MaxAttempts is the total number of tries. Zero or negative means
	// attempt once, no retry.
	MaxAttempts int
	// InitialDelay is the base delay before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps backoff growth.
	MaxDelay time.Duration
	// Multiplier grows the delay under exponential backoff.
	Multiplier float64
	// RandomizeFactor jitters the delay by +/- the given fraction.
	RandomizeFactor float64
	// Backoff selects fixed or exponential delay growth.
	Backoff config.Backoff
}

// NewPolicy creates a retry policy with exponential backoff defaults.
func NewPolicy(maxAttempts int, initialDelay time.Duration) *Policy {
	return &Policy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    initialDelay,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
		Backoff:         config.BackoffExponential,
	}
}

// FromConfig builds a policy from the pipeline retry section.
func FromConfig(rc config.RetryConfig) *Policy {
	return &Policy{
		MaxAttempts:     rc.Attempts,
		InitialDelay:    rc.Delay.Std(),
		MaxDelay:        rc.MaxDelay.Std(),
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
		Backoff:         rc.Backoff,
	}
}

// attempts normalizes the configured budget: at least one try.
func (p *Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Execute runs fn until it succeeds, fails permanently, or exhausts the
// attempt budget. Classification is delegated to the errors package:
// only transient failures are retried.
func (p *Policy) Execute(ctx context.Context, fn func() error) error {
	return p.ExecuteWithCondition(ctx, fn, errors.IsTransient)
}

// ExecuteWithCondition runs fn with retry gated on shouldRetry. The
// context is honored between attempts; cancellation surfaces as the
// context error wrapped in a connection-class error.
func (p *Policy) ExecuteWithCondition(ctx context.Context, fn func() error, shouldRetry func(error) bool) error {
	var lastErr error
	max := p.attempts()

	for attempt := 0; attempt < max; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}
		if attempt == max-1 {
			break
		}

		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), errors.ErrorTypeConnection, "retry cancelled")
		case <-timer.C:
		}
	}

	return &errors.ExhaustedError{Attempts: max, Last: lastErr}
}

// delay computes the wait before the next attempt.
func (p *Policy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	if p.Backoff == config.BackoffExponential {
		mult := p.Multiplier
		if mult <= 1 {
			mult = 2.0
		}
		d *= math.Pow(mult, float64(attempt))
	}

	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}

	if p.RandomizeFactor > 0 {
		delta := d * p.RandomizeFactor
		d = d - delta + rand.Float64()*2*delta
	}

	return time.Duration(d)
}

// Delay exposes the computed delay for an attempt, for tests and preview.
func (p *Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt)
}
