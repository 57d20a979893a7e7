// Package retry retries operations with exponential backoff and jitter.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/bardlex/lifpow/pkg/errors"
	"github.com/bardlex/lifpow/pkg/log"
)

// Policy bounds how often and how quickly an operation is retried.
type Policy struct {
	Attempts   int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter is the largest fraction of a delay added at random.
	Jitter float64
}

// Policies for the services lifpow talks to.
var (
	// NodePolicy covers node RPC reads.
	NodePolicy = Policy{Attempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 1.5, Jitter: 0.1}
	// SubmitPolicy covers block submission, where a late retry is worthless.
	SubmitPolicy = Policy{Attempts: 2, BaseDelay: 50 * time.Millisecond, MaxDelay: 200 * time.Millisecond, Multiplier: 1.5}
	// BrokerPolicy covers Kafka reads and writes.
	BrokerPolicy = Policy{Attempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 1.5, Jitter: 0.1}
	// StorePolicy covers PostgreSQL and Redis.
	StorePolicy = Policy{Attempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 3 * time.Second, Multiplier: 2, Jitter: 0.1}
)

// Delay returns the wait before retry number attempt, counted from 1.
func (p Policy) Delay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	delay = min(delay, float64(p.MaxDelay))
	if p.Jitter > 0 {
		delay += delay * p.Jitter * rand.Float64()
	}
	return time.Duration(delay)
}

// Retrier runs operations under a Policy and logs every failed attempt it
// retries.
type Retrier struct {
	policy Policy
	logger *log.Logger
}

// New returns a Retrier for policy.
func New(policy Policy, logger *log.Logger) *Retrier {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &Retrier{policy: policy, logger: logger}
}

// Policy returns the policy r retries under.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy
// runs out of attempts.
func (r *Retrier) Do(ctx context.Context, operation string, fn func() error) error {
	_, err := Value(ctx, r, operation, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Value is Do for operations that return a result. The error returned after
// the last attempt keeps the type of the final failure and carries the
// network and job found in ctx.
func Value[T any](ctx context.Context, r *Retrier, operation string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !errors.IsRetryable(err) || attempt == r.policy.Attempts {
			break
		}

		delay := r.policy.Delay(attempt)
		r.logger.WithContext(ctx).Debug("retrying operation",
			"operation", operation,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	if !errors.IsRetryable(lastErr) {
		return zero, lastErr
	}

	return zero, errors.Wrap(lastErr, errors.TypeOf(lastErr), operation,
		"operation failed after maximum retry attempts").
		WithContext("attempts", r.policy.Attempts).
		WithValues(log.ContextValues(ctx))
}
