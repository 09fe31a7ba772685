package spltransfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default polling bounds: ten reads five seconds apart.
const (
	DefaultPollAttempts = 10
	DefaultPollInterval = 5 * time.Second
)

// ErrNotReady is returned (possibly wrapped) by a poll body to ask for another attempt
var ErrNotReady = errors.New("not ready")

// Policy bounds a polling loop.
type Policy struct {
	// MaxAttempts is the total number of times the body runs. Values below 1 mean 1.
	MaxAttempts int
	// Interval is the fixed pause between attempts.
	Interval time.Duration
	// Backoff, when set, replaces the fixed interval with an exponential schedule
	// starting at Interval. MaxAttempts still bounds the loop.
	Backoff bool
}

// DefaultPolicy returns the ten-attempt, five-second policy
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultPollAttempts, Interval: DefaultPollInterval}
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) newBackOff() backoff.BackOff {
	if !p.Backoff {
		return backoff.NewConstantBackOff(p.Interval)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Interval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Poll runs body until it succeeds, fails with an error other than ErrNotReady,
// or the attempt budget is spent. Exhaustion yields ErrRetryExhausted wrapping
// the last not-ready error. Cancellation of ctx interrupts the wait between
// attempts and is returned as is.
func Poll[T any](ctx context.Context, policy Policy, body func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	schedule := policy.newBackOff()
	maxAttempts := policy.attempts()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := body(ctx)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrNotReady) {
			return zero, err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}

		wait := schedule.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, err
		}
	}

	return zero, WrapLedgerError(ErrCodeRetryExhausted,
		fmt.Sprintf("gave up after %d attempts", maxAttempts), lastErr)
}

// notReady marks err as a transient condition for Poll
func notReady(err error) error {
	return fmt.Errorf("%w: %w", ErrNotReady, err)
}

// sleep pauses for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
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
