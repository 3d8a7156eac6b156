package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Schedule returns the delay before each attempt of a task. The first
// attempt runs immediately.
func Schedule(params BackoffParams, policy BackoffPolicy) []time.Duration {
	schedule := make([]time.Duration, policy.attempts())
	for i := 1; i < len(schedule); i++ {
		p := params
		p.AttemptIndex = i
		schedule[i] = ComputeBackoff(p, policy)
	}
	return schedule
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
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

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Do runs fn until it succeeds, returns a permanent error, ctx is done or
// the policy's attempts are used up. fn receives the zero-based attempt
// index. A nil sleep uses Sleep.
func Do(ctx context.Context, params BackoffParams, policy BackoffPolicy, sleep SleepFunc, fn func(ctx context.Context, attempt int) error) error {
	if sleep == nil {
		sleep = Sleep
	}

	var err error
	for attempt, delay := range Schedule(params, policy) {
		if attempt > 0 {
			if serr := sleep(ctx, delay); serr != nil {
				return fmt.Errorf("retry %s: %w (last error: %w)", params.Task, serr, err)
			}
		}
		if err = fn(ctx, attempt); err == nil {
			return nil
		}

		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("retry %s: %d attempts: %w", params.Task, policy.attempts(), err)
}

func (p BackoffPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}
