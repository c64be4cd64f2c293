// Package retry provides the caller-side backoff policy for retrying a
// mutation rejected with lease_mutation_lock_busy. The mutation guard
// itself never retries internally — lock contention is a single
// immediate failure — so any caller that wants to wait out a concurrent
// holder opts in explicitly via this package.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/premath-kernel/issuekernel/internal/kerrors"
)

// Policy configures LockBusy's exponential backoff.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultPolicy retries for up to five seconds, starting at 20ms and
// backing off to a 500ms ceiling — tuned for a lock held only for the
// duration of a single read-modify-write cycle, not a long-running task.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		MaxElapsedTime:  5 * time.Second,
	}
}

// LockBusy retries op until it succeeds, returns a non-lock-busy error, or
// the policy's elapsed-time budget is exhausted. Any error other than
// lease_mutation_lock_busy is returned immediately without retrying.
func LockBusy(ctx context.Context, policy Policy, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialInterval
	bo.MaxInterval = policy.MaxInterval
	bo.MaxElapsedTime = policy.MaxElapsedTime

	withCtx := backoff.WithContext(bo, ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if class, ok := kerrors.ClassOf(err); ok && class == kerrors.LeaseMutationLockBusy {
			return err // retryable
		}
		return backoff.Permanent(err)
	}, withCtx)
}
