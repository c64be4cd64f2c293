package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/premath-kernel/issuekernel/internal/kerrors"
)

func TestLockBusySucceedsImmediatelyOnNilError(t *testing.T) {
	calls := 0
	err := LockBusy(context.Background(), DefaultPolicy(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("LockBusy() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
}

func TestLockBusyRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := LockBusy(context.Background(), Policy{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
	}, func() error {
		calls++
		if calls < 3 {
			return kerrors.New(kerrors.LeaseMutationLockBusy, "busy")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("LockBusy() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestLockBusyDoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	wantErr := kerrors.New(kerrors.LeaseInvalidPayload, "not retryable")
	err := LockBusy(context.Background(), DefaultPolicy(), func() error {
		calls++
		return wantErr
	})
	if calls != 1 {
		t.Errorf("expected exactly 1 call for a non-busy error, got %d", calls)
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("expected the permanent error to be returned unwrapped, got %v", err)
	}
}

func TestLockBusyGivesUpAfterElapsedBudget(t *testing.T) {
	calls := 0
	err := LockBusy(context.Background(), Policy{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsedTime:  20 * time.Millisecond,
	}, func() error {
		calls++
		return kerrors.New(kerrors.LeaseMutationLockBusy, "always busy")
	})
	if err == nil {
		t.Fatal("expected an error once the elapsed-time budget is exhausted")
	}
	if calls < 2 {
		t.Errorf("expected at least one retry before giving up, got %d calls", calls)
	}
}

func TestLockBusyRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := LockBusy(ctx, DefaultPolicy(), func() error {
		calls++
		return kerrors.New(kerrors.LeaseMutationLockBusy, "busy")
	})
	if err == nil {
		t.Fatal("expected an error from a pre-cancelled context")
	}
}
