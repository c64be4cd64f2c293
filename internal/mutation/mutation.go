// Package mutation implements the lock-guarded read-modify-write wrapper
// around the issue store: every mutating operation acquires the issue
// memory's exclusive advisory lock, loads the current on-disk state,
// hands it to a caller-supplied transform, and — only if the transform
// reports a change — saves the result back before releasing the lock.
// Lock contention is reported to the caller immediately rather than
// retried internally, so the caller can choose its own backoff policy
// (see the retry package).
package mutation

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/afero"

	"github.com/premath-kernel/issuekernel/internal/issuestore"
	"github.com/premath-kernel/issuekernel/internal/kerrors"
	"github.com/premath-kernel/issuekernel/internal/lockfile"
	"github.com/premath-kernel/issuekernel/internal/telemetry"
)

// Transform mutates store in place and reports whether anything actually
// changed; an unchanged result skips the save entirely so a read-only
// caller (or one whose preconditions already held) never takes a write.
type Transform func(store *issuestore.Store) (changed bool, err error)

// Guard binds a filesystem and issue log path for repeated guarded
// mutations against the same issue memory.
type Guard struct {
	Fs   afero.Fs
	Path string

	// Telemetry, Action, and ActionID are optional. When Telemetry is
	// nil, Mutate records nothing. When set, Action labels the
	// mutation-guard span and outcome counter (e.g. "issue.claim") and
	// ActionID labels the transport dispatch counter/histogram (e.g.
	// "transport.action.issue_claim").
	Telemetry *telemetry.Provider
	Action    string
	ActionID  string
}

// New returns a Guard for the issue log at path on fs, with telemetry
// disabled. Use WithTelemetry to record mutation spans and dispatch
// metrics against a caller-supplied Provider.
func New(fs afero.Fs, path string) *Guard {
	return &Guard{Fs: fs, Path: path}
}

// WithTelemetry returns a copy of g that records a mutation span and
// outcome counter (tagged action) and a transport dispatch counter and
// latency histogram (tagged actionID) on every Mutate call. A nil tel
// is a no-op, matching New's untelemetered default.
func (g *Guard) WithTelemetry(tel *telemetry.Provider, action, actionID string) *Guard {
	cp := *g
	cp.Telemetry = tel
	cp.Action = action
	cp.ActionID = actionID
	return &cp
}

// lockPath derives the sibling lock file path for an issue log.
func lockPath(issuesPath string) string {
	return issuesPath + ".lock"
}

// Mutate acquires the exclusive lock, loads the store, runs transform,
// saves the result if changed, and always releases the lock before
// returning. The returned store reflects the post-transform state
// regardless of whether it was saved.
func (g *Guard) Mutate(transform Transform) (store *issuestore.Store, changed bool, err error) {
	start := time.Now()
	ctx := context.Background()
	outcome := "committed"

	if g.Telemetry != nil {
		spanCtx, endSpan := g.startSpan(ctx)
		ctx = spanCtx
		defer func() {
			endSpan()
			g.Telemetry.RecordMutationOutcome(ctx, g.Action, outcome)
			g.Telemetry.RecordDispatch(ctx, g.ActionID, start)
		}()
	}

	lock, err := lockfile.AcquireExclusive(lockPath(g.Path))
	if err != nil {
		if errors.Is(err, lockfile.ErrBusy) {
			outcome = "busy"
			return nil, false, kerrors.Wrap(kerrors.LeaseMutationLockBusy, err)
		}
		outcome = "busy"
		return nil, false, kerrors.Wrap(kerrors.LeaseMutationLockIO, err)
	}
	defer lock.Release()

	loaded, err := loadOrInit(g.Fs, g.Path)
	if err != nil {
		outcome = "noop"
		return nil, false, err
	}

	changed, err = transform(loaded)
	if err != nil {
		outcome = "noop"
		return nil, false, err
	}

	if changed {
		if err := issuestore.Save(g.Fs, g.Path, loaded); err != nil {
			outcome = "noop"
			return nil, false, err
		}
	} else {
		outcome = "noop"
	}

	return loaded, changed, nil
}

// startSpan starts the mutation-guard span for this Guard's Action and
// returns the span-carrying context plus a function that ends it.
func (g *Guard) startSpan(ctx context.Context) (context.Context, func()) {
	spanCtx, span := g.Telemetry.StartMutationSpan(ctx, g.Action)
	return spanCtx, span.End
}

// View acquires the lock, loads the store, and hands it to a read-only
// callback, releasing the lock afterward without ever writing. Used by
// read operations that must not race a concurrent mutation's rename.
func (g *Guard) View(callback func(store *issuestore.Store) error) error {
	lock, err := lockfile.AcquireExclusive(lockPath(g.Path))
	if err != nil {
		if errors.Is(err, lockfile.ErrBusy) {
			return kerrors.Wrap(kerrors.LeaseMutationLockBusy, err)
		}
		return kerrors.Wrap(kerrors.LeaseMutationLockIO, err)
	}
	defer lock.Release()

	loaded, err := loadOrInit(g.Fs, g.Path)
	if err != nil {
		return err
	}
	return callback(loaded)
}

// loadOrInit loads the issue log, treating a not-yet-created file as an
// empty store rather than an error, so the very first mutation against a
// fresh repository can still proceed.
func loadOrInit(fs afero.Fs, path string) (*issuestore.Store, error) {
	if !issuestore.Exists(fs, path) {
		return issuestore.New(), nil
	}
	return issuestore.Load(fs, path)
}
