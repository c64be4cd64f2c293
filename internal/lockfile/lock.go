// Package lockfile provides advisory exclusive file locking for the
// issue-store mutation guard. A Lock wraps the lock file's
// *os.File and the platform flock primitive; acquisition never blocks —
// contention is reported to the caller as ErrBusy so the mutation guard
// can fail fast into lease_mutation_lock_busy.
package lockfile

import (
	"errors"
	"fmt"
	"os"
)

// ErrBusy is returned by AcquireExclusive when another holder already owns
// the lock.
var ErrBusy = errors.New("lockfile: busy, held by another process")

// Lock is a held advisory exclusive lock on a single file path.
type Lock struct {
	path string
	file *os.File
}

// Path returns the filesystem path backing the lock, for error messages.
func (l *Lock) Path() string { return l.path }

// AcquireExclusive opens (creating if necessary) the lock file at path and
// attempts a non-blocking exclusive flock. On contention it returns ErrBusy
// wrapped with the path; any other open/flock failure is returned as-is.
func AcquireExclusive(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}

	if err := flockExclusiveNonBlocking(f); err != nil {
		closeErr := f.Close()
		if errors.Is(err, ErrBusy) {
			return nil, fmt.Errorf("%s: %w", path, ErrBusy)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("lockfile: flock %s: %w (close: %v)", path, err, closeErr)
		}
		return nil, fmt.Errorf("lockfile: flock %s: %w", path, err)
	}

	return &Lock{path: path, file: f}, nil
}

// Release unlocks and closes the backing file. Safe to call once; the
// mutation guard always calls it via defer regardless of the guarded
// transform's outcome, including on panic.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := flockUnlock(l.file)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return fmt.Errorf("lockfile: unlock %s: %w", l.path, unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("lockfile: close %s: %w", l.path, closeErr)
	}
	return nil
}
