//go:build !unix && !windows

package lockfile

import "os"

// flockExclusiveNonBlocking is a no-op on platforms without an advisory
// file-locking primitive (e.g. wasm); such deployments are single-process
// by construction.
func flockExclusiveNonBlocking(f *os.File) error {
	return nil
}

func flockUnlock(f *os.File) error {
	return nil
}
