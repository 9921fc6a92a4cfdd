package registry

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockFileName is the well-known lock file spec.md §6 names:
// "<root>/.failovercache — lock file; its presence and lock state gate
// startup."
const lockFileName = ".failovercache"

// RootLock holds the process-wide exclusive lock on a file-backed
// deployment's root directory, acquired for the server process's
// entire lifetime (spec.md §4.3).
type RootLock struct {
	file *os.File
}

// AcquireRootLock verifies root is empty except for the lock file (or
// entirely absent, in which case it is created), then takes an
// exclusive, non-blocking flock on the lock file. Startup must abort
// if either check fails (spec.md §4.3/§6).
func AcquireRootLock(root string) (*RootLock, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("registry: create root dir: %w", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("registry: read root dir: %w", err)
	}
	for _, e := range entries {
		if e.Name() != lockFileName {
			return nil, fmt.Errorf("registry: root dir %q is not empty (found %q)", root, e.Name())
		}
	}

	lockPath := root + string(os.PathSeparator) + lockFileName
	f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("registry: open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("registry: acquire exclusive lock on %q: %w", lockPath, err)
	}

	return &RootLock{file: f}, nil
}

// Release unlocks and closes the lock file. It does not remove the
// lock file itself; callers that want an empty root on shutdown call
// EmptyRootDir first.
func (l *RootLock) Release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("registry: release lock: %w", err)
	}
	return l.file.Close()
}

// EmptyRootDir removes every entry under root except the lock file
// itself, matching spec.md §4.3 "On shutdown, the root directory is
// emptied."
func EmptyRootDir(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("registry: read root dir for cleanup: %w", err)
	}
	for _, e := range entries {
		if e.Name() == lockFileName {
			continue
		}
		if err := os.RemoveAll(root + string(os.PathSeparator) + e.Name()); err != nil {
			return fmt.Errorf("registry: remove %q: %w", e.Name(), err)
		}
	}
	return nil
}
