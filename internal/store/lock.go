package store

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// keyLock is an exclusive, per-StoreKey file lock. Concurrent inserts for
// the same key serialize on it; different keys never contend, because
// each gets its own lock file.
type keyLock struct {
	file *os.File
}

func lockDir(root string) string {
	return filepath.Join(root, "store", ".locks")
}

// acquireKeyLock blocks until an exclusive lock on storeKey is held.
func acquireKeyLock(root, storeKey string) (*keyLock, error) {
	dir := lockDir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	path := filepath.Join(dir, storeKey+".lock")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		file.Close()
		return nil, fmt.Errorf("acquiring lock for %s: %w", storeKey, err)
	}

	return &keyLock{file: file}, nil
}

func (l *keyLock) release() error {
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return err
	}
	return closeErr
}
