package depcache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// LockFileName is the advisory lock file inside the cache directory.
// Engines hold it shared while open; [LockDir] takes it exclusively.
const LockFileName = ".lock"

// ErrCacheInUse indicates [LockDir] found an open engine on the directory.
var ErrCacheInUse = errors.New("depcache: cache directory in use")

// DirLock is a held flock(2) on a cache directory's lock file.
type DirLock struct {
	mu   sync.Mutex
	file *os.File
}

// LockDir takes the cache directory exclusively without waiting, for
// maintenance that must not race a running engine (such as deleting
// entries). It fails with [ErrCacheInUse] while any engine has dir open.
func LockDir(dir string) (*DirLock, error) {
	return lockDir(dir, unix.LOCK_EX|unix.LOCK_NB)
}

func lockDir(dir string, how int) (*DirLock, error) {
	path := filepath.Join(dir, LockFileName)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", dir, err)
	}

	err = flockRetryEINTR(int(f.Fd()), how)
	if errors.Is(err, unix.EWOULDBLOCK) {
		_ = f.Close()

		return nil, fmt.Errorf("%w: %s", ErrCacheInUse, dir)
	}

	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("lock %s: %w", dir, err)
	}

	return &DirLock{file: f}, nil
}

// Close releases the lock. It is idempotent.
func (l *DirLock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	unlockErr := flockRetryEINTR(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil {
		unlockErr = fmt.Errorf("unlocking %s: %w", LockFileName, unlockErr)
	}

	return errors.Join(unlockErr, closeErr)
}

func flockRetryEINTR(fd int, how int) error {
	for {
		err := unix.Flock(fd, how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}
