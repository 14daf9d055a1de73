// Package runlock provides per-feature run locks shared by every autocrew
// process of a repository. A lock is an flock on a file under the data
// directory; the kernel drops it when the holding process exits.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/runoshun/autocrew/internal/domain"
)

// Locker implements domain.RunLocker with advisory file locks.
type Locker struct {
	dataDir string
}

// New creates a Locker for the data directory.
func New(dataDir string) *Locker {
	return &Locker{dataDir: dataDir}
}

// TryLock takes the run lock of a feature without blocking.
// Locks are bound to the open file, so two Lockers in one process exclude each other.
func (l *Locker) TryLock(featureID string) (func(), error) {
	path := domain.RunLockPath(l.dataDir, featureID)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open run lock: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, domain.ErrRunActive
		}
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
			_ = f.Close()
		})
	}, nil
}
