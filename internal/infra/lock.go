package infra

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFileName = "screentimed.lock"

// InstanceLock guards against two daemons tracking the same data directory.
type InstanceLock struct {
	lock *flock.Flock
}

// NewInstanceLock prepares a lock file inside the data directory.
func NewInstanceLock(dataDir string) *InstanceLock {
	return &InstanceLock{lock: flock.New(filepath.Join(dataDir, lockFileName))}
}

// Acquire takes the lock without blocking. A held lock means another daemon
// instance owns this data directory.
func (l *InstanceLock) Acquire() error {
	ok, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another instance is already running (lock %s held)", l.lock.Path())
	}
	return nil
}

// Release drops the lock at shutdown.
func (l *InstanceLock) Release() {
	_ = l.lock.Unlock()
}
