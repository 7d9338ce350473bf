// Package lock serializes table rewrites between pipeline runs on one host
// using flock(2) on a lock file next to the tables.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

// FileLockManager implements domain.LockManager with one lock file per key
// under dir. The ttl is ignored: the kernel drops the lock when the process
// exits, so a crashed run never leaves a stale lock behind.
type FileLockManager struct {
	dir string
}

// NewFileLockManager creates a FileLockManager that keeps its lock files in
// dir.
func NewFileLockManager(dir string) *FileLockManager {
	return &FileLockManager{dir: dir}
}

func (m *FileLockManager) path(key string) string {
	return filepath.Join(m.dir, "."+key+".lock")
}

// Acquire takes an exclusive non-blocking lock for key. It returns
// domain.ErrLockHeld when another process holds it.
func (m *FileLockManager) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("lock: create dir %s: %w", m.dir, err)
	}

	p := m.path(key)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lock: open %s: %w", p, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("lock: %s: %w", key, domain.ErrLockHeld)
		}
		return nil, fmt.Errorf("lock: flock %s: %w", p, err)
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
			_ = f.Close()
		})
	}
	return unlock, nil
}

// Chain acquires every manager in order and releases them in reverse. It lets
// the local lock be combined with a distributed one.
type Chain []domain.LockManager

// Acquire takes key on every manager. If any acquisition fails the locks
// already taken are released.
func (c Chain) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	unlocks := make([]func(), 0, len(c))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, lm := range c {
		unlock, err := lm.Acquire(ctx, key, ttl)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

var (
	_ domain.LockManager = (*FileLockManager)(nil)
	_ domain.LockManager = Chain(nil)
)
