package system

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

// Ensure FileLocker implements the interface.
var _ driven.Locker = (*FileLocker)(nil)

// lockRetryDelay is the polling interval while waiting for a held lock.
const lockRetryDelay = 100 * time.Millisecond

// FileLocker hands out flock-based locks on files named .<name>.lock in dir.
// The OS releases them when the holding process exits, so a crashed
// holder never leaves a stale lock behind.
type FileLocker struct {
	dir string
}

// NewFileLocker creates a locker rooted at dir.
func NewFileLocker(dir string) *FileLocker {
	return &FileLocker{dir: dir}
}

// Path returns the lock file for name.
func (l *FileLocker) Path(name string) string {
	return filepath.Join(l.dir, "."+name+".lock")
}

// TryLock acquires name without waiting.
func (l *FileLocker) TryLock(name string) (driven.Lock, error) {
	if err := os.MkdirAll(l.dir, 0700); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	fl := flock.New(l.Path(name))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring %s lock: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrLockHeld, name)
	}
	return l.held(name, fl), nil
}

// Lock waits until name is acquired or ctx is done.
func (l *FileLocker) Lock(ctx context.Context, name string) (driven.Lock, error) {
	if err := os.MkdirAll(l.dir, 0700); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	fl := flock.New(l.Path(name))
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquiring %s lock: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrLockHeld, name)
	}
	return l.held(name, fl), nil
}

// Owner reports the pid recorded by the current holder of name, if any.
func (l *FileLocker) Owner(name string) (pid int, ok bool) {
	data, err := os.ReadFile(l.ownerPath(name))
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, false
	}
	pid, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, false
	}
	// A free lock means the owner file is left over from an exited holder.
	probe := flock.New(l.Path(name))
	if got, err := probe.TryLock(); err == nil && got {
		_ = probe.Unlock()
		return 0, false
	}
	return pid, true
}

func (l *FileLocker) ownerPath(name string) string {
	return l.Path(name) + ".owner"
}

func (l *FileLocker) held(name string, fl *flock.Flock) *fileLock {
	token := uuid.NewString()
	owner := fmt.Sprintf("%d %s\n", os.Getpid(), token)
	// The owner file is informational; failing to write it does not fail the lock.
	_ = os.WriteFile(l.ownerPath(name), []byte(owner), 0600)
	return &fileLock{fl: fl, ownerPath: l.ownerPath(name), token: token}
}

type fileLock struct {
	once      sync.Once
	fl        *flock.Flock
	ownerPath string
	token     string
	err       error
}

// Unlock releases the lock. Later calls return the first result.
func (f *fileLock) Unlock() error {
	f.once.Do(func() {
		if data, err := os.ReadFile(f.ownerPath); err == nil && strings.Contains(string(data), f.token) {
			if rmErr := os.Remove(f.ownerPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				f.err = rmErr
			}
		}
		if err := f.fl.Unlock(); err != nil {
			f.err = err
		}
	})
	return f.err
}
