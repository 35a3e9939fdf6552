// Package pidfile implements singleton enforcement through an exclusive, non-blocking advisory lock on a file.
//
// The advisory lock is the only source of truth for "is another instance running". The process identifier that is
// written into the file is a convenience artifact for humans and tools that want to signal the holder. A crashed
// holder loses its lock when the OS reclaims its descriptors, so a stale pid file never blocks a restart.
package pidfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
)

const defaultDirPerm = 0o755

var (
	// ErrAlreadyRunning is returned by Acquire when another live process holds the lock.
	ErrAlreadyRunning = errors.New("another instance is already running")

	// ErrLockAcquisition is returned by Acquire when the lock could not be attempted at all (permissions, bad path).
	ErrLockAcquisition = errors.New("lock file acquisition failed")

	// ErrDirectory is returned by EnsureDirectory for every failure other than "already exists".
	ErrDirectory = errors.New("lock directory creation failed")
)

// LockFile is a held advisory lock together with the pid that was recorded in it.
type LockFile struct {
	path  string
	pid   int
	lock  *flock.Flock
	held  atomic.Bool
	once  sync.Once
	onErr error
}

// EnsureDirectory creates dir recursively. An existing directory is not an error.
func EnsureDirectory(dir string) error {
	if dir == "" {
		return nil
	}

	err := os.MkdirAll(dir, defaultDirPerm)
	if err == nil || errors.Is(err, fs.ErrExist) {
		return nil
	}

	return fmt.Errorf("%w: %s: %w", ErrDirectory, dir, err)
}

// Acquire opens (creating if absent) the file at path and tries to place an exclusive, non-blocking lock on it.
// Contention yields ErrAlreadyRunning and leaves the file untouched. On success the file is truncated and the
// caller's pid is written to it as decimal text.
func Acquire(path string) (*LockFile, error) {
	fl := flock.New(path)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLockAcquisition, path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s is locked", ErrAlreadyRunning, path)
	}

	pid := os.Getpid()
	if err := writePID(path, pid); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("%w: %s: %w", ErrLockAcquisition, path, err)
	}

	l := &LockFile{
		path: path,
		pid:  pid,
		lock: fl,
	}
	l.held.Store(true)

	return l, nil
}

func writePID(path string, pid int) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}

	if _, err := f.WriteString(strconv.Itoa(pid)); err != nil {
		_ = f.Close()
		return err
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

// Release deletes the file and drops the lock. It is safe to call more than once, on a nil receiver, and after the
// file has already been removed by someone else.
//
// The file is removed before unlocking, so a new instance can never lock an inode that is about to be unlinked.
func (l *LockFile) Release() error {
	if l == nil {
		return nil
	}

	l.once.Do(func() {
		var errs []error
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
		if err := l.lock.Unlock(); err != nil {
			errs = append(errs, err)
		}
		l.held.Store(false)
		l.onErr = errors.Join(errs...)
	})

	return l.onErr
}

// Path returns the lock file path.
func (l *LockFile) Path() string { return l.path }

// Held reports whether the lock is still held by this process.
func (l *LockFile) Held() bool { return l != nil && l.held.Load() }

// OwnerPID returns the pid that was written into the file on acquisition.
func (l *LockFile) OwnerPID() int { return l.pid }

// ReadPID reads the pid recorded in the file at path. It says nothing about whether that process holds the lock;
// use Probe for that.
func ReadPID(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}

	return pid, nil
}

// Probe reports whether some process currently holds the lock at path.
// It never deletes the file and does not create it when it is missing. The check takes the lock for an instant, so a
// daemon whose Acquire lands in that instant fails with ErrAlreadyRunning.
func Probe(path string) (bool, error) {
	fl := flock.New(path, flock.SetFlag(os.O_RDONLY))
	locked, err := fl.TryLock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("probe %s: %w", path, err)
	}
	if !locked {
		return true, nil
	}

	return false, fl.Unlock()
}
