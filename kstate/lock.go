package kstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// ErrLocked is returned when another process holds the state directory.
var ErrLocked = errors.New("state directory is locked")

// DirectoryLock gives one process exclusive use of a state directory through
// an flock(2) on <dir>/.lock. The lock is advisory.
type DirectoryLock struct {
	lockFilePath string
	lockFile     *os.File
}

// NewDirectoryLock returns an unlocked lock for dir.
func NewDirectoryLock(dir string) *DirectoryLock {
	return &DirectoryLock{
		lockFilePath: filepath.Join(dir, ".lock"),
	}
}

// Lock creates the directory if needed and acquires the lock without
// blocking.
func (l *DirectoryLock) Lock() error {
	if l.lockFile != nil {
		return fmt.Errorf("lock %s already held by this instance", l.lockFilePath)
	}

	if err := os.MkdirAll(filepath.Dir(l.lockFilePath), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	file, err := os.OpenFile(l.lockFilePath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		return fmt.Errorf("%w: %s: %w", ErrLocked, l.lockFilePath, err)
	}

	l.lockFile = file
	return nil
}

// Unlock releases the lock and removes the lock file. Unlocking an unlocked
// DirectoryLock is a no-op.
func (l *DirectoryLock) Unlock() error {
	if l.lockFile == nil {
		return nil
	}

	// Clear first so IsLocked never reports a half-released lock.
	file := l.lockFile
	l.lockFile = nil

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_UN); err != nil {
		file.Close()
		return fmt.Errorf("release lock: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	if err := os.Remove(l.lockFilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// IsLocked reports whether this instance holds the lock.
func (l *DirectoryLock) IsLocked() bool {
	return l.lockFile != nil
}
