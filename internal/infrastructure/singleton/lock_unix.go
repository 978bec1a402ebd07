//go:build unix

// Package singleton implements an advisory exclusive file lock, used to
// enforce one worker per host on platforms that support it.
package singleton

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileLock is an advisory exclusive lock on a single file path.
type FileLock struct {
	path string
	file *os.File
}

// Supported reports whether the host platform supports advisory file
// locks via this implementation.
func Supported() bool { return true }

// Acquire opens (creating if necessary) and exclusively, non-blockingly
// locks path. Failure to acquire should be treated as fatal by the caller.
func Acquire(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("acquire exclusive lock on %s: %w", path, err)
	}

	return &FileLock{path: path, file: f}, nil
}

// Release unlocks and closes the underlying file.
func (l *FileLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("release lock on %s: %w", l.path, err)
	}
	return l.file.Close()
}
