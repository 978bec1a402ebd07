//go:build !unix

package singleton

import "fmt"

// FileLock is a no-op placeholder on platforms without an advisory file
// lock implementation here.
type FileLock struct{}

// Supported reports whether the host platform supports advisory file
// locks via this implementation; false here, so callers fall back to
// a warning-and-proceed path.
func Supported() bool { return false }

// Acquire always fails on unsupported platforms; callers should check
// Supported() first.
func Acquire(path string) (*FileLock, error) {
	return nil, fmt.Errorf("advisory file locks are not supported on this platform")
}

// Release is a no-op.
func (l *FileLock) Release() error { return nil }
