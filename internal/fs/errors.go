// Package fs provides the FUSE surface of histfs.
//
// This file contains error handling utilities.
package fs

import (
	"errors"
	"os"
	"syscall"

	"histfs/internal/logging"
	"histfs/internal/store"

	"bazil.org/fuse"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")
)

// ToFuseError converts an error into the errno FUSE should report.
// Host errors keep their errno; store sentinels get a fixed mapping and
// anything unrecognised becomes EIO.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		errLogger.Trace("Passing through errno %d: %v", errno, err)
		return fuse.Errno(errno)
	}

	errLogger.Trace("Converting error to FUSE error: %v", err)
	switch {
	case errors.Is(err, store.ErrInvalidPath):
		return fuse.Errno(syscall.EINVAL)
	case errors.Is(err, store.ErrSnapshotsExhausted):
		errLogger.Warn("Snapshot allocation exhausted: %v", err)
		return fuse.Errno(syscall.EIO)
	case errors.Is(err, os.ErrNotExist):
		return fuse.Errno(syscall.ENOENT)
	case errors.Is(err, os.ErrPermission):
		return fuse.Errno(syscall.EACCES)
	case errors.Is(err, os.ErrExist):
		return fuse.Errno(syscall.EEXIST)
	default:
		errLogger.Debug("Unknown error type, returning EIO: %v", err)
		return fuse.Errno(syscall.EIO)
	}
}
