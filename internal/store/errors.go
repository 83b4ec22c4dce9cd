package store

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrSnapshotsExhausted indicates every candidate version number was
	// taken before the allocator ran out of attempts.
	ErrSnapshotsExhausted = errors.New("no free snapshot number")

	// ErrInvalidPath indicates a path that cannot name a file, such as the root.
	ErrInvalidPath = errors.New("invalid path")
)

// Error wraps store errors with context about the operation and affected
// logical path.
type Error struct {
	Op   string // Operation that failed (e.g., "write", "snapshot")
	Path string // Affected logical path
	Err  error  // Underlying error
}

// Error implements the error interface, providing a formatted error message
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("operation %s on %s failed: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, lp LogicalPath, err error) *Error {
	return &Error{Op: op, Path: lp.String(), Err: err}
}

// Common operation names for consistent logging and error reporting
const (
	OpRead     = "read"
	OpWrite    = "write"
	OpTruncate = "truncate"
	OpCreate   = "create"
	OpSnapshot = "snapshot"
	OpSync     = "fsync"
)

// IsTemporary returns true if the error is likely temporary and the same
// operation could succeed if retried unchanged.
func IsTemporary(err error) bool {
	switch {
	case errors.Is(err, syscall.EINTR):
		return true
	case errors.Is(err, syscall.EAGAIN):
		return true
	case errors.Is(err, syscall.EBUSY):
		return true
	default:
		return false
	}
}
