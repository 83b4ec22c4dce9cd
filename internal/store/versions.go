package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"histfs/internal/logging"
	"histfs/internal/metrics"
)

var (
	versionLogger = logging.GetLogger().WithPrefix("versions")
)

// DefaultMaxAttempts bounds how many candidate numbers one allocation tries.
const DefaultMaxAttempts = 128

// VersionAllocator numbers and creates snapshot files next to a head file.
//
// Snapshot n of head path B lives at B + separator + decimal(n). A number
// is claimed by creating its file with O_EXCL, so two creators can never
// end up sharing one, whether they live in this process or not.
type VersionAllocator struct {
	separator   string
	maxAttempts int
	metrics     *metrics.Metrics

	mu   sync.Mutex
	last map[string]uint64 // highest number known to be taken, per head path
}

// NewVersionAllocator creates an allocator. maxAttempts <= 0 selects
// DefaultMaxAttempts.
func NewVersionAllocator(separator string, maxAttempts int, m *metrics.Metrics) *VersionAllocator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &VersionAllocator{
		separator:   separator,
		maxAttempts: maxAttempts,
		metrics:     m,
		last:        make(map[string]uint64),
	}
}

// Separator returns the string placed between a head name and its number.
func (va *VersionAllocator) Separator() string {
	return va.separator
}

// SnapshotPath returns the backing path of snapshot n of headPath.
func (va *VersionAllocator) SnapshotPath(headPath string, n uint64) string {
	return headPath + va.separator + strconv.FormatUint(n, 10)
}

// parseVersion reports the version number encoded in name if name is a
// snapshot of the head file called base.
func (va *VersionAllocator) parseVersion(base, name string) (uint64, bool) {
	prefix := base + va.separator
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	digits := name[len(prefix):]
	if digits == "" || digits[0] == '0' {
		return 0, false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Versions lists the snapshot numbers present for headPath in ascending order.
func (va *VersionAllocator) Versions(headPath string) ([]uint64, error) {
	entries, err := os.ReadDir(filepath.Dir(headPath))
	if err != nil {
		return nil, err
	}

	base := filepath.Base(headPath)
	var versions []uint64
	for _, entry := range entries {
		if n, ok := va.parseVersion(base, entry.Name()); ok {
			versions = append(versions, n)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// candidate returns the first number worth trying for headPath.
func (va *VersionAllocator) candidate(headPath string) (uint64, error) {
	va.mu.Lock()
	last, ok := va.last[headPath]
	va.mu.Unlock()
	if ok {
		return last + 1, nil
	}

	versionLogger.Trace("Scanning existing snapshots of %q", headPath)
	versions, err := va.Versions(headPath)
	if err != nil {
		return 0, err
	}
	if len(versions) > 0 {
		last = versions[len(versions)-1]
	}
	va.taken(headPath, last)
	return last + 1, nil
}

func (va *VersionAllocator) taken(headPath string, n uint64) {
	va.mu.Lock()
	defer va.mu.Unlock()
	if cur, ok := va.last[headPath]; !ok || n > cur {
		va.last[headPath] = n
	}
}

// Forget drops the cached numbering state for headPath.
func (va *VersionAllocator) Forget(headPath string) {
	va.mu.Lock()
	defer va.mu.Unlock()
	delete(va.last, headPath)
}

// Allocate claims the next snapshot number for headPath, fills the new
// snapshot from src and returns the number. A snapshot that cannot be
// filled completely is removed again before the error is returned.
func (va *VersionAllocator) Allocate(headPath string, src io.Reader, perm os.FileMode) (uint64, error) {
	n, err := va.candidate(headPath)
	if err != nil {
		return 0, fmt.Errorf("scan snapshots: %w", err)
	}

	for attempt := 0; attempt < va.maxAttempts; attempt++ {
		snapPath := va.SnapshotPath(headPath, n)
		f, err := os.OpenFile(snapPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err != nil {
			switch {
			case errors.Is(err, fs.ErrExist):
				versionLogger.Debug("Snapshot %q already taken, trying next", snapPath)
				va.metrics.SnapshotConflict()
				va.taken(headPath, n)
				n++
				continue
			case IsTemporary(err):
				versionLogger.Debug("Transient error creating %q: %v", snapPath, err)
				continue
			default:
				return 0, err
			}
		}

		if _, err := io.Copy(f, src); err != nil {
			f.Close()
			va.discard(snapPath)
			return 0, fmt.Errorf("fill snapshot %d: %w", n, err)
		}
		if err := f.Close(); err != nil {
			va.discard(snapPath)
			return 0, fmt.Errorf("close snapshot %d: %w", n, err)
		}

		va.taken(headPath, n)
		va.metrics.SnapshotCreated()
		versionLogger.Trace("Created snapshot %q", snapPath)
		return n, nil
	}

	return 0, fmt.Errorf("%w for %s after %d attempts", ErrSnapshotsExhausted, headPath, va.maxAttempts)
}

func (va *VersionAllocator) discard(snapPath string) {
	if err := os.Remove(snapPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		versionLogger.Error("Failed to remove incomplete snapshot %q: %v", snapPath, err)
	}
}
