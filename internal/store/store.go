// Package store implements the content side of histfs: logical path
// resolution, ciphered head files, and numbered snapshots taken on every
// content change.
package store

import (
	"bytes"
	"errors"
	"io"
	"os"
	"syscall"
	"time"

	"histfs/internal/cipher"
	"histfs/internal/logging"
	"histfs/internal/metrics"
)

var (
	storeLogger = logging.GetLogger().WithPrefix("store")
)

const (
	// DefaultFileMode is used for head files created implicitly by a write.
	DefaultFileMode os.FileMode = 0644

	fillChunk = 64 * 1024
)

// Options configures a Store.
type Options struct {
	Separator   string           // placed between head name and snapshot number
	MaxAttempts int              // snapshot numbers tried per allocation
	Cipher      cipher.Rot       // byte transform for content at rest
	Metrics     *metrics.Metrics // optional
}

// DefaultOptions returns the options histfs mounts with by default.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: DefaultMaxAttempts,
		Cipher:      cipher.Default,
	}
}

// Store reads and writes ciphered head files under a backing directory
// and snapshots them on every content change.
type Store struct {
	resolver *Resolver
	cipher   cipher.Rot
	versions *VersionAllocator
	locks    *lockTable
	metrics  *metrics.Metrics
}

// New creates a Store rooted at the backing directory root.
func New(root string, opts Options) *Store {
	storeLogger.Debug("Creating store on %q (separator %q, shift %d)", root, opts.Separator, opts.Cipher)
	return &Store{
		resolver: NewResolver(root),
		cipher:   opts.Cipher,
		versions: NewVersionAllocator(opts.Separator, opts.MaxAttempts, opts.Metrics),
		locks:    newLockTable(),
		metrics:  opts.Metrics,
	}
}

// Root returns the backing directory.
func (s *Store) Root() string {
	return s.resolver.Root()
}

// Resolve returns the backing path of lp.
func (s *Store) Resolve(lp LogicalPath) string {
	return s.resolver.Resolve(lp)
}

// Cipher returns the byte transform used for content.
func (s *Store) Cipher() cipher.Rot {
	return s.cipher
}

// Separator returns the snapshot name separator.
func (s *Store) Separator() string {
	return s.versions.Separator()
}

// Versions lists the snapshot numbers of lp in ascending order.
func (s *Store) Versions(lp LogicalPath) ([]uint64, error) {
	versions, err := s.versions.Versions(s.Resolve(lp))
	if err != nil {
		return nil, newError(OpSnapshot, lp, err)
	}
	return versions, nil
}

// SnapshotPath returns the backing path of snapshot n of lp.
func (s *Store) SnapshotPath(lp LogicalPath, n uint64) string {
	return s.versions.SnapshotPath(s.Resolve(lp), n)
}

// Read returns up to length plaintext bytes of lp starting at offset.
// Reading past the end yields a short result rather than an error.
func (s *Store) Read(lp LogicalPath, length int, offset int64) (data []byte, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(OpRead, start, err) }()

	if length < 0 || offset < 0 {
		return nil, newError(OpRead, lp, syscall.EINVAL)
	}

	head := s.Resolve(lp)
	unlock := s.locks.RLock(head)
	defer unlock()

	f, err := os.Open(head)
	if err != nil {
		return nil, newError(OpRead, lp, err)
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		storeLogger.Error("Failed to read %q: %v", lp.String(), err)
		return nil, newError(OpRead, lp, err)
	}

	buf = buf[:n]
	s.cipher.Decrypt(buf, buf)
	s.metrics.AddBytes(metrics.DirectionRead, n)
	storeLogger.Trace("Read %d/%d bytes of %q at offset %d", n, length, lp.String(), offset)
	return buf, nil
}

// Write stores data at offset in the head file of lp, creating it if
// needed, and snapshots the resulting content. It returns the number of
// bytes written to the head. If the snapshot cannot be taken the write
// reports failure even though the head has already changed.
func (s *Store) Write(lp LogicalPath, data []byte, offset int64) (n int, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(OpWrite, start, err) }()

	if lp.IsRoot() {
		return 0, newError(OpWrite, lp, ErrInvalidPath)
	}
	if offset < 0 {
		return 0, newError(OpWrite, lp, syscall.EINVAL)
	}

	buf := make([]byte, len(data))
	s.cipher.Encrypt(buf, data)

	head := s.Resolve(lp)
	unlock := s.locks.Lock(head)
	defer unlock()

	f, err := os.OpenFile(head, os.O_RDWR|os.O_CREATE, DefaultFileMode)
	if err != nil {
		return 0, newError(OpWrite, lp, err)
	}
	defer f.Close()

	// A write past the end must leave a hole that reads back as zeros.
	info, err := f.Stat()
	if err != nil {
		return 0, newError(OpWrite, lp, err)
	}
	if size := info.Size(); offset > size {
		if err := s.fill(f, size, offset); err != nil {
			return 0, newError(OpWrite, lp, err)
		}
	}

	n, err = f.WriteAt(buf, offset)
	if err != nil {
		storeLogger.Error("Failed to write %q: %v", lp.String(), err)
		return 0, newError(OpWrite, lp, err)
	}
	s.metrics.AddBytes(metrics.DirectionWritten, n)

	version, err := s.snapshot(f, head)
	if err != nil {
		storeLogger.Error("Head of %q updated but snapshot failed: %v", lp.String(), err)
		return 0, newError(OpSnapshot, lp, err)
	}

	storeLogger.Debug("Wrote %d bytes to %q at offset %d (version %d)", n, lp.String(), offset, version)
	return n, nil
}

// Truncate sets the length of lp. Growing fills the new region with the
// ciphered zero byte. Every call takes a snapshot, including no-op ones.
func (s *Store) Truncate(lp LogicalPath, size int64) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(OpTruncate, start, err) }()

	if size < 0 {
		return newError(OpTruncate, lp, syscall.EINVAL)
	}

	head := s.Resolve(lp)
	unlock := s.locks.Lock(head)
	defer unlock()

	return s.truncateLocked(lp, head, size)
}

func (s *Store) truncateLocked(lp LogicalPath, head string, size int64) error {
	f, err := os.OpenFile(head, os.O_RDWR, 0)
	if err != nil {
		return newError(OpTruncate, lp, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return newError(OpTruncate, lp, err)
	}

	switch cur := info.Size(); {
	case size < cur:
		err = f.Truncate(size)
	case size > cur:
		err = s.fill(f, cur, size)
	}
	if err != nil {
		storeLogger.Error("Failed to truncate %q to %d: %v", lp.String(), size, err)
		return newError(OpTruncate, lp, err)
	}

	version, err := s.snapshot(f, head)
	if err != nil {
		storeLogger.Error("Truncated %q but snapshot failed: %v", lp.String(), err)
		return newError(OpSnapshot, lp, err)
	}

	storeLogger.Debug("Truncated %q to %d bytes (version %d)", lp.String(), size, version)
	return nil
}

// fill writes ciphered zero bytes over [from, to).
func (s *Store) fill(f *os.File, from, to int64) error {
	chunk := bytes.Repeat([]byte{s.cipher.Zero()}, int(min(to-from, fillChunk)))
	for off := from; off < to; {
		n := min(int64(len(chunk)), to-off)
		if _, err := f.WriteAt(chunk[:n], off); err != nil {
			return err
		}
		off += n
	}
	return nil
}

// snapshot copies the full content of the open head f into a new version.
func (s *Store) snapshot(f *os.File, head string) (uint64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	// Snapshots are never written again, so they carry no write bits.
	perm := info.Mode().Perm() &^ 0222
	return s.versions.Allocate(head, io.NewSectionReader(f, 0, info.Size()), perm)
}

// Create makes an empty head file for lp. O_EXCL is honoured; O_TRUNC on
// an existing head goes through Truncate so the emptied state is versioned.
func (s *Store) Create(lp LogicalPath, flags int, perm os.FileMode) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(OpCreate, start, err) }()

	if lp.IsRoot() {
		return newError(OpCreate, lp, ErrInvalidPath)
	}

	head := s.Resolve(lp)
	unlock := s.locks.Lock(head)
	defer unlock()

	_, statErr := os.Lstat(head)
	existed := statErr == nil

	f, err := os.OpenFile(head, os.O_WRONLY|os.O_CREATE|(flags&os.O_EXCL), perm)
	if err != nil {
		return newError(OpCreate, lp, err)
	}
	if err := f.Close(); err != nil {
		return newError(OpCreate, lp, err)
	}

	if existed && flags&os.O_TRUNC != 0 {
		return s.truncateLocked(lp, head, 0)
	}
	storeLogger.Debug("Created %q (existed=%v)", lp.String(), existed)
	return nil
}

// Open checks that lp can be opened with the access mode in flags. O_TRUNC
// is applied through Truncate; no descriptor is kept.
func (s *Store) Open(lp LogicalPath, flags int) error {
	f, err := os.OpenFile(s.Resolve(lp), flags&(os.O_RDONLY|os.O_WRONLY|os.O_RDWR), 0)
	if err != nil {
		return newError(OpRead, lp, err)
	}
	if err := f.Close(); err != nil {
		return newError(OpRead, lp, err)
	}

	if flags&os.O_TRUNC != 0 && flags&(os.O_WRONLY|os.O_RDWR) != 0 {
		return s.Truncate(lp, 0)
	}
	return nil
}

// Sync flushes the head file of lp to stable storage.
func (s *Store) Sync(lp LogicalPath) error {
	head := s.Resolve(lp)
	unlock := s.locks.RLock(head)
	defer unlock()

	f, err := os.Open(head)
	if err != nil {
		return newError(OpSync, lp, err)
	}
	defer f.Close()

	if err := f.Sync(); err != nil {
		return newError(OpSync, lp, err)
	}
	return nil
}
