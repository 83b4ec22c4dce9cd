package fs

import (
	"context"
	"math"
	"os"
	"syscall"

	"histfs/internal/logging"
	"histfs/internal/store"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// File represents a regular file. Its content is the ciphered head in the
// backing directory; every change to it produces a new snapshot.
type File struct {
	node
}

func (f *File) handle() *FileHandle {
	return &FileHandle{fs: f.fs, path: f.path}
}

// Setattr implements the NodeSetattrer interface. A size change is a
// content change and goes through the store, so it is versioned.
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		if req.Size > math.MaxInt64 {
			return fuse.Errno(syscall.EFBIG)
		}
		fileLogger.Debug("Truncating %q to %d bytes", f.path.String(), req.Size)
		if err := f.fs.store.Truncate(f.path, int64(req.Size)); err != nil {
			return ToFuseError(err)
		}
	}

	if err := f.setattr(req); err != nil {
		return err
	}
	return f.Attr(ctx, &resp.Attr)
}

// Open implements the NodeOpener interface. Nothing is held open between
// calls; the handle only remembers the path.
func (f *File) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	flags := int(req.Flags)
	fileLogger.Debug("Opening file %q with flags %v", f.path.String(), req.Flags)

	if err := f.fs.store.Open(f.path, flags); err != nil {
		fileLogger.Debug("open %q failed: %v", f.path.String(), err)
		return nil, ToFuseError(err)
	}

	// Offsets must reach the store unchanged and uncached.
	resp.Flags |= fuse.OpenDirectIO

	fileLogger.Debug("Successfully opened file %q", f.path.String())
	return f.handle(), nil
}

// Fsync implements the NodeFsyncer interface.
func (f *File) Fsync(_ context.Context, _ *fuse.FsyncRequest) error {
	fileLogger.Debug("fsync %q", f.path.String())
	return ToFuseError(f.fs.store.Sync(f.path))
}

// FileHandle represents an open file. It carries no descriptor, so every
// read and write is independent and sees the current head.
type FileHandle struct {
	fs   *HistFS
	path store.LogicalPath
}

// Read implements the HandleReader interface, returning plaintext.
func (fh *FileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fileLogger.Trace("Reading %d bytes at offset %d from %q", req.Size, req.Offset, fh.path.String())

	data, err := fh.fs.store.Read(fh.path, req.Size, req.Offset)
	if err != nil {
		return ToFuseError(err)
	}
	resp.Data = data
	return nil
}

// Write implements the HandleWriter interface. A successful reply means
// both the head and its new snapshot are on disk.
func (fh *FileHandle) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	fileLogger.Trace("Writing %d bytes at offset %d to %q", len(req.Data), req.Offset, fh.path.String())

	n, err := fh.fs.store.Write(fh.path, req.Data, req.Offset)
	if err != nil {
		fileLogger.Error("Write to %q failed: %v", fh.path.String(), err)
		return ToFuseError(err)
	}
	resp.Size = n
	return nil
}

// Flush implements the HandleFlusher interface. Writes are already on
// disk when they return.
func (fh *FileHandle) Flush(_ context.Context, _ *fuse.FlushRequest) error {
	return nil
}

// Release implements the HandleReleaser interface.
func (fh *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fileLogger.Debug("Releasing file handle for %q", fh.path.String())
	return nil
}

// Symlink represents a symbolic link. Targets pass through untouched.
type Symlink struct {
	node
}

// Readlink implements the NodeReadlinker interface.
func (s *Symlink) Readlink(_ context.Context, _ *fuse.ReadlinkRequest) (string, error) {
	target, err := os.Readlink(s.backing())
	if err != nil {
		return "", ToFuseError(err)
	}
	return target, nil
}
