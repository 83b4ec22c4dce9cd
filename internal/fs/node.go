package fs

import (
	"bytes"
	"context"
	"os"

	"histfs/internal/logging"
	"histfs/internal/store"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"
)

var (
	nodeLogger = logging.GetLogger().WithPrefix("node")
)

// node carries what every entry in the tree shares: the filesystem and
// the logical path. Nothing else is cached; each call re-resolves and
// asks the host.
type node struct {
	fs   *HistFS
	path store.LogicalPath
}

func (n *node) logicalPath() store.LogicalPath {
	return n.path
}

func (n *node) backing() string {
	return n.fs.store.Resolve(n.path)
}

// Attr implements the Node interface, returning the host attributes of the
// backing entry. Sizes of head files equal plaintext sizes because the
// cipher maps bytes one to one.
func (n *node) Attr(_ context.Context, a *fuse.Attr) error {
	nodeLogger.Trace("Getting attributes for %q", n.path.String())

	var st unix.Stat_t
	if err := unix.Lstat(n.backing(), &st); err != nil {
		nodeLogger.Debug("lstat %q failed: %v", n.path.String(), err)
		return ToFuseError(err)
	}
	fillAttr(a, &st)
	return nil
}

// Setattr implements the NodeSetattrer interface for metadata changes.
func (n *node) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if err := n.setattr(req); err != nil {
		return err
	}
	return n.Attr(ctx, &resp.Attr)
}

func (n *node) setattr(req *fuse.SetattrRequest) error {
	p := n.backing()

	if req.Valid.Mode() {
		nodeLogger.Debug("chmod %q to %v", n.path.String(), req.Mode)
		if err := os.Chmod(p, req.Mode); err != nil {
			return ToFuseError(err)
		}
	}

	if req.Valid.Uid() || req.Valid.Gid() {
		uid, gid := -1, -1
		if req.Valid.Uid() {
			uid = int(req.Uid)
		}
		if req.Valid.Gid() {
			gid = int(req.Gid)
		}
		nodeLogger.Debug("chown %q to %d:%d", n.path.String(), uid, gid)
		if err := os.Lchown(p, uid, gid); err != nil {
			return ToFuseError(err)
		}
	}

	if req.Valid.Atime() || req.Valid.Mtime() || req.Valid.AtimeNow() || req.Valid.MtimeNow() {
		ts := []unix.Timespec{
			timespec(req.Valid.Atime(), req.Valid.AtimeNow(), req.Atime),
			timespec(req.Valid.Mtime(), req.Valid.MtimeNow(), req.Mtime),
		}
		nodeLogger.Debug("utimens %q", n.path.String())
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, p, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return ToFuseError(err)
		}
	}

	return nil
}

// Access implements the NodeAccesser interface.
func (n *node) Access(_ context.Context, req *fuse.AccessRequest) error {
	nodeLogger.Trace("access %q mask %o", n.path.String(), req.Mask)
	return ToFuseError(unix.Access(n.backing(), req.Mask))
}

// Getxattr implements the NodeGetxattrer interface, retrieving an extended attribute.
func (n *node) Getxattr(_ context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	p := n.backing()
	nodeLogger.Debug("Getting xattr %q for %q", req.Name, n.path.String())

	size, err := unix.Lgetxattr(p, req.Name, nil)
	if err != nil {
		return ToFuseError(err)
	}
	buf := make([]byte, size)
	size, err = unix.Lgetxattr(p, req.Name, buf)
	if err != nil {
		return ToFuseError(err)
	}

	resp.Xattr = buf[:size]
	nodeLogger.Trace("Retrieved xattr %q: %d bytes", req.Name, size)
	return nil
}

// Listxattr implements the NodeListxattrer interface, listing all extended attributes.
func (n *node) Listxattr(_ context.Context, _ *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	p := n.backing()
	nodeLogger.Debug("Listing xattrs for %q", n.path.String())

	size, err := unix.Llistxattr(p, nil)
	if err != nil {
		return ToFuseError(err)
	}
	if size == 0 {
		return nil
	}
	buf := make([]byte, size)
	size, err = unix.Llistxattr(p, buf)
	if err != nil {
		return ToFuseError(err)
	}

	for _, name := range bytes.Split(buf[:size], []byte{0}) {
		if len(name) > 0 {
			resp.Append(string(name))
		}
	}
	return nil
}

// Setxattr implements the NodeSetxattrer interface, setting an extended attribute.
func (n *node) Setxattr(_ context.Context, req *fuse.SetxattrRequest) error {
	nodeLogger.Debug("Setting xattr %q for %q (%d bytes)", req.Name, n.path.String(), len(req.Xattr))
	return ToFuseError(unix.Lsetxattr(n.backing(), req.Name, req.Xattr, int(req.Flags)))
}

// Removexattr implements the NodeRemovexattrer interface, removing an extended attribute.
func (n *node) Removexattr(_ context.Context, req *fuse.RemovexattrRequest) error {
	nodeLogger.Debug("Removing xattr %q for %q", req.Name, n.path.String())
	return ToFuseError(unix.Lremovexattr(n.backing(), req.Name))
}
