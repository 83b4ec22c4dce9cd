package fs

import (
	"context"
	"os"
	"syscall"

	"histfs/internal/logging"
	"histfs/internal/store"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"golang.org/x/sys/unix"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// Dir represents a directory of the backing tree. Snapshot files are
// ordinary entries here; they are listed and looked up like anything else.
type Dir struct {
	node
}

// pathNode is satisfied by every node type through the embedded node.
type pathNode interface {
	logicalPath() store.LogicalPath
}

// newNode returns the node type matching a raw st_mode.
func (h *HistFS) newNode(lp store.LogicalPath, mode uint32) fusefs.Node {
	n := node{fs: h, path: lp}
	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		return &Dir{n}
	case unix.S_IFLNK:
		return &Symlink{n}
	default:
		return &File{n}
	}
}

// lookupChild stats the backing entry of lp and wraps it in a node.
func (d *Dir) lookupChild(lp store.LogicalPath) (fusefs.Node, error) {
	var st unix.Stat_t
	if err := unix.Lstat(d.fs.store.Resolve(lp), &st); err != nil {
		return nil, err
	}
	return d.fs.newNode(lp, st.Mode), nil
}

// Lookup implements the NodeStringLookuper interface, finding a child node.
func (d *Dir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	dirLogger.Debug("Looking up %q in directory %q", name, d.path.String())

	child, err := d.lookupChild(d.path.Child(name))
	if err != nil {
		dirLogger.Trace("Lookup of %q failed: %v", name, err)
		return nil, ToFuseError(err)
	}
	return child, nil
}

// ReadDirAll implements the HandleReadDirAller interface, listing directory contents.
func (d *Dir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	dirLogger.Debug("Reading directory contents: %q", d.path.String())

	dirEntries, err := os.ReadDir(d.backing())
	if err != nil {
		dirLogger.Error("Failed to read directory %q: %v", d.path.String(), err)
		return nil, ToFuseError(err)
	}

	entries := make([]fuse.Dirent, 0, len(dirEntries)+2)
	entries = append(entries, fuse.Dirent{Name: ".", Type: fuse.DT_Dir})
	entries = append(entries, fuse.Dirent{Name: "..", Type: fuse.DT_Dir})

	for _, entry := range dirEntries {
		dirLogger.Trace("Found entry: %q", entry.Name())
		entries = append(entries, fuse.Dirent{
			Name: entry.Name(),
			Type: direntType(entry.Type()),
		})
	}

	dirLogger.Debug("Directory %q contains %d entries", d.path.String(), len(entries))
	return entries, nil
}

// Mkdir implements the NodeMkdirer interface, creating a new directory.
func (d *Dir) Mkdir(_ context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	child := d.path.Child(req.Name)
	dirLogger.Info("Creating directory %q", child.String())

	if err := os.Mkdir(d.fs.store.Resolve(child), req.Mode&^req.Umask); err != nil {
		dirLogger.Debug("mkdir %q failed: %v", child.String(), err)
		return nil, ToFuseError(err)
	}
	return &Dir{node{fs: d.fs, path: child}}, nil
}

// Create implements the NodeCreater interface. The new head is empty; its
// first version appears with the first write.
func (d *Dir) Create(_ context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	child := d.path.Child(req.Name)
	dirLogger.Info("Creating file %q with flags %v", child.String(), req.Flags)

	perm := (req.Mode &^ req.Umask).Perm()
	if err := d.fs.store.Create(child, int(req.Flags), perm); err != nil {
		dirLogger.Debug("create %q failed: %v", child.String(), err)
		return nil, nil, ToFuseError(err)
	}

	resp.Flags |= fuse.OpenDirectIO
	f := &File{node{fs: d.fs, path: child}}
	return f, f.handle(), nil
}

// Mknod implements the NodeMknoder interface. Regular files go through the
// store like Create; other types pass through to the host.
func (d *Dir) Mknod(_ context.Context, req *fuse.MknodRequest) (fusefs.Node, error) {
	child := d.path.Child(req.Name)
	p := d.fs.store.Resolve(child)
	mode := req.Mode &^ req.Umask
	dirLogger.Info("mknod %q mode %v", child.String(), mode)

	var err error
	switch {
	case mode.IsRegular():
		err = d.fs.store.Create(child, os.O_EXCL, mode.Perm())
	case mode&os.ModeNamedPipe != 0:
		err = unix.Mkfifo(p, uint32(mode.Perm()))
	default:
		err = unix.Mknod(p, unixMode(mode), int(req.Rdev))
	}
	if err != nil {
		dirLogger.Debug("mknod %q failed: %v", child.String(), err)
		return nil, ToFuseError(err)
	}

	n, err := d.lookupChild(child)
	if err != nil {
		return nil, ToFuseError(err)
	}
	return n, nil
}

// Remove implements the NodeRemover interface, removing a file or directory.
// Snapshots are independent entries and are left alone.
func (d *Dir) Remove(_ context.Context, req *fuse.RemoveRequest) error {
	child := d.path.Child(req.Name)
	p := d.fs.store.Resolve(child)
	dirLogger.Info("Removing %q (dir=%v)", child.String(), req.Dir)

	var err error
	if req.Dir {
		err = unix.Rmdir(p)
	} else {
		err = unix.Unlink(p)
	}
	if err != nil {
		dirLogger.Debug("remove %q failed: %v", child.String(), err)
		return ToFuseError(err)
	}
	return nil
}

// Rename implements the NodeRenamer interface. Only the head moves; its
// snapshots keep their names.
func (d *Dir) Rename(_ context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		dirLogger.Error("Rename target is not a directory: %T", newDir)
		return fuse.Errno(syscall.EINVAL)
	}

	from := d.path.Child(req.OldName)
	to := target.path.Child(req.NewName)
	dirLogger.Info("Renaming %q to %q", from.String(), to.String())

	if err := unix.Rename(d.fs.store.Resolve(from), d.fs.store.Resolve(to)); err != nil {
		dirLogger.Debug("rename failed: %v", err)
		return ToFuseError(err)
	}
	return nil
}

// Symlink implements the NodeSymlinker interface. The target is stored
// verbatim and never ciphered.
func (d *Dir) Symlink(_ context.Context, req *fuse.SymlinkRequest) (fusefs.Node, error) {
	child := d.path.Child(req.NewName)
	dirLogger.Info("Creating symlink %q -> %q", child.String(), req.Target)

	if err := unix.Symlink(req.Target, d.fs.store.Resolve(child)); err != nil {
		return nil, ToFuseError(err)
	}
	return &Symlink{node{fs: d.fs, path: child}}, nil
}

// Link implements the NodeLinker interface, creating a hard link to old.
func (d *Dir) Link(_ context.Context, req *fuse.LinkRequest, old fusefs.Node) (fusefs.Node, error) {
	src, ok := old.(pathNode)
	if !ok {
		return nil, fuse.Errno(syscall.EINVAL)
	}

	child := d.path.Child(req.NewName)
	dirLogger.Info("Linking %q to %q", child.String(), src.logicalPath().String())

	if err := unix.Link(d.fs.store.Resolve(src.logicalPath()), d.fs.store.Resolve(child)); err != nil {
		return nil, ToFuseError(err)
	}

	n, err := d.lookupChild(child)
	if err != nil {
		return nil, ToFuseError(err)
	}
	return n, nil
}
