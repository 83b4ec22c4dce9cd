package fs

import (
	"context"
	"fmt"
	"os"
	"time"

	"histfs/internal/config"
	"histfs/internal/logging"
	"histfs/internal/store"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"golang.org/x/sys/unix"
)

var (
	vfsLogger = logging.GetLogger().WithPrefix("vfs")
)

// HistFS exposes a Store as a FUSE filesystem. Content operations go
// through the store; everything else passes straight through to the
// backing directory.
type HistFS struct {
	store      *store.Store
	mount      config.MountConfig
	conn       *fuse.Conn
	mountPoint string
	done       chan struct{}
	serveErr   error
}

// NewHistFS creates a filesystem over st using the given mount settings.
func NewHistFS(st *store.Store, mount config.MountConfig) *HistFS {
	vfsLogger.Info("Creating filesystem over %s", st.Root())
	return &HistFS{
		store: st,
		mount: mount,
	}
}

// Store returns the content store backing the filesystem.
func (h *HistFS) Store() *store.Store {
	return h.store
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (h *HistFS) Root() (fusefs.Node, error) {
	vfsLogger.Trace("Getting root directory node")
	return &Dir{node{fs: h, path: store.NewLogicalPath("/")}}, nil
}

// Statfs implements the FSStatfser interface by reporting the backing
// filesystem's figures.
func (h *HistFS) Statfs(_ context.Context, _ *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	var st unix.Statfs_t
	if err := unix.Statfs(h.store.Root(), &st); err != nil {
		vfsLogger.Error("statfs on backing directory failed: %v", err)
		return ToFuseError(err)
	}

	resp.Blocks = st.Blocks
	resp.Bfree = st.Bfree
	resp.Bavail = st.Bavail
	resp.Files = st.Files
	resp.Ffree = st.Ffree
	resp.Bsize = safeInt64ToUint32(int64(st.Bsize))
	resp.Namelen = safeInt64ToUint32(int64(st.Namelen))
	resp.Frsize = safeInt64ToUint32(int64(st.Frsize))
	return nil
}

func waitForMount(mountpoint string) error {
	for i := 0; i < 30; i++ {
		info, err := os.Stat(mountpoint)
		if err == nil && info.IsDir() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("mount point not available after 3 seconds")
}

// mountOptions builds the FUSE options for the configured mount.
func (h *HistFS) mountOptions() []fuse.MountOption {
	opts := []fuse.MountOption{
		fuse.FSName(h.mount.FSName),
		fuse.Subtype("histfs"),
		fuse.DefaultPermissions(),
		fuse.AsyncRead(),
	}
	if h.mount.AllowOther {
		opts = append(opts, fuse.AllowOther())
	}
	return opts
}

// Mount attaches the filesystem at mountPoint and starts serving requests
// in the background. Use Wait to block until serving stops.
func (h *HistFS) Mount(mountPoint string) error {
	vfsLogger.Info("Mounting filesystem")
	vfsLogger.Debug("Mount point: %s", mountPoint)
	vfsLogger.Debug("Backing directory: %s", h.store.Root())

	info, err := os.Stat(h.store.Root())
	if err != nil {
		vfsLogger.Error("Cannot stat backing directory: %v", err)
		return fmt.Errorf("backing directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("backing directory %s is not a directory", h.store.Root())
	}

	c, err := fuse.Mount(mountPoint, h.mountOptions()...)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	h.conn = c
	h.mountPoint = mountPoint
	h.done = make(chan struct{})

	go func() {
		defer close(h.done)
		if err := fusefs.Serve(c, h); err != nil {
			vfsLogger.Error("FUSE server error: %v", err)
			h.serveErr = err
		}
	}()

	if err := waitForMount(mountPoint); err != nil {
		c.Close()
		vfsLogger.Error("Mount point not ready: %v", err)
		return fmt.Errorf("mount point failed to initialize: %w", err)
	}

	vfsLogger.Info("Filesystem mounted successfully")
	return nil
}

// Wait blocks until the FUSE server stops and returns its error.
func (h *HistFS) Wait() error {
	if h.done == nil {
		return nil
	}
	<-h.done
	return h.serveErr
}

// Unmount cleanly unmounts the filesystem and closes the connection.
func (h *HistFS) Unmount() error {
	if h.conn == nil {
		return nil
	}
	vfsLogger.Info("Unmounting filesystem from: %s", h.mountPoint)
	if err := fuse.Unmount(h.mountPoint); err != nil {
		vfsLogger.Error("Unmount failed: %v", err)
		return err
	}
	vfsLogger.Info("Unmount completed successfully")
	return h.conn.Close()
}
