package fs

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"histfs/internal/config"
	"histfs/internal/metrics"
	"histfs/internal/store"

	"bazil.org/fuse"
)

func setupTestFS(t *testing.T) (*HistFS, string, func()) {
	backingDir, err := os.MkdirTemp("", "histfs-backing-*")
	if err != nil {
		t.Fatalf("Failed to create backing dir: %v", err)
	}

	opts := store.DefaultOptions()
	opts.Metrics = metrics.New()
	hfs := NewHistFS(store.New(backingDir, opts), config.Default().Mount)

	cleanup := func() {
		os.RemoveAll(backingDir)
	}

	return hfs, backingDir, cleanup
}

func rootDir(t *testing.T, hfs *HistFS) *Dir {
	root, err := hfs.Root()
	if err != nil {
		t.Fatalf("Failed to get root: %v", err)
	}
	return root.(*Dir)
}

func TestDirOperations(t *testing.T) {
	hfs, backingDir, cleanup := setupTestFS(t)
	defer cleanup()

	ctx := context.Background()
	root := rootDir(t, hfs)

	t.Run("RootDirectory", func(t *testing.T) {
		attr := &fuse.Attr{}
		if err := root.Attr(ctx, attr); err != nil {
			t.Fatalf("Failed to get root attributes: %v", err)
		}
		if !attr.Mode.IsDir() {
			t.Errorf("Root mode = %v, want directory", attr.Mode)
		}
	})

	t.Run("CreateDirectory", func(t *testing.T) {
		node, err := root.Mkdir(ctx, &fuse.MkdirRequest{Name: "docs", Mode: os.ModeDir | 0755})
		if err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if _, ok := node.(*Dir); !ok {
			t.Errorf("Mkdir returned %T, want *Dir", node)
		}

		info, err := os.Stat(filepath.Join(backingDir, "docs"))
		if err != nil || !info.IsDir() {
			t.Errorf("Backing directory missing: %v", err)
		}

		if _, err := root.Mkdir(ctx, &fuse.MkdirRequest{Name: "docs", Mode: os.ModeDir | 0755}); err != fuse.Errno(syscall.EEXIST) {
			t.Errorf("Second mkdir error = %v, want EEXIST", err)
		}
	})

	t.Run("LookupTypes", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(backingDir, "plain"), nil, 0644); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
		if err := os.Symlink("plain", filepath.Join(backingDir, "link")); err != nil {
			t.Fatalf("Failed to create symlink: %v", err)
		}

		tests := []struct {
			name string
			want string
		}{
			{"docs", "*fs.Dir"},
			{"plain", "*fs.File"},
			{"link", "*fs.Symlink"},
		}
		for _, tt := range tests {
			node, err := root.Lookup(ctx, tt.name)
			if err != nil {
				t.Errorf("Lookup(%q) failed: %v", tt.name, err)
				continue
			}
			var got string
			switch node.(type) {
			case *Dir:
				got = "*fs.Dir"
			case *File:
				got = "*fs.File"
			case *Symlink:
				got = "*fs.Symlink"
			}
			if got != tt.want {
				t.Errorf("Lookup(%q) = %T, want %s", tt.name, node, tt.want)
			}
		}
	})

	t.Run("LookupMissing", func(t *testing.T) {
		if _, err := root.Lookup(ctx, "nope"); err != fuse.Errno(syscall.ENOENT) {
			t.Errorf("Lookup of missing entry error = %v, want ENOENT", err)
		}
	})

	t.Run("CreateFile", func(t *testing.T) {
		resp := &fuse.CreateResponse{}
		node, handle, err := root.Create(ctx, &fuse.CreateRequest{
			Name:  "new.txt",
			Flags: fuse.OpenReadWrite | fuse.OpenCreate,
			Mode:  0640,
		}, resp)
		if err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
		if _, ok := node.(*File); !ok {
			t.Errorf("Create returned node %T, want *File", node)
		}
		if _, ok := handle.(*FileHandle); !ok {
			t.Errorf("Create returned handle %T, want *FileHandle", handle)
		}
		if resp.Flags&fuse.OpenDirectIO == 0 {
			t.Error("Create did not request direct IO")
		}

		info, err := os.Stat(filepath.Join(backingDir, "new.txt"))
		if err != nil {
			t.Fatalf("Backing file missing: %v", err)
		}
		if info.Size() != 0 || info.Mode().Perm() != 0640 {
			t.Errorf("Backing file size=%d mode=%v, want empty 0640", info.Size(), info.Mode().Perm())
		}

		versions, err := hfs.Store().Versions(store.NewLogicalPath("/new.txt"))
		if err != nil {
			t.Fatalf("Failed to list versions: %v", err)
		}
		if len(versions) != 0 {
			t.Errorf("Create produced versions %v, want none", versions)
		}
	})

	t.Run("ListingShowsSnapshots", func(t *testing.T) {
		lp := store.NewLogicalPath("/listed")
		if _, err := hfs.Store().Write(lp, []byte("x"), 0); err != nil {
			t.Fatalf("Write failed: %v", err)
		}

		entries, err := root.ReadDirAll(ctx)
		if err != nil {
			t.Fatalf("ReadDirAll failed: %v", err)
		}

		found := make(map[string]fuse.DirentType)
		for _, e := range entries {
			found[e.Name] = e.Type
		}
		for name, typ := range map[string]fuse.DirentType{
			".":       fuse.DT_Dir,
			"..":      fuse.DT_Dir,
			"docs":    fuse.DT_Dir,
			"listed":  fuse.DT_File,
			"listed1": fuse.DT_File,
			"link":    fuse.DT_Link,
		} {
			got, ok := found[name]
			if !ok {
				t.Errorf("Entry %q missing from listing", name)
			} else if got != typ {
				t.Errorf("Entry %q type = %v, want %v", name, got, typ)
			}
		}
	})

	t.Run("RemoveKeepsSnapshots", func(t *testing.T) {
		if err := root.Remove(ctx, &fuse.RemoveRequest{Name: "listed"}); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if _, err := os.Lstat(filepath.Join(backingDir, "listed")); !os.IsNotExist(err) {
			t.Errorf("Head still present after remove: %v", err)
		}
		if _, err := os.Lstat(filepath.Join(backingDir, "listed1")); err != nil {
			t.Errorf("Snapshot removed along with head: %v", err)
		}
	})

	t.Run("RemoveDirectory", func(t *testing.T) {
		if _, err := root.Mkdir(ctx, &fuse.MkdirRequest{Name: "empty", Mode: os.ModeDir | 0755}); err != nil {
			t.Fatalf("Mkdir failed: %v", err)
		}
		if err := root.Remove(ctx, &fuse.RemoveRequest{Name: "empty", Dir: true}); err != nil {
			t.Fatalf("Rmdir failed: %v", err)
		}
		if err := root.Remove(ctx, &fuse.RemoveRequest{Name: "empty", Dir: true}); err != fuse.Errno(syscall.ENOENT) {
			t.Errorf("Second rmdir error = %v, want ENOENT", err)
		}
	})

	t.Run("RenameMovesHeadOnly", func(t *testing.T) {
		lp := store.NewLogicalPath("/moving")
		if _, err := hfs.Store().Write(lp, []byte("x"), 0); err != nil {
			t.Fatalf("Write failed: %v", err)
		}

		docs, err := root.Lookup(ctx, "docs")
		if err != nil {
			t.Fatalf("Lookup docs failed: %v", err)
		}
		if err := root.Rename(ctx, &fuse.RenameRequest{OldName: "moving", NewName: "moved"}, docs); err != nil {
			t.Fatalf("Rename failed: %v", err)
		}

		if _, err := os.Stat(filepath.Join(backingDir, "docs", "moved")); err != nil {
			t.Errorf("Renamed head missing: %v", err)
		}
		if _, err := os.Stat(filepath.Join(backingDir, "moving1")); err != nil {
			t.Errorf("Snapshot should keep its old name: %v", err)
		}
	})

	t.Run("RenameIntoNonDirectory", func(t *testing.T) {
		plain, err := root.Lookup(ctx, "plain")
		if err != nil {
			t.Fatalf("Lookup failed: %v", err)
		}
		if err := root.Rename(ctx, &fuse.RenameRequest{OldName: "new.txt", NewName: "x"}, plain); err != fuse.Errno(syscall.EINVAL) {
			t.Errorf("Rename into file error = %v, want EINVAL", err)
		}
	})

	t.Run("SymlinkAndReadlink", func(t *testing.T) {
		node, err := root.Symlink(ctx, &fuse.SymlinkRequest{NewName: "alias", Target: "docs/moved"})
		if err != nil {
			t.Fatalf("Symlink failed: %v", err)
		}
		target, err := node.(*Symlink).Readlink(ctx, &fuse.ReadlinkRequest{})
		if err != nil {
			t.Fatalf("Readlink failed: %v", err)
		}
		if target != "docs/moved" {
			t.Errorf("Readlink = %q, want %q", target, "docs/moved")
		}
	})

	t.Run("HardLink", func(t *testing.T) {
		plain, err := root.Lookup(ctx, "plain")
		if err != nil {
			t.Fatalf("Lookup failed: %v", err)
		}
		node, err := root.Link(ctx, &fuse.LinkRequest{NewName: "plain2"}, plain)
		if err != nil {
			t.Fatalf("Link failed: %v", err)
		}
		attr := &fuse.Attr{}
		if err := node.Attr(ctx, attr); err != nil {
			t.Fatalf("Attr failed: %v", err)
		}
		if attr.Nlink != 2 {
			t.Errorf("Nlink = %d, want 2", attr.Nlink)
		}
	})

	t.Run("MknodFifo", func(t *testing.T) {
		node, err := root.Mknod(ctx, &fuse.MknodRequest{Name: "pipe", Mode: os.ModeNamedPipe | 0600})
		if err != nil {
			t.Fatalf("Mknod failed: %v", err)
		}
		attr := &fuse.Attr{}
		if err := node.Attr(ctx, attr); err != nil {
			t.Fatalf("Attr failed: %v", err)
		}
		if attr.Mode&os.ModeNamedPipe == 0 {
			t.Errorf("Mode = %v, want named pipe", attr.Mode)
		}
	})

	t.Run("MknodRegular", func(t *testing.T) {
		if _, err := root.Mknod(ctx, &fuse.MknodRequest{Name: "regular", Mode: 0644}); err != nil {
			t.Fatalf("Mknod failed: %v", err)
		}
		if _, err := root.Mknod(ctx, &fuse.MknodRequest{Name: "regular", Mode: 0644}); err != fuse.Errno(syscall.EEXIST) {
			t.Errorf("Second mknod error = %v, want EEXIST", err)
		}
	})
}

func TestStatfs(t *testing.T) {
	hfs, _, cleanup := setupTestFS(t)
	defer cleanup()

	resp := &fuse.StatfsResponse{}
	if err := hfs.Statfs(context.Background(), &fuse.StatfsRequest{}, resp); err != nil {
		t.Fatalf("Statfs failed: %v", err)
	}
	if resp.Bsize == 0 || resp.Blocks == 0 {
		t.Errorf("Statfs returned empty figures: %+v", resp)
	}
}
