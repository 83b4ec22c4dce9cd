package fs

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"

	"histfs/internal/store"

	"bazil.org/fuse"
)

func TestToFuseError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"bare errno", syscall.ENOSPC, fuse.Errno(syscall.ENOSPC)},
		{"path error", &os.PathError{Op: "open", Path: "/x", Err: syscall.EACCES}, fuse.Errno(syscall.EACCES)},
		{"store error with errno", &store.Error{Op: store.OpWrite, Path: "/x", Err: syscall.EDQUOT}, fuse.Errno(syscall.EDQUOT)},
		{"invalid path", &store.Error{Op: store.OpWrite, Path: "/", Err: store.ErrInvalidPath}, fuse.Errno(syscall.EINVAL)},
		{"snapshots exhausted", fmt.Errorf("%w for /x", store.ErrSnapshotsExhausted), fuse.Errno(syscall.EIO)},
		{"not exist sentinel", os.ErrNotExist, fuse.Errno(syscall.ENOENT)},
		{"permission sentinel", os.ErrPermission, fuse.Errno(syscall.EACCES)},
		{"unknown", errors.New("boom"), fuse.Errno(syscall.EIO)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToFuseError(tt.err); got != tt.want {
				t.Errorf("ToFuseError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestFileModeRoundTrip(t *testing.T) {
	modes := []os.FileMode{
		0644,
		os.ModeDir | 0755,
		os.ModeSymlink | 0777,
		os.ModeNamedPipe | 0600,
		os.ModeSocket | 0700,
		os.ModeDevice | os.ModeCharDevice | 0660,
		os.ModeDevice | 0660,
		os.ModeSetuid | os.ModeSetgid | os.ModeSticky | 0755,
	}
	for _, m := range modes {
		if got := fileMode(unixMode(m)); got != m {
			t.Errorf("fileMode(unixMode(%v)) = %v", m, got)
		}
	}
}
