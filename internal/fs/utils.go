package fs

import (
	"os"
	"time"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"
)

func safeInt64ToUint64(n int64) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}

func safeInt64ToUint32(n int64) uint32 {
	if n < 0 {
		return 0
	}
	if n > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n)
}

// fillAttr copies host attributes into a FUSE attribute block.
func fillAttr(a *fuse.Attr, st *unix.Stat_t) {
	a.Inode = st.Ino
	a.Size = safeInt64ToUint64(st.Size)
	a.Blocks = safeInt64ToUint64(int64(st.Blocks))
	a.BlockSize = safeInt64ToUint32(int64(st.Blksize))
	a.Atime = time.Unix(st.Atim.Unix())
	a.Mtime = time.Unix(st.Mtim.Unix())
	a.Ctime = time.Unix(st.Ctim.Unix())
	a.Mode = fileMode(st.Mode)
	a.Nlink = safeInt64ToUint32(int64(st.Nlink))
	a.Uid = st.Uid
	a.Gid = st.Gid
	a.Rdev = safeInt64ToUint32(int64(st.Rdev))
}

// fileMode converts a raw st_mode into an os.FileMode.
func fileMode(m uint32) os.FileMode {
	mode := os.FileMode(m & 0777)
	switch m & unix.S_IFMT {
	case unix.S_IFDIR:
		mode |= os.ModeDir
	case unix.S_IFLNK:
		mode |= os.ModeSymlink
	case unix.S_IFIFO:
		mode |= os.ModeNamedPipe
	case unix.S_IFSOCK:
		mode |= os.ModeSocket
	case unix.S_IFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	case unix.S_IFBLK:
		mode |= os.ModeDevice
	}
	if m&unix.S_ISUID != 0 {
		mode |= os.ModeSetuid
	}
	if m&unix.S_ISGID != 0 {
		mode |= os.ModeSetgid
	}
	if m&unix.S_ISVTX != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

// unixMode is the inverse of fileMode, used for mknod.
func unixMode(mode os.FileMode) uint32 {
	m := uint32(mode.Perm())
	switch {
	case mode&os.ModeDir != 0:
		m |= unix.S_IFDIR
	case mode&os.ModeSymlink != 0:
		m |= unix.S_IFLNK
	case mode&os.ModeNamedPipe != 0:
		m |= unix.S_IFIFO
	case mode&os.ModeSocket != 0:
		m |= unix.S_IFSOCK
	case mode&os.ModeCharDevice != 0:
		m |= unix.S_IFCHR
	case mode&os.ModeDevice != 0:
		m |= unix.S_IFBLK
	default:
		m |= unix.S_IFREG
	}
	if mode&os.ModeSetuid != 0 {
		m |= unix.S_ISUID
	}
	if mode&os.ModeSetgid != 0 {
		m |= unix.S_ISGID
	}
	if mode&os.ModeSticky != 0 {
		m |= unix.S_ISVTX
	}
	return m
}

// direntType maps an os.FileMode type to a FUSE directory entry type.
func direntType(mode os.FileMode) fuse.DirentType {
	switch {
	case mode&os.ModeDir != 0:
		return fuse.DT_Dir
	case mode&os.ModeSymlink != 0:
		return fuse.DT_Link
	case mode&os.ModeNamedPipe != 0:
		return fuse.DT_FIFO
	case mode&os.ModeSocket != 0:
		return fuse.DT_Socket
	case mode&os.ModeCharDevice != 0:
		return fuse.DT_Char
	case mode&os.ModeDevice != 0:
		return fuse.DT_Block
	case mode.IsRegular():
		return fuse.DT_File
	default:
		return fuse.DT_Unknown
	}
}

// timespec builds one utimensat entry from a setattr request field.
func timespec(set, now bool, t time.Time) unix.Timespec {
	switch {
	case now:
		return unix.Timespec{Nsec: unix.UTIME_NOW}
	case set:
		return unix.NsecToTimespec(t.UnixNano())
	default:
		return unix.Timespec{Nsec: unix.UTIME_OMIT}
	}
}
