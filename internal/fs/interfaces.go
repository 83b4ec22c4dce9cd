// internal/fs/interfaces.go

package fs

import (
	"bazil.org/fuse/fs"
)

// Node represents any entry in the filesystem
type Node interface {
	fs.Node
	fs.NodeSetattrer
	fs.NodeAccesser
	fs.NodeGetxattrer
	fs.NodeListxattrer
	fs.NodeSetxattrer
	fs.NodeRemovexattrer
}

// Directory represents a directory in the filesystem
type Directory interface {
	Node
	fs.NodeStringLookuper
	fs.HandleReadDirAller
	fs.NodeMkdirer
	fs.NodeCreater
	fs.NodeMknoder
	fs.NodeRemover
	fs.NodeRenamer
	fs.NodeSymlinker
	fs.NodeLinker
}

// FileInterface represents a regular file in the filesystem
type FileInterface interface {
	Node
	fs.NodeOpener
	fs.NodeFsyncer
}

// FileHandleInterface represents an open file handle
type FileHandleInterface interface {
	fs.Handle
	fs.HandleReader
	fs.HandleWriter
	fs.HandleFlusher
	fs.HandleReleaser
}

// SymlinkInterface represents a symbolic link
type SymlinkInterface interface {
	Node
	fs.NodeReadlinker
}

var (
	_ fs.FS               = (*HistFS)(nil)
	_ fs.FSStatfser       = (*HistFS)(nil)
	_ Directory           = (*Dir)(nil)
	_ FileInterface       = (*File)(nil)
	_ FileHandleInterface = (*FileHandle)(nil)
	_ SymlinkInterface    = (*Symlink)(nil)
)
