package store

import (
	"path"
	"path/filepath"
	"strings"

	"histfs/internal/logging"
)

var (
	pathLogger = logging.GetLogger().WithPrefix("path")
)

// LogicalPath represents a path in the mounted tree as clients see it.
// All paths are absolute and cleaned, so ".." can never climb above "/".
type LogicalPath struct {
	// always starts with /
	path string
}

// NewLogicalPath creates a new LogicalPath instance.
// It cleans the path and ensures it's absolute.
func NewLogicalPath(p string) LogicalPath {
	cleaned := path.Clean("/" + p)
	pathLogger.Trace("Creating new logical path: %q -> %q", p, cleaned)
	return LogicalPath{path: cleaned}
}

// String returns the string representation of the path
func (lp LogicalPath) String() string {
	if lp.path == "" {
		return "/"
	}
	return lp.path
}

// Child returns the path of the named entry inside lp.
func (lp LogicalPath) Child(name string) LogicalPath {
	return NewLogicalPath(lp.String() + "/" + name)
}

// Parent returns a LogicalPath representing the parent directory
func (lp LogicalPath) Parent() LogicalPath {
	return NewLogicalPath(path.Dir(lp.String()))
}

// Base returns the last element of the path
func (lp LogicalPath) Base() string {
	return path.Base(lp.String())
}

// IsRoot returns true if this is the root logical path "/"
func (lp LogicalPath) IsRoot() bool {
	return lp.String() == "/"
}

// Resolver maps logical paths onto the backing directory. It holds no
// mutable state; every call returns a freshly built string.
type Resolver struct {
	root string
}

// NewResolver creates a resolver rooted at the given backing directory.
func NewResolver(root string) *Resolver {
	return &Resolver{root: filepath.Clean(root)}
}

// Root returns the backing directory.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve returns the backing path for lp.
func (r *Resolver) Resolve(lp LogicalPath) string {
	rel := strings.TrimPrefix(lp.String(), "/")
	if rel == "" {
		return r.root
	}
	full := filepath.Join(r.root, filepath.FromSlash(rel))
	pathLogger.Trace("Resolving path: %q + %q -> %q", r.root, lp.String(), full)
	return full
}
