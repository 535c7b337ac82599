// Package store publishes built packages and looks them up again.
//
// Store directory layout:
//
//	root/
//	  <escaped>/                 # package-level dir
//	    <version>.json           # descriptor (filesystem backend)
//	    .<version>.lock          # cross-process key lock
//	  <escaped>@<version>/       # package files
//	    include/
//	    lib/
//	    ...
//	  packages.db                # descriptors (SQLite backend)
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/goplus/llpm/internal/descriptor"
	"github.com/goplus/llpm/mod/module"
)

var (
	ErrNotFound = errors.New("package not found")
	ErrExists   = errors.New("package already published")
)

// Store holds published packages keyed by (name, version).
type Store interface {
	// Lookup returns the descriptor of a published package, or an error
	// matching ErrNotFound.
	Lookup(ctx context.Context, id module.Version) (*descriptor.Descriptor, error)

	// Publish moves the package layout in layoutDir into the store and
	// records d. The descriptor is recorded last, so a package is never
	// visible before its files are in place. The caller holds the key
	// lock of d.
	Publish(ctx context.Context, d *descriptor.Descriptor, layoutDir string) (*descriptor.Descriptor, error)

	// Versions lists the published versions of a package, oldest first.
	Versions(ctx context.Context, name string) ([]string, error)

	// Lock takes the key lock of id, waiting until it is free or ctx is
	// done.
	Lock(ctx context.Context, id module.Version) (unlock func(), err error)

	Close() error
}

// Backend names a store implementation.
type Backend string

const (
	BackendFS     Backend = "fs"
	BackendSQLite Backend = "sqlite"
)

// Open opens the store of the given backend rooted at dir.
func Open(backend Backend, dir string) (Store, error) {
	switch backend {
	case BackendFS, "":
		return OpenFS(dir)
	case BackendSQLite:
		return OpenSQLite(dir)
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}

// layout locates the files of packages below a store root.
type layout struct {
	root  string
	locks *keyLocks
}

func newLayout(root string) (layout, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return layout{}, err
	}
	return layout{root: root, locks: newKeyLocks()}, nil
}

// packageDir returns root/<escaped>.
func (l layout) packageDir(name string) (string, error) {
	escaped, err := module.EscapePath(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, escaped), nil
}

func sortVersions(versions []string) []string {
	slices.SortFunc(versions, module.CompareVersion)
	return versions
}

// filesDir returns root/<escaped>@<version>.
func (l layout) filesDir(id module.Version) (string, error) {
	escaped, err := module.EscapePath(id.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, escaped+"@"+id.Version), nil
}

func (l layout) lock(ctx context.Context, id module.Version) (func(), error) {
	dir, err := l.packageDir(id.Path)
	if err != nil {
		return nil, err
	}
	return l.locks.lock(ctx, id.String(), filepath.Join(dir, "."+id.Version+".lock"))
}

// place moves layoutDir to the files dir of id, replacing leftovers of
// an earlier failed publish.
func (l layout) place(id module.Version, layoutDir string) (string, error) {
	dst, err := l.filesDir(id)
	if err != nil {
		return "", err
	}
	if err := os.RemoveAll(dst); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", err
	}
	if err := os.Rename(layoutDir, dst); err == nil {
		return dst, nil
	}
	// layoutDir may be on another file system
	if err := os.CopyFS(dst, os.DirFS(layoutDir)); err != nil {
		os.RemoveAll(dst)
		return "", fmt.Errorf("copy package files: %w", err)
	}
	os.RemoveAll(layoutDir)
	return dst, nil
}
