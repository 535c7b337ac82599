// Package recipe looks up the manifests of dependencies in a recipe
// directory, optionally synced from a remote repository.
//
// Recipe directory layout:
//
//	dir/
//	  <escaped>/
//	    manifest.yaml        # one version
//	    <version>/
//	      manifest.json      # per-version manifests
package recipe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/goplus/llpm/internal/vcs"
	"github.com/goplus/llpm/manifest"
	"github.com/goplus/llpm/mod/module"
)

// ErrNotFound is returned when no recipe declares the requested version.
var ErrNotFound = errors.New("recipe not found")

var manifestFiles = []string{"manifest.json", "manifest.yaml", "manifest.yml", "manifest.toml"}

// Store manages a recipe directory.
type Store struct {
	dir string

	vcs    vcs.VCS
	remote string
	ref    string

	mu     sync.Mutex
	synced bool
}

// Option configures a Store.
type Option func(*Store)

// WithRemote syncs the recipe directory from remote at ref, once, before
// the first lookup.
func WithRemote(v vcs.VCS, remote, ref string) Option {
	return func(s *Store) {
		s.vcs, s.remote, s.ref = v, remote, ref
	}
}

// New creates a Store over dir.
func New(dir string, opts ...Option) *Store {
	s := &Store{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the recipe directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) sync(ctx context.Context) error {
	if s.vcs == nil || s.remote == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.synced {
		return nil
	}
	log.FromContext(ctx).Info("syncing recipes", "remote", s.remote, "ref", s.ref)
	if err := s.vcs.Fetch(ctx, s.remote, s.dir); err != nil {
		return fmt.Errorf("sync recipes: %w", err)
	}
	if err := s.vcs.Checkout(ctx, s.dir, s.ref); err != nil {
		return fmt.Errorf("sync recipes: %w", err)
	}
	s.synced = true
	return nil
}

// Manifest returns the validated manifest of id.
func (s *Store) Manifest(ctx context.Context, id module.Version) (*manifest.PackageManifest, error) {
	if err := s.sync(ctx); err != nil {
		return nil, err
	}
	escaped, err := module.EscapePath(id.Path)
	if err != nil {
		return nil, err
	}
	pkgDir := filepath.Join(s.dir, escaped)
	for _, dir := range []string{filepath.Join(pkgDir, id.Version), pkgDir} {
		file, ok := find(dir)
		if !ok {
			continue
		}
		m, err := manifest.Load(file)
		if err != nil {
			return nil, err
		}
		if m.Name != id.Path {
			return nil, fmt.Errorf("%s: declares package %q, want %q", file, m.Name, id.Path)
		}
		if m.Version == id.Version {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
}

func find(dir string) (string, bool) {
	for _, name := range manifestFiles {
		file := filepath.Join(dir, name)
		if info, err := os.Stat(file); err == nil && !info.IsDir() {
			return file, true
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", false
		}
	}
	return "", false
}
