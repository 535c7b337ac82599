// Package source acquires package source trees pinned to a revision.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/goplus/llpm/internal/vcs"
	"github.com/goplus/llpm/manifest"
)

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrRevisionNotFound  = errors.New("revision not found")
)

// Tree is an acquired source tree.
type Tree struct {
	Dir      string
	Revision string // commit hash checked out in Dir
	Fetched  bool   // false when an already pinned tree was reused
}

// Acquirer fetches source trees through a VCS.
type Acquirer struct {
	vcs vcs.VCS
}

func NewAcquirer(v vcs.VCS) *Acquirer {
	return &Acquirer{vcs: v}
}

// Acquire makes dir hold the source of ref. If dir already holds a
// repository checked out at ref.Revision, nothing is fetched.
func (a *Acquirer) Acquire(ctx context.Context, ref manifest.SourceRef, dir string) (*Tree, error) {
	logger := log.FromContext(ctx)

	if ref.Revision != "" {
		if head, ok := a.pinned(ctx, ref.Revision, dir); ok {
			logger.Debug("source already pinned", "dir", dir, "revision", ref.Revision)
			return &Tree{Dir: dir, Revision: head}, nil
		}
	}

	logger.Info("fetching source", "location", ref.Location, "revision", ref.Revision)
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return nil, err
	}
	if err := a.vcs.Fetch(ctx, ref.Location, dir); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s: %w", ref.Location, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, ref.Location, err)
	}
	if err := a.vcs.Checkout(ctx, dir, ref.Revision); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("checkout %s: %w", ref.Revision, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %q in %s: %w", ErrRevisionNotFound, ref.Revision, ref.Location, err)
	}
	head, err := a.vcs.Head(ctx, dir)
	if err != nil {
		return nil, err
	}
	return &Tree{Dir: dir, Revision: head, Fetched: true}, nil
}

// pinned reports whether dir is a repository whose HEAD is revision.
func (a *Acquirer) pinned(ctx context.Context, revision, dir string) (string, bool) {
	head, err := a.vcs.Head(ctx, dir)
	if err != nil {
		return "", false
	}
	want, err := a.vcs.Resolve(ctx, dir, revision)
	if err != nil || want != head {
		return "", false
	}
	return head, true
}
