// Package vcs drives the source-control system that source trees and
// recipe repositories are fetched with.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrRevisionNotFound is returned when a revision cannot be resolved to a
// commit of the local repository.
var ErrRevisionNotFound = errors.New("revision not found")

// defaultRef records the commit the remote's HEAD pointed at on the last
// fetch. An empty revision resolves to it.
const defaultRef = "refs/remotes/origin/HEAD"

// VCS defines the interface for version control operations.
type VCS interface {
	// Fetch makes dir a repository holding the branches and tags of
	// location. If dir doesn't exist, clones the repo. If dir exists,
	// fetches updates.
	Fetch(ctx context.Context, location, dir string) error

	// Checkout detaches the work tree of dir at revision. revision can
	// be a branch, tag, or commit hash. An empty revision checks out the
	// remote's default branch.
	Checkout(ctx context.Context, dir, revision string) error

	// Resolve returns the commit hash revision refers to in dir.
	Resolve(ctx context.Context, dir, revision string) (string, error)

	// Head returns the commit hash checked out in dir.
	Head(ctx context.Context, dir string) (string, error)
}

// gitVCS implements VCS using git.
type gitVCS struct {
	git string
}

// GitOption configures gitVCS.
type GitOption func(*gitVCS)

// WithGitPath sets a custom git executable path.
func WithGitPath(path string) GitOption {
	return func(g *gitVCS) {
		g.git = path
	}
}

// NewGitVCS creates a VCS driving the git executable.
func NewGitVCS(opts ...GitOption) VCS {
	g := &gitVCS{git: "git"}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *gitVCS) ensureInit(ctx context.Context, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		return g.run(ctx, dir, "init", "--quiet")
	}
	return nil
}

func (g *gitVCS) Fetch(ctx context.Context, location, dir string) error {
	if err := g.ensureInit(ctx, dir); err != nil {
		return err
	}
	args := []string{
		"fetch", "--quiet", "--force", "--tags", location,
		"+HEAD:" + defaultRef,
		"+refs/heads/*:refs/remotes/origin/*",
	}
	if err := g.run(ctx, dir, args...); err != nil {
		return fmt.Errorf("fetch %s: %w", location, err)
	}
	return nil
}

func (g *gitVCS) Checkout(ctx context.Context, dir, revision string) error {
	hash, err := g.Resolve(ctx, dir, revision)
	if err != nil {
		return err
	}
	if err := g.run(ctx, dir, "checkout", "--quiet", "--force", "--detach", hash); err != nil {
		return fmt.Errorf("checkout %s: %w", revision, err)
	}
	return nil
}

func (g *gitVCS) Resolve(ctx context.Context, dir, revision string) (string, error) {
	for _, rev := range candidates(revision) {
		out, err := g.output(ctx, dir, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
		if err == nil {
			return strings.TrimSpace(out), nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("%w: %q", ErrRevisionNotFound, revision)
}

func (g *gitVCS) Head(ctx context.Context, dir string) (string, error) {
	out, err := g.output(ctx, dir, "rev-parse", "--verify", "HEAD")
	if err != nil {
		return "", fmt.Errorf("get HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// candidates lists the names revision may be known by locally, in order
// of preference. Remote-tracking branches win over local ones, which go
// stale across fetches.
func candidates(revision string) []string {
	if revision == "" {
		return []string{defaultRef}
	}
	return []string{"refs/tags/" + revision, "refs/remotes/origin/" + revision, revision}
}

func (g *gitVCS) run(ctx context.Context, dir string, args ...string) error {
	_, err := g.output(ctx, dir, args...)
	return err
}

func (g *gitVCS) output(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.git, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%s", msg)
		}
		return "", err
	}
	return stdout.String(), nil
}
