// Package pipeline runs the stages of a package build: dependency
// materialization, option resolution, source acquisition, build,
// artifact collection and publication.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/goplus/llpm/internal/build"
	"github.com/goplus/llpm/internal/collect"
	"github.com/goplus/llpm/internal/deps"
	"github.com/goplus/llpm/internal/descriptor"
	"github.com/goplus/llpm/internal/options"
	"github.com/goplus/llpm/internal/source"
	"github.com/goplus/llpm/internal/store"
	"github.com/goplus/llpm/manifest"
	"github.com/goplus/llpm/mod/module"
)

// Config wires a Runner.
type Config struct {
	Store    store.Store
	Source   *source.Acquirer
	Invoker  *build.Invoker
	Recipes  deps.ManifestSource
	Platform manifest.Platform

	// WorkDir holds source and build trees:
	// <WorkDir>/<escaped>@<version>/<platform>/{src,build,package}.
	WorkDir string

	Jobs          int
	SourceTimeout time.Duration

	// Now returns the build time recorded in descriptors.
	Now func() time.Time
}

// Runner builds packages and their dependencies.
type Runner struct {
	cfg Config
}

func New(cfg Config) *Runner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Jobs < 1 {
		cfg.Jobs = 1
	}
	return &Runner{cfg: cfg}
}

// Platform returns the target platform.
func (r *Runner) Platform() manifest.Platform {
	return r.cfg.Platform
}

// Run builds m once all its dependencies are available and publishes it.
// A package already in the store is returned as is.
func (r *Runner) Run(ctx context.Context, m *manifest.PackageManifest) (*descriptor.Descriptor, error) {
	logger := log.FromContext(ctx)
	id := m.ID()
	if d, err := r.cfg.Store.Lookup(ctx, id); err == nil {
		if err := d.CheckPlatform(r.cfg.Platform); err != nil {
			return nil, &StageError{Package: id, Stage: StagePublish, Err: err}
		}
		logger.Info("already published", "package", id, "dir", d.Dir)
		return d, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, &StageError{Package: id, Stage: StagePublish, Err: err}
	}

	logger.Info("materializing dependencies", "package", id, "count", len(m.Dependencies))
	mt := deps.New(r.cfg.Store, r.cfg.Recipes, r, r.cfg.Platform, r.cfg.Jobs)
	depDescs, err := mt.Materialize(ctx, m)
	if err != nil {
		return nil, &StageError{Package: id, Stage: StageDependencies, Err: err}
	}
	return r.BuildPackage(ctx, m, depDescs)
}

func (r *Runner) workDir(id module.Version) (string, error) {
	escaped, err := module.EscapePath(id.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.cfg.WorkDir, escaped+"@"+id.Version, r.cfg.Platform.Dir()), nil
}

// BuildPackage builds and publishes m against the already available
// packages deps, in declaration order. It holds the store lock of m
// throughout.
func (r *Runner) BuildPackage(ctx context.Context, m *manifest.PackageManifest, deps []*descriptor.Descriptor) (*descriptor.Descriptor, error) {
	logger := log.FromContext(ctx).With("package", m.ID())
	id := m.ID()
	fail := func(stage Stage, err error) (*descriptor.Descriptor, error) {
		return nil, &StageError{Package: id, Stage: stage, Err: err}
	}

	unlock, err := r.cfg.Store.Lock(ctx, id)
	if err != nil {
		return fail(StageLock, err)
	}
	defer unlock()

	// Double-check after acquiring the lock (another process may have built it)
	if d, err := r.cfg.Store.Lookup(ctx, id); err == nil {
		if err := d.CheckPlatform(r.cfg.Platform); err != nil {
			return fail(StagePublish, err)
		}
		logger.Debug("published meanwhile", "dir", d.Dir)
		return d, nil
	}

	opts := options.Resolve(m, r.cfg.Platform)
	logger.Info("resolved options", "platform", r.cfg.Platform, "options", opts.Map())

	base, err := r.workDir(id)
	if err != nil {
		return fail(StageValidate, err)
	}
	srcDir := filepath.Join(base, "src")
	buildDir := filepath.Join(base, "build")
	pkgDir := filepath.Join(base, "package")

	tree, err := r.acquire(ctx, m.Source, srcDir)
	if err != nil {
		return fail(StageSource, err)
	}

	logger.Info("building", "tool", m.Build.Tool, "revision", tree.Revision)
	if err := os.RemoveAll(buildDir); err != nil {
		return fail(StageBuild, err)
	}
	_, err = r.cfg.Invoker.Build(ctx, &build.Request{
		Package:   id,
		Platform:  r.cfg.Platform,
		SourceDir: tree.Dir,
		BuildDir:  buildDir,
		Options:   opts,
		Config:    m.Build,
		Deps:      deps,
		Jobs:      r.cfg.Jobs,
	})
	if err != nil {
		return fail(StageBuild, err)
	}

	if err := os.RemoveAll(pkgDir); err != nil {
		return fail(StageCollect, err)
	}
	res, err := collect.Collect(collect.Trees{Source: tree.Dir, Build: buildDir}, m.ArtifactRules, pkgDir)
	if err != nil {
		return fail(StageCollect, err)
	}
	for _, w := range res.Warnings {
		logger.Warn("artifact collision", "err", w)
	}

	d := descriptor.Emit(m, res.Artifacts, descriptor.BuildInfo{
		Platform: r.cfg.Platform,
		Revision: tree.Revision,
		Options:  opts,
		Time:     r.cfg.Now(),
	})
	published, err := r.cfg.Store.Publish(ctx, d, pkgDir)
	if err != nil {
		return fail(StagePublish, err)
	}
	logger.Info("published", "dir", published.Dir, "artifacts", len(published.Artifacts), "libs", published.Libs)
	return published, nil
}

func (r *Runner) acquire(ctx context.Context, ref manifest.SourceRef, dir string) (*source.Tree, error) {
	if r.cfg.SourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, r.cfg.SourceTimeout, build.ErrBuildTimedOut)
		defer cancel()
	}
	tree, err := r.cfg.Source.Acquire(ctx, ref, dir)
	if err != nil && errors.Is(context.Cause(ctx), build.ErrBuildTimedOut) {
		return nil, fmt.Errorf("%w: source acquisition exceeded %v: %w", build.ErrBuildTimedOut, r.cfg.SourceTimeout, err)
	}
	return tree, err
}
