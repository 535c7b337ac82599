// Package deps materializes the pinned dependency graph of a package.
package deps

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/goplus/llpm/internal/descriptor"
	"github.com/goplus/llpm/internal/store"
	"github.com/goplus/llpm/manifest"
	"github.com/goplus/llpm/mod/module"
)

var (
	ErrCyclicDependency      = errors.New("cyclic dependency")
	ErrDependencyBuildFailed = errors.New("dependency build failed")
)

// CycleError reports a dependency cycle. Path starts and ends with the
// same package.
type CycleError struct {
	Path []module.Version
}

func (e *CycleError) Error() string {
	names := make([]string, len(e.Path))
	for i, v := range e.Path {
		names[i] = v.String()
	}
	return "cyclic dependency: " + strings.Join(names, " -> ")
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCyclicDependency
}

// DependencyError reports the dependency whose build failed.
type DependencyError struct {
	Dependency module.Version
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %s: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Is(target error) bool {
	return target == ErrDependencyBuildFailed
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// Index finds already published packages.
type Index interface {
	Lookup(ctx context.Context, id module.Version) (*descriptor.Descriptor, error)
}

// ManifestSource provides the manifests of dependencies.
type ManifestSource interface {
	Manifest(ctx context.Context, id module.Version) (*manifest.PackageManifest, error)
}

// Builder builds and publishes one package whose dependencies are
// available. deps are in declaration order.
type Builder interface {
	BuildPackage(ctx context.Context, m *manifest.PackageManifest, deps []*descriptor.Descriptor) (*descriptor.Descriptor, error)
}

// Materializer makes every dependency of a package available.
type Materializer struct {
	index     Index
	manifests ManifestSource
	builder   Builder
	platform  manifest.Platform
	jobs      int64
}

// New creates a Materializer for platform p running at most jobs builds
// at once. Published packages built for another platform are rejected.
func New(index Index, manifests ManifestSource, builder Builder, p manifest.Platform, jobs int) *Materializer {
	if jobs < 1 {
		jobs = 1
	}
	return &Materializer{index: index, manifests: manifests, builder: builder, platform: p, jobs: int64(jobs)}
}

// node is a package of the planned graph.
type node struct {
	id       module.Version
	m        *manifest.PackageManifest // nil when published
	desc     *descriptor.Descriptor    // set when published
	children []*node

	result func() (*descriptor.Descriptor, error)
}

// Materialize builds every unpublished dependency of root, children
// before parents, and returns the descriptors of the direct dependencies
// of root in declaration order. A cycle is reported before anything is
// built.
func (mt *Materializer) Materialize(ctx context.Context, root *manifest.PackageManifest) ([]*descriptor.Descriptor, error) {
	p := &planner{
		index:      mt.index,
		manifests:  mt.manifests,
		platform:   mt.platform,
		nodes:      make(map[module.Version]*node),
		inProgress: make(map[module.Version]bool),
	}
	rootNode, err := p.plan(ctx, root)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	sem := semaphore.NewWeighted(mt.jobs)
	for _, n := range p.nodes {
		n.result = sync.OnceValues(func() (*descriptor.Descriptor, error) {
			return mt.build(ctx, cancel, sem, n)
		})
	}

	descs, err := waitAll(rootNode.children)
	if err != nil {
		// siblings canceled by the first failure may finish before it
		if cause := context.Cause(ctx); errors.Is(cause, ErrDependencyBuildFailed) {
			return nil, cause
		}
		return nil, err
	}
	return descs, nil
}

func (mt *Materializer) build(ctx context.Context, cancel context.CancelCauseFunc, sem *semaphore.Weighted, n *node) (*descriptor.Descriptor, error) {
	if n.desc != nil {
		return n.desc, nil
	}
	deps, err := waitAll(n.children)
	if err != nil {
		return nil, err
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer sem.Release(1)

	log.FromContext(ctx).Info("building dependency", "package", n.id)
	d, err := mt.builder.BuildPackage(ctx, n.m, deps)
	if err != nil {
		var derr *DependencyError
		if !errors.As(err, &derr) {
			derr = &DependencyError{Dependency: n.id, Err: err}
		}
		cancel(derr)
		return nil, derr
	}
	return d, nil
}

// waitAll completes nodes concurrently and returns their descriptors in
// the order of nodes.
func waitAll(nodes []*node) ([]*descriptor.Descriptor, error) {
	descs := make([]*descriptor.Descriptor, len(nodes))
	var g errgroup.Group
	for i, n := range nodes {
		g.Go(func() error {
			d, err := n.result()
			if err != nil {
				return err
			}
			descs[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return descs, nil
}

type planner struct {
	index      Index
	manifests  ManifestSource
	platform   manifest.Platform
	nodes      map[module.Version]*node
	inProgress map[module.Version]bool
	stack      []module.Version
}

func (p *planner) plan(ctx context.Context, root *manifest.PackageManifest) (*node, error) {
	return p.expand(ctx, &node{id: root.ID(), m: root})
}

// visit plans id, depth first.
func (p *planner) visit(ctx context.Context, id module.Version) (*node, error) {
	if n, ok := p.nodes[id]; ok {
		return n, nil
	}
	if p.inProgress[id] {
		i := slices.Index(p.stack, id)
		path := append(slices.Clone(p.stack[i:]), id)
		return nil, &CycleError{Path: path}
	}

	d, err := p.index.Lookup(ctx, id)
	if err == nil {
		if err := d.CheckPlatform(p.platform); err != nil {
			return nil, &DependencyError{Dependency: id, Err: err}
		}
		log.FromContext(ctx).Debug("dependency already published", "package", id)
		n := &node{id: id, desc: d}
		p.nodes[id] = n
		return n, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	m, err := p.manifests.Manifest(ctx, id)
	if err != nil {
		return nil, &DependencyError{Dependency: id, Err: err}
	}
	n, err := p.expand(ctx, &node{id: id, m: m})
	if err != nil {
		return nil, err
	}
	p.nodes[id] = n
	return n, nil
}

func (p *planner) expand(ctx context.Context, n *node) (*node, error) {
	p.inProgress[n.id] = true
	p.stack = append(p.stack, n.id)
	defer func() {
		p.stack = p.stack[:len(p.stack)-1]
		delete(p.inProgress, n.id)
	}()
	for _, dep := range n.m.Dependencies {
		child, err := p.visit(ctx, dep)
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, child)
	}
	return n, nil
}
