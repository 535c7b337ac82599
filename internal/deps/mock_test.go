package deps

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goplus/llpm/internal/descriptor"
	"github.com/goplus/llpm/internal/store"
	"github.com/goplus/llpm/manifest"
	"github.com/goplus/llpm/mod/module"
)

// mockIndex is an in-memory package index.
type mockIndex struct {
	mu       sync.Mutex
	packages map[module.Version]*descriptor.Descriptor
}

func (x *mockIndex) Lookup(ctx context.Context, id module.Version) (*descriptor.Descriptor, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if d, ok := x.packages[id]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%s: %w", id, store.ErrNotFound)
}

// mockRecipes maps "name@version" to dependency lists.
type mockRecipes struct {
	graph     map[string][]string
	mu        sync.Mutex
	requested []string
}

func (r *mockRecipes) Manifest(ctx context.Context, id module.Version) (*manifest.PackageManifest, error) {
	r.mu.Lock()
	r.requested = append(r.requested, id.String())
	r.mu.Unlock()
	deps, ok := r.graph[id.String()]
	if !ok {
		return nil, fmt.Errorf("no recipe for %s", id)
	}
	return newManifest(id.String(), deps...), nil
}

func newManifest(id string, deps ...string) *manifest.PackageManifest {
	v := module.Parse(id)
	m := &manifest.PackageManifest{Name: v.Path, Version: v.Version}
	for _, d := range deps {
		m.Dependencies = append(m.Dependencies, module.Parse(d))
	}
	return m
}

// mockBuilder records builds. delay and fail are keyed by "name@version".
type mockBuilder struct {
	delay map[string]time.Duration
	fail  map[string]error

	mu      sync.Mutex
	built   []string
	depsOf  map[string][]string
	running atomic.Int32
	peak    atomic.Int32
}

func (b *mockBuilder) BuildPackage(ctx context.Context, m *manifest.PackageManifest, deps []*descriptor.Descriptor) (*descriptor.Descriptor, error) {
	id := m.ID().String()
	n := b.running.Add(1)
	defer b.running.Add(-1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}

	select {
	case <-time.After(b.delay[id]):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := b.fail[id]; err != nil {
		return nil, err
	}

	var names []string
	for _, d := range deps {
		names = append(names, d.ID().String())
	}
	b.mu.Lock()
	b.built = append(b.built, id)
	if b.depsOf == nil {
		b.depsOf = make(map[string][]string)
	}
	b.depsOf[id] = names
	b.mu.Unlock()
	return &descriptor.Descriptor{Name: m.Name, Version: m.Version, Libs: []string{m.Name}}, nil
}

func (b *mockBuilder) builtList() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.built...)
}
