package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goplus/llpm/internal/vcs"
)

// mockVCS is an in-memory VCS. Each remote maps revisions to commit hashes.
type mockVCS struct {
	mu      sync.Mutex
	remotes map[string]map[string]string
	dirs    map[string]string // dir -> remote location
	heads   map[string]string // dir -> checked out hash
	fetches int
}

func newMockVCS() *mockVCS {
	return &mockVCS{
		remotes: map[string]map[string]string{
			"https://example.com/foo.git": {
				"":     "cccc",
				"v1.0": "aaaa",
				"v1.1": "bbbb",
				"aaaa": "aaaa",
				"bbbb": "bbbb",
				"cccc": "cccc",
			},
		},
		dirs:  map[string]string{},
		heads: map[string]string{},
	}
}

func (m *mockVCS) Fetch(ctx context.Context, location, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := m.remotes[location]; !ok {
		return fmt.Errorf("repository %s not found", location)
	}
	m.dirs[dir] = location
	return nil
}

func (m *mockVCS) Checkout(ctx context.Context, dir, revision string) error {
	hash, err := m.Resolve(ctx, dir, revision)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heads[dir] = hash
	return nil
}

func (m *mockVCS) Resolve(ctx context.Context, dir, revision string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	location, ok := m.dirs[dir]
	if !ok {
		return "", errors.New("not a repository")
	}
	hash, ok := m.remotes[location][revision]
	if !ok {
		return "", vcs.ErrRevisionNotFound
	}
	return hash, nil
}

func (m *mockVCS) Head(ctx context.Context, dir string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	head, ok := m.heads[dir]
	if !ok {
		return "", errors.New("not a repository")
	}
	return head, nil
}
