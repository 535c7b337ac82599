package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goplus/llpm/internal/build"
)

// mockVCS serves source fixtures: Fetch copies the fixture registered for a
// location into dir. Every revision resolves to "commit-<revision>".
type mockVCS struct {
	mu       sync.Mutex
	fixtures map[string]string // location -> fixture dir
	heads    map[string]string // dir -> checked out commit
	fetches  int
	block    bool // Fetch waits for ctx
}

func newMockVCS() *mockVCS {
	return &mockVCS{fixtures: map[string]string{}, heads: map[string]string{}}
}

func (m *mockVCS) Fetch(ctx context.Context, location, dir string) error {
	m.mu.Lock()
	m.fetches++
	fixture, ok := m.fixtures[location]
	block := m.block
	m.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if !ok {
		return errors.New("repository not found")
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.CopyFS(dir, os.DirFS(fixture))
}

func (m *mockVCS) Checkout(ctx context.Context, dir, revision string) error {
	hash, err := m.Resolve(ctx, dir, revision)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.heads[dir] = hash
	m.mu.Unlock()
	return nil
}

func (m *mockVCS) Resolve(ctx context.Context, dir, revision string) (string, error) {
	if _, err := os.Stat(dir); err != nil {
		return "", err
	}
	if revision == "" {
		revision = "HEAD"
	}
	return "commit-" + revision, nil
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

// toolRunner pretends to be cmake: "--build <dir>" writes lib<name>.a into
// the build dir, where name is the package owning the work directory.
type toolRunner struct {
	mu   sync.Mutex
	cmds map[string][]build.Command // package name -> commands
	fail map[string]error           // package name -> error of its build step
}

func newToolRunner() *toolRunner {
	return &toolRunner{cmds: map[string][]build.Command{}, fail: map[string]error{}}
}

// packageOf returns the name of the package that owns a build dir laid out
// as <work>/<name>@<version>/<platform>/build.
func packageOf(buildDir string) string {
	base := filepath.Base(filepath.Dir(filepath.Dir(buildDir)))
	name, _, _ := strings.Cut(base, "@")
	return name
}

func (r *toolRunner) Run(ctx context.Context, cmd build.Command) error {
	name := packageOf(cmd.Dir)
	r.mu.Lock()
	r.cmds[name] = append(r.cmds[name], cmd)
	err := r.fail[name]
	r.mu.Unlock()

	if len(cmd.Args) < 2 || cmd.Args[0] != "--build" {
		return nil
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cmd.Args[1], "lib"+name+".a"), []byte(name), 0644)
}

func (r *toolRunner) commands(name string) []build.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmds[name]
}

func (r *toolRunner) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, cmds := range r.cmds {
		n += len(cmds)
	}
	return n
}
