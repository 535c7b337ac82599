package vcs

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
}

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	args = append([]string{"-c", "user.name=llpm", "-c", "user.email=llpm@example.com", "-c", "commit.gpgsign=false"}, args...)
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// newUpstream creates a repository with a v1.0 tag and one later commit.
func newUpstream(t *testing.T) (dir, v1, v2 string) {
	t.Helper()
	dir = t.TempDir()
	gitCmd(t, dir, "init", "--quiet")
	gitCmd(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	os.WriteFile(filepath.Join(dir, "foo.h"), []byte("// v1\n"), 0644)
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "--quiet", "-m", "v1")
	gitCmd(t, dir, "tag", "v1.0")
	v1 = gitCmd(t, dir, "rev-parse", "HEAD")

	os.WriteFile(filepath.Join(dir, "foo.h"), []byte("// v2\n"), 0644)
	gitCmd(t, dir, "commit", "--quiet", "-am", "v2")
	v2 = gitCmd(t, dir, "rev-parse", "HEAD")
	return dir, v1, v2
}

func TestGitVCS(t *testing.T) {
	requireGit(t)
	upstream, v1, v2 := newUpstream(t)
	testVCS(t, NewGitVCS(), upstream, v1, v2)
}

func TestGoGit(t *testing.T) {
	requireGit(t)
	upstream, v1, v2 := newUpstream(t)
	testVCS(t, NewGoGit(), upstream, v1, v2)
}

func testVCS(t *testing.T, v VCS, upstream, v1, v2 string) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "src")

	if err := v.Fetch(ctx, upstream, dir); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if err := v.Checkout(ctx, dir, "v1.0"); err != nil {
		t.Fatalf("Checkout v1.0 failed: %v", err)
	}
	if head, err := v.Head(ctx, dir); err != nil || head != v1 {
		t.Errorf("Head() = %q, %v; want %q", head, err, v1)
	}
	data, err := os.ReadFile(filepath.Join(dir, "foo.h"))
	if err != nil || string(data) != "// v1\n" {
		t.Errorf("foo.h = %q, %v; want v1 content", data, err)
	}

	if got, err := v.Resolve(ctx, dir, ""); err != nil || got != v2 {
		t.Errorf("Resolve(default) = %q, %v; want %q", got, err, v2)
	}
	if got, err := v.Resolve(ctx, dir, v2); err != nil || got != v2 {
		t.Errorf("Resolve(hash) = %q, %v; want %q", got, err, v2)
	}
	if _, err := v.Resolve(ctx, dir, "v9.9"); !errors.Is(err, ErrRevisionNotFound) {
		t.Errorf("Resolve(v9.9) error = %v, want ErrRevisionNotFound", err)
	}
	if err := v.Checkout(ctx, dir, "v9.9"); !errors.Is(err, ErrRevisionNotFound) {
		t.Errorf("Checkout(v9.9) error = %v, want ErrRevisionNotFound", err)
	}

	// fetching again into an existing repository updates it in place
	if err := v.Fetch(ctx, upstream, dir); err != nil {
		t.Fatalf("second Fetch failed: %v", err)
	}
	if err := v.Checkout(ctx, dir, ""); err != nil {
		t.Fatalf("Checkout(default) failed: %v", err)
	}
	if head, err := v.Head(ctx, dir); err != nil || head != v2 {
		t.Errorf("Head() after default checkout = %q, %v; want %q", head, err, v2)
	}

	// a branch follows the remote, not a local branch left by the clone
	os.WriteFile(filepath.Join(upstream, "foo.h"), []byte("// v3\n"), 0644)
	gitCmd(t, upstream, "commit", "--quiet", "-am", "v3")
	v3 := gitCmd(t, upstream, "rev-parse", "HEAD")
	if err := v.Fetch(ctx, upstream, dir); err != nil {
		t.Fatalf("third Fetch failed: %v", err)
	}
	if got, err := v.Resolve(ctx, dir, "main"); err != nil || got != v3 {
		t.Errorf("Resolve(main) = %q, %v; want %q", got, err, v3)
	}
	if got, err := v.Resolve(ctx, dir, "v1.0"); err != nil || got != v1 {
		t.Errorf("Resolve(v1.0) = %q, %v; want %q", got, err, v1)
	}
}

func TestFetchUnavailable(t *testing.T) {
	requireGit(t)
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	for name, v := range map[string]VCS{"git": NewGitVCS(), "go-git": NewGoGit()} {
		t.Run(name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "src")
			if err := v.Fetch(context.Background(), missing, dir); err == nil {
				t.Error("Fetch of a missing location succeeded")
			}
		})
	}
}

func TestHeadNotRepository(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	for name, v := range map[string]VCS{"git": NewGitVCS(), "go-git": NewGoGit()} {
		if _, err := v.Head(context.Background(), dir); err == nil {
			t.Errorf("%s: Head of a plain directory succeeded", name)
		}
	}
}

func TestWithGitPath(t *testing.T) {
	v := NewGitVCS(WithGitPath("/opt/git/bin/git")).(*gitVCS)
	if v.git != "/opt/git/bin/git" {
		t.Errorf("git = %q", v.git)
	}
	if err := v.Fetch(context.Background(), "x", filepath.Join(t.TempDir(), "r")); err == nil {
		t.Error("Fetch with a missing git executable succeeded")
	}
}
