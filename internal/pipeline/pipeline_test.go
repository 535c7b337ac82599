package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/goplus/llpm/internal/build"
	"github.com/goplus/llpm/internal/deps"
	"github.com/goplus/llpm/internal/descriptor"
	"github.com/goplus/llpm/internal/recipe"
	"github.com/goplus/llpm/internal/source"
	"github.com/goplus/llpm/internal/store"
	"github.com/goplus/llpm/manifest"
	"github.com/goplus/llpm/mod/module"
)

const fooManifest = `
name: foo
version: "1.0"
options:
  shared: [true, false]
  fPIC: [true, false]
defaultOptions:
  shared: false
  fPIC: true
optionRules:
  - option: fPIC
    platforms: [windows]
dependencies:
  - name: bar
    version: "2.1"
source:
  location: https://example.com/foo.git
  revision: v1.0
artifactRules:
  - pattern: "*.h"
    role: header
    src: include
  - pattern: "*.a"
    role: static-lib
    flatten: true
`

const barManifest = `
name: bar
version: "2.1"
source:
  location: https://example.com/bar.git
artifactRules:
  - pattern: "*.h"
    role: header
  - pattern: "*.a"
    role: static-lib
`

var buildTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	runner  *Runner
	vcs     *mockVCS
	tools   *toolRunner
	store   store.Store
	recipes string
}

func writeFile(t *testing.T, file, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newFixture(t *testing.T, platform string, opts ...build.InvokerOption) *fixture {
	t.Helper()
	root := t.TempDir()
	p, err := manifest.ParsePlatform(platform)
	if err != nil {
		t.Fatal(err)
	}

	v := newMockVCS()
	fooSrc := filepath.Join(root, "upstream", "foo")
	writeFile(t, filepath.Join(fooSrc, "include", "foo.h"), "int foo(void);")
	writeFile(t, filepath.Join(fooSrc, "CMakeLists.txt"), "project(foo)")
	writeFile(t, filepath.Join(fooSrc, "src", "detail", "impl.h"), "#pragma once")
	v.fixtures["https://example.com/foo.git"] = fooSrc
	v.fixtures["repo"] = fooSrc
	barSrc := filepath.Join(root, "upstream", "bar")
	writeFile(t, filepath.Join(barSrc, "bar.h"), "int bar(void);")
	v.fixtures["https://example.com/bar.git"] = barSrc

	recipes := filepath.Join(root, "recipes")
	writeFile(t, filepath.Join(recipes, "bar", "manifest.yaml"), barManifest)

	s, err := store.OpenFS(filepath.Join(root, "store"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	tools := newToolRunner()
	r := New(Config{
		Store:    s,
		Source:   source.NewAcquirer(v),
		Invoker:  build.NewInvoker(tools, opts...),
		Recipes:  recipe.New(recipes),
		Platform: p,
		WorkDir:  filepath.Join(root, "work"),
		Jobs:     2,
		Now:      func() time.Time { return buildTime },
	})
	return &fixture{runner: r, vcs: v, tools: tools, store: s, recipes: recipes}
}

func parseManifest(t *testing.T, content string) *manifest.PackageManifest {
	t.Helper()
	m, err := manifest.Parse([]byte(content), manifest.FormatYAML)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func argsContain(cmds []build.Command, s string) bool {
	for _, c := range cmds {
		if slices.Contains(c.Args, s) {
			return true
		}
	}
	return false
}

func TestRunEndToEnd(t *testing.T) {
	f := newFixture(t, "linux/amd64")
	d, err := f.runner.Run(context.Background(), parseManifest(t, fooManifest))
	if err != nil {
		t.Fatal(err)
	}

	want := &descriptor.Descriptor{
		Name:     "foo",
		Version:  "1.0",
		Platform: "linux/amd64",
		Revision: "commit-v1.0",
		Options:  map[string]string{"shared": "false", "fPIC": "true"},
		Artifacts: []descriptor.Artifact{
			{Path: "include/foo.h", Role: manifest.RoleHeader},
			{Path: "lib/libfoo.a", Role: manifest.RoleStaticLib},
		},
		Libs:         []string{"foo"},
		Dependencies: []module.Version{{Path: "bar", Version: "2.1"}},
		BuildTime:    buildTime,
	}
	if diff := cmp.Diff(want, d, cmpopts.IgnoreFields(descriptor.Descriptor{}, "Dir")); diff != "" {
		t.Errorf("descriptor mismatch (-want +got):\n%s", diff)
	}
	for _, a := range d.Artifacts {
		if _, err := os.Stat(filepath.Join(d.Dir, filepath.FromSlash(a.Path))); err != nil {
			t.Errorf("artifact %s: %v", a.Path, err)
		}
	}

	got, err := f.store.Lookup(context.Background(), module.Version{Path: "foo", Version: "1.0"})
	if err != nil {
		t.Fatalf("Lookup(foo@1.0): %v", err)
	}
	if diff := cmp.Diff(d, got); diff != "" {
		t.Errorf("stored descriptor mismatch (-published +lookup):\n%s", diff)
	}

	bar, err := f.store.Lookup(context.Background(), module.Version{Path: "bar", Version: "2.1"})
	if err != nil {
		t.Fatalf("Lookup(bar@2.1): %v", err)
	}
	if !slices.Equal(bar.Libs, []string{"bar"}) {
		t.Errorf("bar libs = %v, want [bar]", bar.Libs)
	}

	fooCmds := f.tools.commands("foo")
	if !argsContain(fooCmds, "-DCMAKE_POSITION_INDEPENDENT_CODE:BOOL=ON") {
		t.Errorf("foo configure lacks fPIC define: %v", fooCmds)
	}
	if !argsContain(fooCmds, "-DBUILD_SHARED_LIBS:BOOL=OFF") {
		t.Errorf("foo configure lacks shared define: %v", fooCmds)
	}
	found := false
	for _, e := range fooCmds[0].Env {
		if strings.HasPrefix(e, "CMAKE_PREFIX_PATH=") && strings.Contains(e, bar.Dir) {
			found = true
		}
	}
	if !found {
		t.Errorf("foo build env does not expose bar at %s: %v", bar.Dir, fooCmds[0].Env)
	}
}

func TestRunHeadersOnly(t *testing.T) {
	f := newFixture(t, "linux/amd64")
	m := parseManifest(t, `
name: foo
version: "1.0"
source:
  location: repo
  revision: v1.0
artifactRules:
  - pattern: "*.h"
    role: header
    flatten: true
`)
	d, err := f.runner.Run(context.Background(), m)
	if err != nil {
		t.Fatal(err)
	}
	if f.vcs.fetches != 1 {
		t.Errorf("fetches = %d, want 1", f.vcs.fetches)
	}
	if d.Revision != "commit-v1.0" {
		t.Errorf("revision = %q", d.Revision)
	}
	want := []descriptor.Artifact{
		{Path: "include/foo.h", Role: manifest.RoleHeader},
		{Path: "include/impl.h", Role: manifest.RoleHeader},
	}
	if diff := cmp.Diff(want, d.Artifacts); diff != "" {
		t.Errorf("artifacts mismatch (-want +got):\n%s", diff)
	}
	if d.Libs == nil || len(d.Libs) != 0 {
		t.Errorf("libs = %#v, want empty", d.Libs)
	}
	var configured, built bool
	for _, c := range f.tools.commands("foo") {
		configured = configured || slices.Contains(c.Args, "-S")
		built = built || slices.Contains(c.Args, "--build")
	}
	if !configured || !built {
		t.Errorf("configure ran %v, build ran %v", configured, built)
	}
}

func TestRunAlreadyPublished(t *testing.T) {
	f := newFixture(t, "linux/amd64")
	m := parseManifest(t, fooManifest)
	first, err := f.runner.Run(context.Background(), m)
	if err != nil {
		t.Fatal(err)
	}
	calls, fetches := f.tools.total(), f.vcs.fetches

	second, err := f.runner.Run(context.Background(), m)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second run mismatch (-first +second):\n%s", diff)
	}
	if f.tools.total() != calls || f.vcs.fetches != fetches {
		t.Errorf("second run did work: %d commands, %d fetches", f.tools.total()-calls, f.vcs.fetches-fetches)
	}
}

func TestRunPublishedForOtherPlatform(t *testing.T) {
	f := newFixture(t, "linux/amd64")
	if _, err := f.runner.Run(context.Background(), parseManifest(t, barManifest)); err != nil {
		t.Fatal(err)
	}
	cfg := f.runner.cfg
	cfg.Platform = manifest.Platform{OS: "windows", Arch: "amd64"}
	windows := New(cfg)
	calls := f.tools.total()

	_, err := windows.Run(context.Background(), parseManifest(t, barManifest))
	if !errors.Is(err, descriptor.ErrPlatformMismatch) {
		t.Fatalf("err = %v, want ErrPlatformMismatch", err)
	}
	if got := Describe(err).Stage; got != StagePublish {
		t.Errorf("stage = %s, want %s", got, StagePublish)
	}

	// bar is a dependency of foo
	_, err = windows.Run(context.Background(), parseManifest(t, fooManifest))
	if !errors.Is(err, descriptor.ErrPlatformMismatch) {
		t.Fatalf("err = %v, want ErrPlatformMismatch", err)
	}
	if got := Describe(err).Stage; got != StageDependencies {
		t.Errorf("stage = %s, want %s", got, StageDependencies)
	}
	if f.tools.total() != calls {
		t.Errorf("ran %d commands for another platform", f.tools.total()-calls)
	}
}

func TestRunWindowsDropsFPIC(t *testing.T) {
	f := newFixture(t, "windows/amd64")
	d, err := f.runner.Run(context.Background(), parseManifest(t, fooManifest))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := d.Options["fPIC"]; ok {
		t.Errorf("options = %v, want no fPIC", d.Options)
	}
	for _, c := range f.tools.commands("foo") {
		for _, a := range c.Args {
			if strings.Contains(a, "POSITION_INDEPENDENT") {
				t.Errorf("windows configure sets %s", a)
			}
		}
	}
}

func TestRunBuildFailurePublishesNothing(t *testing.T) {
	f := newFixture(t, "linux/amd64")
	f.tools.fail["foo"] = errors.New("exit status 2")

	_, err := f.runner.Run(context.Background(), parseManifest(t, fooManifest))
	if !errors.Is(err, build.ErrBuildFailed) {
		t.Fatalf("Run error = %v, want ErrBuildFailed", err)
	}
	failure := Describe(err)
	want := module.Version{Path: "foo", Version: "1.0"}
	if failure.Package != want || failure.Stage != StageBuild || failure.Kind != build.ErrBuildFailed {
		t.Errorf("Describe = %+v", failure)
	}

	if _, err := f.store.Lookup(context.Background(), want); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Lookup(foo@1.0) error = %v, want ErrNotFound", err)
	}
	// The dependency built fine and stays published.
	if _, err := f.store.Lookup(context.Background(), module.Version{Path: "bar", Version: "2.1"}); err != nil {
		t.Errorf("Lookup(bar@2.1): %v", err)
	}
}

func TestRunDependencyFailure(t *testing.T) {
	f := newFixture(t, "linux/amd64")
	f.tools.fail["bar"] = errors.New("exit status 1")

	_, err := f.runner.Run(context.Background(), parseManifest(t, fooManifest))
	if !errors.Is(err, deps.ErrDependencyBuildFailed) {
		t.Fatalf("Run error = %v, want ErrDependencyBuildFailed", err)
	}
	failure := Describe(err)
	if failure.Package != (module.Version{Path: "bar", Version: "2.1"}) || failure.Stage != StageBuild {
		t.Errorf("Describe = %+v, want bar@2.1 at build", failure)
	}
	if failure.Kind != deps.ErrDependencyBuildFailed {
		t.Errorf("Describe kind = %v", failure.Kind)
	}
	if len(f.tools.commands("foo")) != 0 {
		t.Error("foo was built despite a failed dependency")
	}
}

func TestRunCycle(t *testing.T) {
	f := newFixture(t, "linux/amd64")
	writeFile(t, filepath.Join(f.recipes, "bar", "manifest.yaml"), barManifest+`
dependencies:
  - name: foo
    version: "1.0"
`)
	_, err := f.runner.Run(context.Background(), parseManifest(t, fooManifest))
	if !errors.Is(err, deps.ErrCyclicDependency) {
		t.Fatalf("Run error = %v, want ErrCyclicDependency", err)
	}
	if n := f.tools.total(); n != 0 {
		t.Errorf("%d build commands ran", n)
	}
	if f.vcs.fetches != 0 {
		t.Errorf("%d fetches", f.vcs.fetches)
	}
}

func TestRunSourceUnavailable(t *testing.T) {
	f := newFixture(t, "linux/amd64")
	delete(f.vcs.fixtures, "https://example.com/foo.git")

	_, err := f.runner.Run(context.Background(), parseManifest(t, fooManifest))
	if !errors.Is(err, source.ErrSourceUnavailable) {
		t.Fatalf("Run error = %v, want ErrSourceUnavailable", err)
	}
	if failure := Describe(err); failure.Stage != StageSource || failure.Kind != source.ErrSourceUnavailable {
		t.Errorf("Describe = %+v", failure)
	}
}

func TestRunSourceTimeout(t *testing.T) {
	f := newFixture(t, "linux/amd64")
	f.runner.cfg.SourceTimeout = 20 * time.Millisecond
	f.vcs.block = true

	m := parseManifest(t, barManifest)
	_, err := f.runner.Run(context.Background(), m)
	if !errors.Is(err, build.ErrBuildTimedOut) {
		t.Fatalf("Run error = %v, want ErrBuildTimedOut", err)
	}
	if failure := Describe(err); failure.Stage != StageSource || failure.Kind != build.ErrBuildTimedOut {
		t.Errorf("Describe = %+v", failure)
	}
}

func TestRunRebuildReusesPinnedSource(t *testing.T) {
	f := newFixture(t, "linux/amd64")
	f.tools.fail["bar"] = errors.New("exit status 1")
	pinned := strings.Replace(barManifest, "bar.git\n", "bar.git\n  revision: v2.1\n", 1)
	m := parseManifest(t, pinned)
	if _, err := f.runner.Run(context.Background(), m); err == nil {
		t.Fatal("first run succeeded")
	}
	delete(f.tools.fail, "bar")
	if _, err := f.runner.Run(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if f.vcs.fetches != 1 {
		t.Errorf("fetches = %d, want 1", f.vcs.fetches)
	}
}

func TestDescribe(t *testing.T) {
	foo := module.Version{Path: "foo", Version: "1.0"}
	bar := module.Version{Path: "bar", Version: "2.1"}
	tests := []struct {
		name string
		err  error
		want Failure
	}{
		{
			name: "unclassified",
			err:  errors.New("disk full"),
			want: Failure{},
		},
		{
			name: "stage",
			err:  &StageError{Package: foo, Stage: StageCollect, Err: errors.New("disk full")},
			want: Failure{Package: foo, Stage: StageCollect},
		},
		{
			name: "nested",
			err: &StageError{Package: foo, Stage: StageDependencies, Err: &deps.DependencyError{
				Dependency: bar,
				Err:        &StageError{Package: bar, Stage: StageSource, Err: source.ErrRevisionNotFound},
			}},
			want: Failure{Package: bar, Stage: StageSource, Kind: deps.ErrDependencyBuildFailed},
		},
		{
			name: "revision",
			err:  &StageError{Package: foo, Stage: StageSource, Err: source.ErrRevisionNotFound},
			want: Failure{Package: foo, Stage: StageSource, Kind: source.ErrRevisionNotFound},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Describe(tt.err)
			got.Err = nil
			if got.Package != tt.want.Package || got.Stage != tt.want.Stage || got.Kind != tt.want.Kind {
				t.Errorf("Describe() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
