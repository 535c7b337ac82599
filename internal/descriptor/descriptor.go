// Package descriptor emits the metadata record of a built package.
package descriptor

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/goplus/llpm/internal/collect"
	"github.com/goplus/llpm/internal/options"
	"github.com/goplus/llpm/manifest"
	"github.com/goplus/llpm/mod/module"
)

// ErrPlatformMismatch reports a published package built for another
// platform than the one requested.
var ErrPlatformMismatch = errors.New("package published for another platform")

// Artifact is a file of a published package.
type Artifact struct {
	Path string        `json:"path"` // slash separated, relative to the package root
	Role manifest.Role `json:"role"`
}

// Descriptor describes a built package. It is immutable once published.
type Descriptor struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Platform     string            `json:"platform"`
	Revision     string            `json:"revision,omitempty"`
	Options      map[string]string `json:"options,omitempty"`
	Artifacts    []Artifact        `json:"artifacts"`
	Libs         []string          `json:"libs"`
	Dependencies []module.Version  `json:"dependencies,omitempty"`
	BuildTime    time.Time         `json:"build_time"`

	// Dir is the package root inside the store. It is set by the store.
	Dir string `json:"-"`
}

// BuildInfo records how a package was built.
type BuildInfo struct {
	Platform manifest.Platform
	Revision string
	Options  options.ResolvedOptionSet
	Time     time.Time
}

// ID returns the package identity.
func (d *Descriptor) ID() module.Version {
	return module.Version{Path: d.Name, Version: d.Version}
}

// CheckPlatform returns an error matching ErrPlatformMismatch unless d
// was built for p.
func (d *Descriptor) CheckPlatform(p manifest.Platform) error {
	if d.Platform == p.String() {
		return nil
	}
	return fmt.Errorf("%s: %w: built for %s, want %s", d.ID(), ErrPlatformMismatch, d.Platform, p)
}

// Emit creates the descriptor of m from its collected artifacts.
func Emit(m *manifest.PackageManifest, artifacts []collect.Artifact, info BuildInfo) *Descriptor {
	d := &Descriptor{
		Name:         m.Name,
		Version:      m.Version,
		Platform:     info.Platform.String(),
		Revision:     info.Revision,
		Options:      info.Options.Map(),
		Artifacts:    make([]Artifact, 0, len(artifacts)),
		Dependencies: slices.Clone(m.Dependencies),
		BuildTime:    info.Time,
	}
	for _, a := range artifacts {
		d.Artifacts = append(d.Artifacts, Artifact{Path: a.Dest, Role: a.Role})
	}
	if m.HasLibs {
		d.Libs = slices.Clone(m.Libs)
	} else {
		d.Libs = deriveLibs(d.Artifacts)
	}
	if d.Libs == nil {
		d.Libs = []string{}
	}
	return d
}

func deriveLibs(artifacts []Artifact) []string {
	var libs []string
	for _, a := range artifacts {
		if !a.Role.IsLibrary() {
			continue
		}
		if name, ok := LibName(path.Base(a.Path)); ok && !slices.Contains(libs, name) {
			libs = append(libs, name)
		}
	}
	return libs
}

// LibName returns the link name of a library file: "libvma.a", "vma.lib"
// and "libfoo.so.1.2" yield "vma", "vma" and "foo".
func LibName(file string) (string, bool) {
	name := trimNumeric(file)
	unix := true
	switch {
	case strings.HasSuffix(name, ".dll.a"):
		name = strings.TrimSuffix(name, ".dll.a")
	case strings.HasSuffix(name, ".a"), strings.HasSuffix(name, ".so"):
		name = name[:strings.LastIndexByte(name, '.')]
	case strings.HasSuffix(name, ".dylib"):
		name = trimNumeric(strings.TrimSuffix(name, ".dylib"))
	case strings.HasSuffix(name, ".lib"), strings.HasSuffix(name, ".dll"):
		name = name[:strings.LastIndexByte(name, '.')]
		unix = false
	default:
		return "", false
	}
	if unix && len(name) > 3 {
		name = strings.TrimPrefix(name, "lib")
	}
	return name, name != ""
}

// trimNumeric strips trailing ".N" version components.
func trimNumeric(name string) string {
	for {
		ext := path.Ext(name)
		if len(ext) < 2 || strings.Trim(ext[1:], "0123456789") != "" {
			return name
		}
		name = strings.TrimSuffix(name, ext)
	}
}

// LinkOrder returns the libraries to link against for own and its
// dependencies, dependents first. A library needed twice keeps its last
// position.
func LinkOrder(own *Descriptor, deps []*Descriptor) []string {
	var all []string
	all = append(all, own.Libs...)
	for _, d := range deps {
		all = append(all, d.Libs...)
	}
	var order []string
	for i, lib := range all {
		if !slices.Contains(all[i+1:], lib) {
			order = append(order, lib)
		}
	}
	return order
}

// LinkFlags renders linker flags for own and its dependencies.
func LinkFlags(own *Descriptor, deps []*Descriptor) []string {
	var flags []string
	for _, d := range append([]*Descriptor{own}, deps...) {
		if d.Dir == "" || !slices.ContainsFunc(d.Artifacts, isLib) {
			continue
		}
		flags = append(flags, "-L"+filepath.Join(d.Dir, manifest.RoleStaticLib.Dir()))
	}
	for _, lib := range LinkOrder(own, deps) {
		flags = append(flags, "-l"+lib)
	}
	return flags
}

func isLib(a Artifact) bool {
	return a.Role.IsLibrary()
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s@%s (%s)", d.Name, d.Version, d.Platform)
}
