package build

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/goplus/llpm/internal/descriptor"
	"github.com/goplus/llpm/manifest"
)

// depEnv returns the environment entries exposing the packages deps to
// compilers and build file generators on platform p. The process
// environment is read, never modified.
func depEnv(deps []*descriptor.Descriptor, p manifest.Platform) []string {
	e := envBuilder{windows: p.OS == "windows", vars: map[string]string{}}
	// Later dependencies are prepended first so that declaration order wins.
	for i := len(deps) - 1; i >= 0; i-- {
		if deps[i].Dir != "" {
			e.use(deps[i].Dir)
		}
	}
	return e.entries()
}

type envBuilder struct {
	windows bool
	vars    map[string]string
	order   []string
}

// use adds include/lib/pkgconfig paths of a package installed at root.
func (e *envBuilder) use(root string) {
	includeDir := filepath.Join(root, manifest.RoleHeader.Dir())
	libDir := filepath.Join(root, manifest.RoleStaticLib.Dir())
	pkgconfigDir := filepath.Join(libDir, "pkgconfig")

	if isDir(pkgconfigDir) {
		e.prependPath("PKG_CONFIG_PATH", pkgconfigDir)
	}
	e.prependPath("CMAKE_PREFIX_PATH", root)
	if isDir(includeDir) {
		e.prependPath("CMAKE_INCLUDE_PATH", includeDir)
	}
	if isDir(libDir) {
		e.prependPath("CMAKE_LIBRARY_PATH", libDir)
	}

	if e.windows {
		if isDir(includeDir) {
			e.prependPath("INCLUDE", includeDir)
		}
		if isDir(libDir) {
			e.prependPath("LIB", libDir)
		}
	} else {
		if isDir(includeDir) {
			e.prependFlag("CPPFLAGS", "-I"+includeDir)
		}
		if isDir(libDir) {
			e.prependFlag("LDFLAGS", "-L"+libDir)
		}
	}
}

func (e *envBuilder) current(key string) string {
	if v, ok := e.vars[key]; ok {
		return v
	}
	e.order = append(e.order, key)
	return os.Getenv(key)
}

// prependPath prepends value to a PATH-style variable.
func (e *envBuilder) prependPath(key, value string) {
	sep := ":"
	if e.windows {
		sep = ";"
	}
	if cur := e.current(key); cur != "" {
		value += sep + cur
	}
	e.vars[key] = value
}

// prependFlag prepends a space-separated flag to a variable.
func (e *envBuilder) prependFlag(key, flag string) {
	if cur := e.current(key); cur != "" {
		flag += " " + cur
	}
	e.vars[key] = flag
}

func (e *envBuilder) entries() []string {
	out := make([]string, 0, len(e.order))
	for _, k := range e.order {
		out = append(out, k+"="+e.vars[k])
	}
	return out
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// boolValue reports whether an option value is a boolean, and which.
func boolValue(v string) (value, ok bool) {
	switch strings.ToLower(v) {
	case "true", "on", "yes":
		return true, true
	case "false", "off", "no":
		return false, true
	}
	return false, false
}
