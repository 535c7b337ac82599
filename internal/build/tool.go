package build

import (
	"path/filepath"
	"strconv"

	"github.com/goplus/llpm/internal/descriptor"
	"github.com/goplus/llpm/internal/options"
	"github.com/goplus/llpm/manifest"
	"github.com/goplus/llpm/mod/module"
)

// Request is everything needed to build one package.
type Request struct {
	Package   module.Version
	Platform  manifest.Platform
	SourceDir string // root of the acquired source tree
	BuildDir  string
	Options   options.ResolvedOptionSet
	Config    manifest.BuildConfig
	Deps      []*descriptor.Descriptor
	Jobs      int
}

// SourceRoot returns the directory the build tool is pointed at.
func (r *Request) SourceRoot() string {
	if r.Config.SourceSubfolder == "" {
		return r.SourceDir
	}
	return filepath.Join(r.SourceDir, filepath.FromSlash(r.Config.SourceSubfolder))
}

// Explicit reports whether the build runs as rendered command lines.
func (r *Request) Explicit() bool {
	return len(r.Config.SuppressSubBuilds) > 0
}

func (r *Request) jobs() string {
	if r.Jobs <= 0 {
		return "1"
	}
	return strconv.Itoa(r.Jobs)
}

// Tool is an external build tool.
type Tool interface {
	Name() string

	// Configure returns the commands generating the build files in
	// BuildDir, sub-build suppression included.
	Configure(req *Request) []Command

	// Invoke returns the commands compiling the configured tree.
	Invoke(req *Request) []Command
}

// Tools returns the supported build tools keyed by name.
func Tools() map[string]Tool {
	return map[string]Tool{
		"cmake":     CMake{},
		"autotools": AutoTools{},
	}
}
