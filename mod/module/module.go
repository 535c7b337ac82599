// Package module defines the module.Version type along with support code.
package module

import (
	"fmt"
	"path/filepath"
	"strings"
)

// A Version identifies one exact release of a package by its path
// (the package name) and version string.
type Version struct {
	Path    string // Package name, optionally in the form "owner/repo"
	Version string // Exact version string (e.g., "1.0.0")
}

// String returns the "path@version" form of v.
func (v Version) String() string {
	if v.Version == "" {
		return v.Path
	}
	return v.Path + "@" + v.Version
}

// CheckPath reports whether path is usable as a package name.
func CheckPath(path string) error {
	if path == "" {
		return fmt.Errorf("empty package name")
	}
	if strings.ContainsAny(path, "@\\:") {
		return fmt.Errorf("invalid package name %q: contains one of '@', '\\', ':'", path)
	}
	if !filepath.IsLocal(path) || strings.HasPrefix(path, ".") {
		return fmt.Errorf("invalid package name %q", path)
	}
	return nil
}

// EscapePath returns the escaped form of the given package path as a valid
// file system path. It fails if the package path is invalid.
func EscapePath(path string) (escaped string, err error) {
	if err := CheckPath(path); err != nil {
		return "", err
	}
	return filepath.Localize(path)
}

// Parse parses a "path@version" argument. The version is empty when arg
// carries no '@'.
func Parse(arg string) Version {
	if i := strings.LastIndexByte(arg, '@'); i >= 0 {
		return Version{Path: arg[:i], Version: arg[i+1:]}
	}
	return Version{Path: arg}
}
