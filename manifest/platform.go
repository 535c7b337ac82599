package manifest

import (
	"fmt"
	"strings"

	"github.com/containerd/platforms"
)

// Platform is a normalized build target.
type Platform struct {
	OS   string
	Arch string
}

// ParsePlatform parses a platform identifier such as "windows",
// "linux/arm64" or "macos/x86_64". Missing parts default to the host.
func ParsePlatform(s string) (Platform, error) {
	p, err := platforms.Parse(s)
	if err != nil {
		return Platform{}, fmt.Errorf("invalid platform %q: %w", s, err)
	}
	return Platform{OS: p.OS, Arch: p.Architecture}, nil
}

// Host returns the platform llpm runs on.
func Host() Platform {
	p := platforms.DefaultSpec()
	return Platform{OS: p.OS, Arch: p.Architecture}
}

func (p Platform) String() string {
	if p.Arch == "" {
		return p.OS
	}
	return p.OS + "/" + p.Arch
}

// Dir returns a file-name friendly form of p.
func (p Platform) Dir() string {
	return strings.ReplaceAll(p.String(), "/", "-")
}

// Matches reports whether p matches pattern. A pattern without an
// architecture matches every architecture of its OS.
func (p Platform) Matches(pattern string) bool {
	want, err := ParsePlatform(pattern)
	if err != nil {
		return false
	}
	if p.OS != want.OS {
		return false
	}
	if !strings.Contains(pattern, "/") {
		return true
	}
	return p.Arch == want.Arch
}
