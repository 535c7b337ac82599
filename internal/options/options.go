// Package options resolves a manifest's option declarations into the
// concrete option set used for one target platform.
package options

import (
	"maps"
	"slices"

	"github.com/goplus/llpm/manifest"
)

// ResolvedOptionSet is an immutable name to value mapping for one target
// platform. Removed options are absent.
type ResolvedOptionSet struct {
	values map[string]string
}

// Resolve computes the option set of m for platform p. It starts from the
// defaulted options and applies the matching rules in declaration order.
func Resolve(m *manifest.PackageManifest, p manifest.Platform) ResolvedOptionSet {
	values := make(map[string]string, len(m.Options))
	for _, opt := range m.Options {
		if opt.HasDefault {
			values[opt.Name] = opt.Default
		}
	}
	for _, r := range m.Rules {
		if !r.AppliesTo(p) {
			continue
		}
		switch r.Action {
		case manifest.ActionRemove:
			delete(values, r.Option)
		case manifest.ActionOverride:
			values[r.Option] = r.Value
		}
	}
	return ResolvedOptionSet{values: values}
}

// FromMap returns the option set holding values. Used for descriptors read
// back from a package store.
func FromMap(values map[string]string) ResolvedOptionSet {
	return ResolvedOptionSet{values: maps.Clone(values)}
}

// Get returns the value of option name.
func (s ResolvedOptionSet) Get(name string) (string, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Bool reports whether option name is present and "true".
func (s ResolvedOptionSet) Bool(name string) bool {
	return s.values[name] == "true"
}

// Names returns the resolved option names in sorted order.
func (s ResolvedOptionSet) Names() []string {
	return slices.Sorted(maps.Keys(s.values))
}

// Map returns a copy of the set as a plain map.
func (s ResolvedOptionSet) Map() map[string]string {
	return maps.Clone(s.values)
}

func (s ResolvedOptionSet) Len() int {
	return len(s.values)
}
