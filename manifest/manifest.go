// Package manifest defines the declarative description of a package:
// identity, options, pinned dependencies, source and build/collection
// rules.
package manifest

import (
	"slices"

	"github.com/goplus/llpm/mod/module"
)

// Role is the destination role of a collected artifact.
type Role string

const (
	RoleHeader     Role = "header"
	RoleStaticLib  Role = "static-lib"
	RoleSharedLib  Role = "shared-lib"
	RoleDynamicLib Role = "dynamic-lib"
	RoleBinary     Role = "binary"
)

var roleDirs = map[Role]string{
	RoleHeader:     "include",
	RoleStaticLib:  "lib",
	RoleSharedLib:  "lib",
	RoleDynamicLib: "bin",
	RoleBinary:     "bin",
}

// Valid reports whether r is a defined role.
func (r Role) Valid() bool {
	_, ok := roleDirs[r]
	return ok
}

// Dir returns the package-layout directory artifacts of role r land in.
func (r Role) Dir() string {
	return roleDirs[r]
}

// IsLibrary reports whether artifacts of role r are linkable libraries.
func (r Role) IsLibrary() bool {
	return r == RoleStaticLib || r == RoleSharedLib || r == RoleDynamicLib
}

// Option is a declared build option.
type Option struct {
	Name       string
	Allowed    []string
	Default    string
	HasDefault bool
}

// Allows reports whether value is one of the option's allowed values.
func (o Option) Allows(value string) bool {
	return slices.Contains(o.Allowed, value)
}

// RuleAction is what a platform rule does to its option.
type RuleAction string

const (
	ActionRemove   RuleAction = "remove"
	ActionOverride RuleAction = "override"
)

// Rule is a platform-conditional option rule, e.g. "remove fPIC on windows".
type Rule struct {
	Option    string
	Platforms []string // "windows", "linux/arm64", ...
	Action    RuleAction
	Value     string // override value
}

// AppliesTo reports whether the rule matches platform p.
func (r Rule) AppliesTo(p Platform) bool {
	return slices.ContainsFunc(r.Platforms, p.Matches)
}

// SourceRef locates the source of a package.
type SourceRef struct {
	Location string
	Revision string // empty: whatever the location's default branch points at
}

// BuildConfig configures the external build tool.
type BuildConfig struct {
	Tool              string // "cmake" or "autotools"
	SourceSubfolder   string
	ExtraFlags        []string
	SuppressSubBuilds []string // e.g. "examples"
	BuildType         string
	Generator         string
}

// ArtifactRule selects build outputs to collect.
type ArtifactRule struct {
	Pattern string
	Role    Role
	Flatten bool
	Src     string // search root below the tree, slash separated
	Dst     string // sub-directory below the role directory
}

// PackageManifest is a validated package definition. It is read-only
// once returned by Validate.
type PackageManifest struct {
	Name    string
	Version string

	Author      string
	URL         string
	Description string
	License     string
	Topics      []string

	Options       []Option // sorted by name
	Rules         []Rule
	Dependencies  []module.Version
	Source        SourceRef
	Build         BuildConfig
	ArtifactRules []ArtifactRule

	// Libs overrides the linkable library list derived from artifacts.
	Libs []string
	// HasLibs reports whether Libs was given explicitly, possibly empty.
	HasLibs bool
}

// ID returns the package identity.
func (m *PackageManifest) ID() module.Version {
	return module.Version{Path: m.Name, Version: m.Version}
}

// Option returns the declared option with the given name.
func (m *PackageManifest) Option(name string) (Option, bool) {
	i := slices.IndexFunc(m.Options, func(o Option) bool { return o.Name == name })
	if i < 0 {
		return Option{}, false
	}
	return m.Options[i], true
}

// Clone returns a deep copy of m.
func (m *PackageManifest) Clone() *PackageManifest {
	c := *m
	c.Topics = slices.Clone(m.Topics)
	c.Options = make([]Option, len(m.Options))
	for i, o := range m.Options {
		o.Allowed = slices.Clone(o.Allowed)
		c.Options[i] = o
	}
	c.Rules = make([]Rule, len(m.Rules))
	for i, r := range m.Rules {
		r.Platforms = slices.Clone(r.Platforms)
		c.Rules[i] = r
	}
	c.Dependencies = slices.Clone(m.Dependencies)
	c.Build.ExtraFlags = slices.Clone(m.Build.ExtraFlags)
	c.Build.SuppressSubBuilds = slices.Clone(m.Build.SuppressSubBuilds)
	c.ArtifactRules = slices.Clone(m.ArtifactRules)
	c.Libs = slices.Clone(m.Libs)
	return &c
}

// WithDefaults returns a copy of m whose option defaults are replaced by
// overrides. Every override must name a declared option and an allowed
// value.
func (m *PackageManifest) WithDefaults(overrides map[string]string) (*PackageManifest, error) {
	c := m.Clone()
	var v validator
	for _, name := range sortedKeys(overrides) {
		value := overrides[name]
		i := slices.IndexFunc(c.Options, func(o Option) bool { return o.Name == name })
		if i < 0 {
			v.addf("option %q is not declared", name)
			continue
		}
		if !c.Options[i].Allows(value) {
			v.addf("option %q: value %q not in %v", name, value, c.Options[i].Allowed)
			continue
		}
		c.Options[i].Default = value
		c.Options[i].HasDefault = true
	}
	if err := v.err(m.Name); err != nil {
		return nil, err
	}
	return c, nil
}
