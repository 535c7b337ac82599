package manifest

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/mod/semver"

	"github.com/goplus/llpm/mod/module"
)

// ErrValidation is matched by every manifest validation failure.
var ErrValidation = errors.New("invalid manifest")

// ValidationError lists everything wrong with a manifest.
type ValidationError struct {
	Name     string
	Problems []string
}

func (e *ValidationError) Error() string {
	prefix := "invalid manifest"
	if e.Name != "" {
		prefix += " " + strconv.Quote(e.Name)
	}
	return prefix + ": " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

const (
	DefaultTool = "cmake"
	revisionVar = "{version}"
)

var (
	knownTools    = []string{"cmake", "autotools"}
	subBuildRe    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	numericVerRe  = regexp.MustCompile(`^v?[0-9]+(\.[0-9]+)*$`)
	errNoVersion  = errors.New("empty version")
	errBadVersion = errors.New("malformed version")
)

// CheckVersion reports whether v is a usable version string: a semantic
// version with or without the "v" prefix, or a purely numeric dotted
// version such as "0.9.9.8".
func CheckVersion(v string) error {
	if v == "" {
		return errNoVersion
	}
	sv := v
	if !strings.HasPrefix(sv, "v") {
		sv = "v" + sv
	}
	if semver.IsValid(sv) || numericVerRe.MatchString(v) {
		return nil
	}
	return fmt.Errorf("%w %q", errBadVersion, v)
}

type validator struct {
	problems []string
}

func (v *validator) addf(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) err(name string) error {
	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Name: name, Problems: v.problems}
}

// Validate turns a raw document into a PackageManifest. It reports every
// problem found, not just the first one.
func Validate(raw *Raw) (*PackageManifest, error) {
	var v validator

	m := &PackageManifest{
		Name:        raw.Name,
		Version:     raw.Version,
		Author:      raw.Author,
		URL:         raw.URL,
		Description: raw.Description,
		License:     raw.License,
		Topics:      slices.Clone(raw.Topics),
	}
	if err := module.CheckPath(raw.Name); err != nil {
		v.addf("name: %v", err)
	}
	if err := CheckVersion(raw.Version); err != nil {
		v.addf("version: %v", err)
	}

	m.Options = validateOptions(&v, raw)
	m.Rules = validateRules(&v, raw, m)
	m.Dependencies = validateDeps(&v, raw)

	m.Source = SourceRef{
		Location: raw.Source.Location,
		Revision: strings.ReplaceAll(raw.Source.Revision, revisionVar, raw.Version),
	}
	if m.Source.Location == "" {
		v.addf("source: empty location")
	}

	m.Build = validateBuild(&v, raw.BuildConfig)
	m.ArtifactRules = validateArtifactRules(&v, raw.ArtifactRules)

	if raw.Libs != nil {
		m.HasLibs = true
		m.Libs = slices.Clone(*raw.Libs)
		for i, lib := range m.Libs {
			if strings.TrimSpace(lib) == "" {
				v.addf("libs[%d]: empty library name", i)
			}
		}
	}

	if err := v.err(raw.Name); err != nil {
		return nil, err
	}
	return m, nil
}

func validateOptions(v *validator, raw *Raw) []Option {
	opts := make([]Option, 0, len(raw.Options))
	for _, name := range sortedKeys(raw.Options) {
		opt := Option{Name: name}
		if len(raw.Options[name]) == 0 {
			v.addf("options.%s: no allowed values", name)
		}
		for _, a := range raw.Options[name] {
			s, err := scalar(a)
			if err != nil {
				v.addf("options.%s: %v", name, err)
				continue
			}
			opt.Allowed = append(opt.Allowed, s)
		}
		if d, ok := raw.DefaultOptions[name]; ok {
			s, err := scalar(d)
			switch {
			case err != nil:
				v.addf("defaultOptions.%s: %v", name, err)
			case !opt.Allows(s):
				v.addf("defaultOptions.%s: %q not in %v", name, s, opt.Allowed)
			default:
				opt.Default, opt.HasDefault = s, true
			}
		}
		opts = append(opts, opt)
	}
	for _, name := range sortedKeys(raw.DefaultOptions) {
		if _, ok := raw.Options[name]; !ok {
			v.addf("defaultOptions.%s: option is not declared", name)
		}
	}
	return opts
}

func validateRules(v *validator, raw *Raw, m *PackageManifest) []Rule {
	rules := make([]Rule, 0, len(raw.OptionRules))
	for i, rr := range raw.OptionRules {
		r := Rule{
			Option:    rr.Option,
			Platforms: slices.Clone(rr.Platforms),
			Action:    RuleAction(rr.Action),
		}
		if r.Action == "" {
			r.Action = ActionRemove
		}
		opt, declared := m.Option(rr.Option)
		if !declared {
			v.addf("optionRules[%d]: option %q is not declared", i, rr.Option)
		}
		if len(rr.Platforms) == 0 {
			v.addf("optionRules[%d]: no platforms", i)
		}
		for _, p := range rr.Platforms {
			if _, err := ParsePlatform(p); err != nil {
				v.addf("optionRules[%d]: %v", i, err)
			}
		}
		switch r.Action {
		case ActionRemove:
		case ActionOverride:
			s, err := scalar(rr.Value)
			if err != nil {
				v.addf("optionRules[%d]: value: %v", i, err)
				break
			}
			if declared && !opt.Allows(s) {
				v.addf("optionRules[%d]: value %q not in %v", i, s, opt.Allowed)
			}
			r.Value = s
		default:
			v.addf("optionRules[%d]: unknown action %q", i, rr.Action)
		}
		rules = append(rules, r)
	}
	return rules
}

func validateDeps(v *validator, raw *Raw) []module.Version {
	deps := make([]module.Version, 0, len(raw.Dependencies))
	seen := make(map[string]bool, len(raw.Dependencies))
	for i, d := range raw.Dependencies {
		if err := module.CheckPath(d.Name); err != nil {
			v.addf("dependencies[%d]: %v", i, err)
		}
		if err := CheckVersion(d.Version); err != nil {
			v.addf("dependencies[%d] %s: %v", i, d.Name, err)
		}
		if seen[d.Name] {
			v.addf("dependencies[%d]: duplicate dependency %q", i, d.Name)
		}
		if d.Name == raw.Name {
			v.addf("dependencies[%d]: package depends on itself", i)
		}
		seen[d.Name] = true
		deps = append(deps, module.Version{Path: d.Name, Version: d.Version})
	}
	return deps
}

func validateBuild(v *validator, rb RawBuildConfig) BuildConfig {
	b := BuildConfig{
		Tool:              rb.Tool,
		SourceSubfolder:   rb.SourceSubfolder,
		ExtraFlags:        slices.Clone(rb.ExtraFlags),
		SuppressSubBuilds: slices.Clone(rb.SuppressSubBuilds),
		BuildType:         rb.BuildType,
		Generator:         rb.Generator,
	}
	if b.Tool == "" {
		b.Tool = DefaultTool
	}
	if !slices.Contains(knownTools, b.Tool) {
		v.addf("buildConfig.tool: unknown build tool %q", b.Tool)
	}
	if b.SourceSubfolder != "" && !isLocal(b.SourceSubfolder) {
		v.addf("buildConfig.sourceSubfolder: %q escapes the source tree", b.SourceSubfolder)
	}
	for _, s := range b.SuppressSubBuilds {
		if !subBuildRe.MatchString(s) {
			v.addf("buildConfig.suppressSubBuilds: invalid sub-build name %q", s)
		}
	}
	return b
}

func validateArtifactRules(v *validator, raw []RawArtifactRule) []ArtifactRule {
	rules := make([]ArtifactRule, 0, len(raw))
	for i, rr := range raw {
		r := ArtifactRule{
			Pattern: rr.Pattern,
			Role:    Role(rr.Role),
			Flatten: rr.Flatten,
			Src:     rr.Src,
			Dst:     rr.Dst,
		}
		if !r.Role.Valid() {
			v.addf("artifactRules[%d]: undefined role %q", i, rr.Role)
		}
		if r.Pattern == "" || !doublestar.ValidatePattern(r.Pattern) {
			v.addf("artifactRules[%d]: invalid pattern %q", i, rr.Pattern)
		}
		if r.Src != "" && !isLocal(r.Src) {
			v.addf("artifactRules[%d]: src %q escapes the tree", i, r.Src)
		}
		if r.Dst != "" && !isLocal(r.Dst) {
			v.addf("artifactRules[%d]: dst %q escapes the package", i, r.Dst)
		}
		rules = append(rules, r)
	}
	return rules
}

func isLocal(slashPath string) bool {
	return filepath.IsLocal(filepath.FromSlash(slashPath))
}

// scalar normalizes a decoded option value to its string form.
func scalar(x any) (string, error) {
	switch x := x.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case nil:
		return "", errors.New("missing value")
	}
	return "", fmt.Errorf("unsupported value %v of type %T", x, x)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
