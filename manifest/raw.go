package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Raw is the manifest input document before validation.
type Raw struct {
	Name        string   `json:"name" yaml:"name" toml:"name"`
	Version     string   `json:"version" yaml:"version" toml:"version"`
	Author      string   `json:"author,omitempty" yaml:"author,omitempty" toml:"author,omitempty"`
	URL         string   `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	License     string   `json:"license,omitempty" yaml:"license,omitempty" toml:"license,omitempty"`
	Topics      []string `json:"topics,omitempty" yaml:"topics,omitempty" toml:"topics,omitempty"`

	Options        map[string][]any `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`
	DefaultOptions map[string]any   `json:"defaultOptions,omitempty" yaml:"defaultOptions,omitempty" toml:"defaultOptions,omitempty"`
	OptionRules    []RawRule        `json:"optionRules,omitempty" yaml:"optionRules,omitempty" toml:"optionRules,omitempty"`

	Dependencies  []RawDependency   `json:"dependencies,omitempty" yaml:"dependencies,omitempty" toml:"dependencies,omitempty"`
	Source        RawSource         `json:"source" yaml:"source" toml:"source"`
	BuildConfig   RawBuildConfig    `json:"buildConfig,omitempty" yaml:"buildConfig,omitempty" toml:"buildConfig,omitempty"`
	ArtifactRules []RawArtifactRule `json:"artifactRules,omitempty" yaml:"artifactRules,omitempty" toml:"artifactRules,omitempty"`
	Libs          *[]string         `json:"libs,omitempty" yaml:"libs,omitempty" toml:"libs,omitempty"`
}

type RawRule struct {
	Option    string   `json:"option" yaml:"option" toml:"option"`
	Platforms []string `json:"platforms" yaml:"platforms" toml:"platforms"`
	Action    string   `json:"action,omitempty" yaml:"action,omitempty" toml:"action,omitempty"`
	Value     any      `json:"value,omitempty" yaml:"value,omitempty" toml:"value,omitempty"`
}

type RawDependency struct {
	Name    string `json:"name" yaml:"name" toml:"name"`
	Version string `json:"version" yaml:"version" toml:"version"`
}

type RawSource struct {
	Location string `json:"location" yaml:"location" toml:"location"`
	Revision string `json:"revision,omitempty" yaml:"revision,omitempty" toml:"revision,omitempty"`
}

type RawBuildConfig struct {
	Tool              string   `json:"tool,omitempty" yaml:"tool,omitempty" toml:"tool,omitempty"`
	SourceSubfolder   string   `json:"sourceSubfolder,omitempty" yaml:"sourceSubfolder,omitempty" toml:"sourceSubfolder,omitempty"`
	ExtraFlags        []string `json:"extraFlags,omitempty" yaml:"extraFlags,omitempty" toml:"extraFlags,omitempty"`
	SuppressSubBuilds []string `json:"suppressSubBuilds,omitempty" yaml:"suppressSubBuilds,omitempty" toml:"suppressSubBuilds,omitempty"`
	BuildType         string   `json:"buildType,omitempty" yaml:"buildType,omitempty" toml:"buildType,omitempty"`
	Generator         string   `json:"generator,omitempty" yaml:"generator,omitempty" toml:"generator,omitempty"`
}

type RawArtifactRule struct {
	Pattern string `json:"pattern" yaml:"pattern" toml:"pattern"`
	Role    string `json:"role" yaml:"role" toml:"role"`
	Flatten bool   `json:"flatten,omitempty" yaml:"flatten,omitempty" toml:"flatten,omitempty"`
	Src     string `json:"src,omitempty" yaml:"src,omitempty" toml:"src,omitempty"`
	Dst     string `json:"dst,omitempty" yaml:"dst,omitempty" toml:"dst,omitempty"`
}

// Format is a manifest document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf returns the format implied by the file extension of path.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("unknown manifest format: %s", path)
}

// Decode decodes a raw manifest document. Unknown fields are rejected.
func Decode(data []byte, format Format) (*Raw, error) {
	var raw Raw
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown manifest format %q", format)
	}
	return &raw, nil
}

// Parse decodes and validates a manifest document.
func Parse(data []byte, format Format) (*PackageManifest, error) {
	raw, err := Decode(data, format)
	if err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}
	return Validate(raw)
}

// Load reads, decodes and validates the manifest file at path.
func Load(path string) (*PackageManifest, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
