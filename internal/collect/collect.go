// Package collect gathers build outputs into a package layout.
package collect

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/goplus/llpm/manifest"
)

// ErrCollectionAmbiguous is matched by non-fatal collision warnings.
var ErrCollectionAmbiguous = errors.New("ambiguous artifact collection")

// Trees are the directories artifacts are collected from.
type Trees struct {
	Source string
	Build  string
}

// Artifact is a collected file.
type Artifact struct {
	Source string        // absolute path of the matched file
	Dest   string        // slash separated, relative to the package root
	Role   manifest.Role // role of the rule that collected it
}

// CollisionError reports two matches for the same destination. The
// later one wins.
type CollisionError struct {
	Dest     string
	Previous string
	Current  string
	Rule     int // index of the winning rule
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("%s: %s replaced by %s (rule %d)", e.Dest, e.Previous, e.Current, e.Rule)
}

func (e *CollisionError) Is(target error) bool {
	return target == ErrCollectionAmbiguous
}

// Result is the outcome of a collection.
type Result struct {
	Artifacts []Artifact
	Warnings  []error
}

// Collect applies rules in order to trees and copies the matched files
// into destDir. Files matching no rule are ignored.
func Collect(trees Trees, rules []manifest.ArtifactRule, destDir string) (*Result, error) {
	res := &Result{}
	index := make(map[string]int) // dest -> position in res.Artifacts
	for i, rule := range rules {
		matches, err := match(trees, rule)
		if err != nil {
			return nil, fmt.Errorf("artifact rule %d (%s): %w", i, rule.Pattern, err)
		}
		for _, a := range matches {
			if j, ok := index[a.Dest]; ok {
				prev := res.Artifacts[j]
				res.Warnings = append(res.Warnings, &CollisionError{
					Dest:     a.Dest,
					Previous: prev.Source,
					Current:  a.Source,
					Rule:     i,
				})
				res.Artifacts = slices.Delete(res.Artifacts, j, j+1)
				for k, v := range index {
					if v > j {
						index[k] = v - 1
					}
				}
			}
			index[a.Dest] = len(res.Artifacts)
			res.Artifacts = append(res.Artifacts, a)
		}
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, err
	}
	for _, a := range res.Artifacts {
		if err := copyFile(a.Source, filepath.Join(destDir, filepath.FromSlash(a.Dest))); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// roots returns the trees rule searches. Headers may live in either tree.
func roots(trees Trees, rule manifest.ArtifactRule) []string {
	var dirs []string
	if rule.Role == manifest.RoleHeader && trees.Source != "" {
		dirs = append(dirs, trees.Source)
	}
	if trees.Build != "" && !slices.Contains(dirs, trees.Build) {
		dirs = append(dirs, trees.Build)
	}
	return dirs
}

func match(trees Trees, rule manifest.ArtifactRule) ([]Artifact, error) {
	byBase := !strings.Contains(rule.Pattern, "/")
	var out []Artifact
	for _, root := range roots(trees, rule) {
		base := filepath.Join(root, filepath.FromSlash(rule.Src))
		if _, err := os.Stat(base); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == ".git" {
					return filepath.SkipDir
				}
				return nil
			}
			rel, err := filepath.Rel(base, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			name := rel
			if byBase {
				name = path.Base(rel)
			}
			ok, err := doublestar.Match(rule.Pattern, name)
			if err != nil || !ok {
				return err
			}
			dest := rel
			if rule.Flatten {
				dest = path.Base(rel)
			}
			out = append(out, Artifact{
				Source: p,
				Dest:   path.Join(rule.Role.Dir(), rule.Dst, dest),
				Role:   rule.Role,
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
