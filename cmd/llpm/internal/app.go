package internal

import (
	"fmt"
	"io"
	"os"

	"github.com/goplus/llpm/internal/build"
	"github.com/goplus/llpm/internal/config"
	"github.com/goplus/llpm/internal/pipeline"
	"github.com/goplus/llpm/internal/recipe"
	"github.com/goplus/llpm/internal/source"
	"github.com/goplus/llpm/internal/store"
	"github.com/goplus/llpm/internal/vcs"
	"github.com/goplus/llpm/manifest"
)

// Replaced in tests.
var (
	newVCS = func(c *config.Config) vcs.VCS {
		if c.Git == config.GoGit {
			return vcs.NewGoGit()
		}
		return vcs.NewGitVCS(vcs.WithGitPath(c.Git))
	}
	newToolRunner = func(out io.Writer) build.Runner {
		return build.ExecRunner{Stdout: out, Stderr: out}
	}
)

func openStore(c *config.Config) (store.Store, error) {
	s, err := store.Open(store.Backend(c.StoreBackend), c.StoreDir)
	if err != nil {
		return nil, fmt.Errorf("open package store: %w", err)
	}
	return s, nil
}

// newRunner wires a pipeline for platform p. The caller closes s.
func newRunner(c *config.Config, s store.Store, p manifest.Platform, out io.Writer) *pipeline.Runner {
	v := newVCS(c)
	var recipeOpts []recipe.Option
	if c.RecipeRemote != "" {
		recipeOpts = append(recipeOpts, recipe.WithRemote(v, c.RecipeRemote, c.RecipeRef))
	}
	return pipeline.New(pipeline.Config{
		Store:         s,
		Source:        source.NewAcquirer(v),
		Invoker:       build.NewInvoker(newToolRunner(out), build.WithTimeout(c.BuildTimeout)),
		Recipes:       recipe.New(c.RecipeDir, recipeOpts...),
		Platform:      p,
		WorkDir:       c.WorkDir,
		Jobs:          c.Jobs,
		SourceTimeout: c.SourceTimeout,
	})
}

func toolOutput() io.Writer {
	if verbose {
		return os.Stderr
	}
	return io.Discard
}
