package internal

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/goplus/llpm/internal/build"
	"github.com/goplus/llpm/internal/config"
	"github.com/goplus/llpm/internal/deps"
	"github.com/goplus/llpm/internal/pipeline"
	"github.com/goplus/llpm/internal/source"
	"github.com/goplus/llpm/manifest"
)

var (
	configFile string
	verbose    bool
)

// cfg is loaded before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "llpm",
	Short: "llpm builds C/C++ packages from declarative manifests",
	Long: `llpm fetches package sources pinned to a revision, builds their
dependencies, runs the build tool and publishes the collected artifacts
to a local package store.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/llpm/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging and build tool output")
}

func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configFile)
	if err != nil {
		return err
	}
	level, err := c.Level()
	if err != nil {
		return err
	}
	if verbose {
		level = log.DebugLevel
	}
	cfg = c
	logger := log.NewWithOptions(cmd.ErrOrStderr(), log.Options{
		Level:           level,
		Prefix:          "llpm",
		ReportTimestamp: true,
	})
	cmd.SetContext(log.WithContext(cmd.Context(), logger))
	return nil
}

// Exit codes by error kind.
var exitCodes = []struct {
	kind error
	code int
}{
	{manifest.ErrValidation, 2},
	{source.ErrSourceUnavailable, 3},
	{source.ErrRevisionNotFound, 4},
	{deps.ErrCyclicDependency, 5},
	{deps.ErrDependencyBuildFailed, 6},
	{build.ErrConfigureFailed, 7},
	{build.ErrBuildFailed, 8},
	{build.ErrBuildTimedOut, 9},
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	kind := pipeline.Describe(err).Kind
	for _, e := range exitCodes {
		if kind == e.kind {
			return e.code
		}
	}
	return 1
}

// report prints err with the failing package and stage when known.
func report(err error) {
	f := pipeline.Describe(err)
	switch {
	case f.Stage != "":
		fmt.Fprintf(os.Stderr, "llpm: %s failed at %s: %v\n", f.Package, f.Stage, err)
	default:
		fmt.Fprintf(os.Stderr, "llpm: %v\n", err)
	}
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	err := rootCmd.ExecuteContext(context.Background())
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "llpm: interrupted")
		return 1
	}
	report(err)
	return exitCode(err)
}
