package internal

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goplus/llpm/internal/descriptor"
	"github.com/goplus/llpm/manifest"
)

var (
	buildPlatform string
	buildOutput   string
	buildOptions  []string
)

var buildCmd = &cobra.Command{
	Use:   "build <manifest>",
	Short: "Build a package and publish it to the package store",
	Long: `Build reads a package manifest, builds its dependencies and the package
for the target platform and publishes the result. The descriptor of the
published package is printed on success.`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildPlatform, "platform", "", "Target platform, e.g. linux/amd64 (default host)")
	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "Also export the package (directory or .zip file)")
	buildCmd.Flags().StringArrayVarP(&buildOptions, "option", "O", nil, "Override an option default (name=value)")
	rootCmd.AddCommand(buildCmd)
}

func targetPlatform(s string) (manifest.Platform, error) {
	if s == "" {
		return manifest.Host(), nil
	}
	return manifest.ParsePlatform(s)
}

// parseOverrides parses name=value option overrides.
func parseOverrides(args []string) (map[string]string, error) {
	overrides := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: option override %q: want name=value", manifest.ErrValidation, arg)
		}
		overrides[name] = value
	}
	return overrides, nil
}

// loadManifest loads the manifest file and applies option overrides.
func loadManifest(file string, overrides []string) (*manifest.PackageManifest, error) {
	m, err := manifest.Load(file)
	if err != nil {
		return nil, err
	}
	o, err := parseOverrides(overrides)
	if err != nil {
		return nil, err
	}
	if len(o) == 0 {
		return m, nil
	}
	return m.WithDefaults(o)
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	m, err := loadManifest(args[0], buildOptions)
	if err != nil {
		return err
	}
	p, err := targetPlatform(buildPlatform)
	if err != nil {
		return fmt.Errorf("%w: %w", manifest.ErrValidation, err)
	}

	// Resolve output path before building
	output := buildOutput
	if output != "" {
		if output, err = filepath.Abs(output); err != nil {
			return fmt.Errorf("failed to resolve output path: %w", err)
		}
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	d, err := newRunner(cfg, s, p, toolOutput()).Run(ctx, m)
	if err != nil {
		return err
	}
	if err := printDescriptor(cmd, d); err != nil {
		return err
	}
	if output != "" {
		if err := outputResult(d.Dir, output); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func printDescriptor(cmd *cobra.Command, d *descriptor.Descriptor) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
