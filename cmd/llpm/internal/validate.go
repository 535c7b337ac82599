package internal

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goplus/llpm/internal/options"
	"github.com/goplus/llpm/manifest"
)

var (
	validatePlatform string
	validateOptions  []string
)

var validateCmd = &cobra.Command{
	Use:   "validate <manifest>",
	Short: "Check a manifest and print its resolved options",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validatePlatform, "platform", "", "Target platform, e.g. windows/amd64 (default host)")
	validateCmd.Flags().StringArrayVarP(&validateOptions, "option", "O", nil, "Override an option default (name=value)")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	m, err := loadManifest(args[0], validateOptions)
	if err != nil {
		return err
	}
	p, err := targetPlatform(validatePlatform)
	if err != nil {
		return fmt.Errorf("%w: %w", manifest.ErrValidation, err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s)\n", m.ID(), p)
	resolved := options.Resolve(m, p)
	for _, name := range resolved.Names() {
		value, _ := resolved.Get(name)
		fmt.Fprintf(out, "  %s=%s\n", name, value)
	}
	for _, dep := range m.Dependencies {
		fmt.Fprintf(out, "  requires %s\n", dep)
	}
	return nil
}
