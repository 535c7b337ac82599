package internal

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goplus/llpm/internal/descriptor"
	"github.com/goplus/llpm/internal/store"
	"github.com/goplus/llpm/mod/module"
)

var showCmd = &cobra.Command{
	Use:   "show <name[@version]>",
	Short: "Print a published package and its link flags",
	Long: `Show prints the descriptor of a published package and the linker flags
for it and its dependencies. Without a version, the newest published
version is shown.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	id, err := resolveID(ctx, s, args[0])
	if err != nil {
		return err
	}
	d, err := s.Lookup(ctx, id)
	if err != nil {
		return err
	}
	deps, err := closure(ctx, s, d)
	if err != nil {
		return err
	}
	if err := printDescriptor(cmd, d); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "link: %s\n", strings.Join(descriptor.LinkFlags(d, deps), " "))
	return nil
}

// resolveID parses name[@version], picking the newest published version
// when none is given.
func resolveID(ctx context.Context, s store.Store, arg string) (module.Version, error) {
	id := module.Parse(arg)
	if id.Version != "" {
		return id, nil
	}
	versions, err := s.Versions(ctx, id.Path)
	if err != nil {
		return id, err
	}
	if len(versions) == 0 {
		return id, fmt.Errorf("%s: %w", id.Path, store.ErrNotFound)
	}
	id.Version = versions[len(versions)-1]
	return id, nil
}

// closure returns the published dependencies of d, transitively, each
// after every package depending on it. Independent dependencies keep
// their declaration order.
func closure(ctx context.Context, s store.Store, d *descriptor.Descriptor) ([]*descriptor.Descriptor, error) {
	var (
		post  []*descriptor.Descriptor
		seen  = map[module.Version]bool{d.ID(): true}
		visit func(d *descriptor.Descriptor) error
	)
	visit = func(d *descriptor.Descriptor) error {
		for _, id := range slices.Backward(d.Dependencies) {
			if seen[id] {
				continue
			}
			seen[id] = true
			dep, err := s.Lookup(ctx, id)
			if err != nil {
				return fmt.Errorf("dependency %s: %w", id, err)
			}
			if err := visit(dep); err != nil {
				return err
			}
			post = append(post, dep)
		}
		return nil
	}
	if err := visit(d); err != nil {
		return nil, err
	}
	slices.Reverse(post)
	return post, nil
}
