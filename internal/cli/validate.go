package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidthor/stackctl/pkg/engine"
)

func newValidateCmd() *cobra.Command {
	var (
		workingDir string
		tier       string
		units      []string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration tree without executing anything",
		Long: `Loads the configuration tree, builds the dependency graph, and
resolves every unit with dependency outputs replaced by placeholders.
Reports cycles, unresolvable references, and malformed configuration
without contacting any provisioning engine or state backend.

Examples:
  stackctl validate -w ./infra
  stackctl validate -w ./infra -t prod`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			eng, err := engine.New(engine.Options{
				WorkingDir: workingDir,
				Tier:       tier,
				Units:      units,
			})
			if err != nil {
				return err
			}

			issues, err := eng.Validate(context.Background())
			if err != nil {
				return err
			}

			if len(issues) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (%d units)\n", len(eng.Tree().Units))
				return nil
			}

			if output != "text" && output != "" {
				if err := printValue(cmd.OutOrStdout(), issues, output); err != nil {
					return err
				}
			} else {
				for _, issue := range issues {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", issue.Key, issue.Error)
				}
			}
			return fmt.Errorf("%d units failed validation", len(issues))
		},
	}

	cmd.Flags().StringVarP(&workingDir, "working-dir", "w", ".", "Configuration tree root")
	cmd.Flags().StringVarP(&tier, "tier", "t", "", "Resolution tier (e.g. dev, prod)")
	cmd.Flags().StringArrayVarP(&units, "unit", "u", nil, "Restrict validation to the given unit keys (repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Report format (text, yaml, json)")

	return cmd
}
