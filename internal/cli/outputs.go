package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidthor/stackctl/pkg/engine"
)

func newOutputsCmd() *cobra.Command {
	var (
		workingDir    string
		output        string
		backendType   string
		backendConfig []string
	)

	cmd := &cobra.Command{
		Use:   "outputs <unit-key>",
		Short: "Show a unit's persisted outputs",
		Long: `Prints the outputs recorded by the unit's last successful apply.

Examples:
  stackctl outputs dev/networking/vpc
  stackctl outputs dev/networking/vpc -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			key := args[0]

			mgr, err := createStateManager(backendType, backendConfig)
			if err != nil {
				return fmt.Errorf("failed to create state manager: %w", err)
			}

			eng, err := engine.New(engine.Options{
				WorkingDir: workingDir,
				State:      mgr,
			})
			if err != nil {
				return err
			}

			out, err := eng.Outputs(context.Background(), key)
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), out, output)
		},
	}

	cmd.Flags().StringVarP(&workingDir, "working-dir", "w", ".", "Configuration tree root")
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format (yaml, json)")
	cmd.Flags().StringVar(&backendType, "backend", "", "State backend type")
	cmd.Flags().StringArrayVar(&backendConfig, "backend-config", nil, "Backend configuration (key=value)")

	return cmd
}
