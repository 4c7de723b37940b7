package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidthor/stackctl/pkg/engine"
	"github.com/davidthor/stackctl/pkg/telemetry"

	// Import provisioners to register them via init()
	_ "github.com/davidthor/stackctl/pkg/provisioner/opentofu"
)

// runFlags are the flags shared by plan, apply, and destroy.
type runFlags struct {
	workingDir    string
	tier          string
	units         []string
	parallelism   int
	failFast      bool
	provisioner   string
	output        string
	backendType   string
	backendConfig []string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.workingDir, "working-dir", "w", ".", "Configuration tree root")
	cmd.Flags().StringVarP(&f.tier, "tier", "t", "", "Resolution tier (e.g. dev, prod)")
	cmd.Flags().StringArrayVarP(&f.units, "unit", "u", nil, "Restrict the run to the given unit keys (repeatable)")
	cmd.Flags().IntVarP(&f.parallelism, "parallelism", "p", 4, "Max units running concurrently")
	cmd.Flags().BoolVar(&f.failFast, "fail-fast", false, "Stop scheduling new units after the first failure")
	cmd.Flags().StringVar(&f.provisioner, "provisioner", "opentofu", "Provisioning engine (opentofu, terraform)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "text", "Report format (text, yaml, json)")
	cmd.Flags().StringVar(&f.backendType, "backend", "", "State backend type")
	cmd.Flags().StringArrayVar(&f.backendConfig, "backend-config", nil, "Backend configuration (key=value)")
}

// runCommand executes one engine run in the given mode and prints the report.
func runCommand(cmd *cobra.Command, flags *runFlags, mode engine.Mode) error {
	cmd.SilenceUsage = true

	logger, err := telemetry.NewLogger(telemetry.Config{
		Level:  mustString(cmd, "log-level"),
		Format: mustString(cmd, "log-format"),
	})
	if err != nil {
		return err
	}
	ctx := telemetry.WithContext(context.Background(), logger)

	mgr, err := createStateManager(flags.backendType, flags.backendConfig)
	if err != nil {
		return fmt.Errorf("failed to create state manager: %w", err)
	}

	eng, err := engine.New(engine.Options{
		WorkingDir:  flags.workingDir,
		Tier:        flags.tier,
		Units:       flags.units,
		Parallelism: flags.parallelism,
		FailFast:    flags.failFast,
		Provisioner: flags.provisioner,
		State:       mgr,
		Stdout:      cmd.OutOrStdout(),
		Stderr:      cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	report, err := eng.Run(ctx, mode)
	if err != nil {
		return err
	}

	if err := printReport(cmd.OutOrStdout(), report, flags.output); err != nil {
		return err
	}

	if !report.Success {
		return fmt.Errorf("%s failed", mode)
	}
	return nil
}

func newPlanCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview changes across the configuration tree",
		Long: `Resolves every selected unit and asks the provisioning engine for a
change preview, in dependency order. Nothing is applied; dependencies
without outputs resolve from their declared mock_outputs.

Examples:
  stackctl plan -w ./infra -t dev
  stackctl plan -w ./infra -t prod -u prod/networking/vpc`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, flags, engine.ModePlan)
		},
	}

	flags.register(cmd)
	return cmd
}

func newApplyCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the configuration tree in dependency order",
		Long: `Applies every selected unit through the provisioning engine, walking
the dependency graph layer by layer and parallelizing within each
layer. Outputs from applied units feed the inputs of their dependents
in the same run.

Restricting the run with --unit pulls in the unit's upstream
dependencies automatically.

Examples:
  stackctl apply -w ./infra -t dev
  stackctl apply -w ./infra -t prod -u prod/services/app --fail-fast`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, flags, engine.ModeApply)
		},
	}

	flags.register(cmd)
	return cmd
}

func newDestroyCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy the configuration tree in reverse dependency order",
		Long: `Destroys every selected unit, walking the dependency graph in reverse
so dependents go down before their dependencies.

Restricting the run with --unit pulls in the unit's downstream
dependents automatically.

Examples:
  stackctl destroy -w ./infra -t dev
  stackctl destroy -w ./infra -t dev -u dev/networking/vpc`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, flags, engine.ModeDestroy)
		},
	}

	flags.register(cmd)
	return cmd
}

func mustString(cmd *cobra.Command, name string) string {
	val, _ := cmd.Flags().GetString(name)
	return val
}
