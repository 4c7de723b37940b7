package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidthor/stackctl/pkg/ciworkflow"
	"github.com/davidthor/stackctl/pkg/engine"
)

func newWorkflowCmd() *cobra.Command {
	var (
		workingDir     string
		tier           string
		provider       string
		name           string
		installVersion string
		secrets        []string
		output         string
		stdout         bool
		teardown       bool
	)

	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Generate a CI pipeline from the dependency graph",
		Long: `Generates a CI pipeline definition from the unit dependency graph.

Each unit becomes one job running "stackctl apply", with job ordering
constraints matching the dependency edges, so independent units deploy in
parallel on CI runners. With --teardown a companion pipeline running
"stackctl destroy" in reverse order is generated as well.

Examples:
  stackctl workflow -w ./infra -p github-actions
  stackctl workflow -w ./infra -p gitlab-ci -t prod --teardown
  stackctl workflow -w ./infra -p circleci --stdout`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			gen, err := ciworkflow.NewGenerator(ciworkflow.OutputType(provider))
			if err != nil {
				return err
			}

			eng, err := engine.New(engine.Options{WorkingDir: workingDir})
			if err != nil {
				return err
			}

			wf, err := ciworkflow.Build(eng.Graph(), ciworkflow.BuildOptions{
				Name:           name,
				Tier:           tier,
				InstallVersion: installVersion,
				Secrets:        secrets,
			})
			if err != nil {
				return err
			}

			deploy, err := gen.Generate(wf)
			if err != nil {
				return err
			}

			if stdout {
				fmt.Fprint(cmd.OutOrStdout(), string(deploy))
				if teardown {
					down, err := gen.GenerateTeardown(wf)
					if err != nil {
						return err
					}
					fmt.Fprint(cmd.OutOrStdout(), "---\n"+string(down))
				}
				return nil
			}

			deployPath := output
			if deployPath == "" {
				deployPath = filepath.Join(workingDir, gen.DefaultOutputPath())
			}
			if err := writeWorkflowFile(deployPath, deploy); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", deployPath)

			if teardown {
				down, err := gen.GenerateTeardown(wf)
				if err != nil {
					return err
				}
				downPath := filepath.Join(workingDir, gen.DefaultTeardownOutputPath())
				if err := writeWorkflowFile(downPath, down); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", downPath)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&workingDir, "working-dir", "w", ".", "Configuration tree root")
	cmd.Flags().StringVarP(&tier, "tier", "t", "", "Configuration tier for the pipeline")
	cmd.Flags().StringVarP(&provider, "provider", "p", "github-actions",
		fmt.Sprintf("CI provider (%s)", strings.Join(ciworkflow.ValidOutputTypes(), ", ")))
	cmd.Flags().StringVar(&name, "name", "", "Workflow display name")
	cmd.Flags().StringVar(&installVersion, "install-version", "", "stackctl version to install in CI jobs")
	cmd.Flags().StringSliceVar(&secrets, "secret", nil, "Env var name to document as a CI secret (repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (defaults to the provider convention)")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "Print the pipeline instead of writing files")
	cmd.Flags().BoolVar(&teardown, "teardown", false, "Also generate the teardown pipeline")

	return cmd
}

func writeWorkflowFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
