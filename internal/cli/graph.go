package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidthor/stackctl/pkg/engine"
	"github.com/davidthor/stackctl/pkg/graph/visual"
)

func newGraphCmd() *cobra.Command {
	var (
		workingDir string
		format     string
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Show the unit dependency graph",
		Long: `Builds the dependency graph of the configuration tree and renders it.

Formats:
  layers   execution layers in dependency order (default)
  dot      Graphviz DOT
  mermaid  Mermaid flowchart

Examples:
  stackctl graph -w ./infra
  stackctl graph -w ./infra -f dot | dot -Tsvg > graph.svg
  stackctl graph -w ./infra -f mermaid`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			eng, err := engine.New(engine.Options{WorkingDir: workingDir})
			if err != nil {
				return err
			}
			g := eng.Graph()

			switch format {
			case "layers", "":
				layers, err := g.Layers()
				if err != nil {
					return err
				}
				for i, layer := range layers {
					fmt.Fprintf(cmd.OutOrStdout(), "Layer %d:\n", i+1)
					for _, key := range layer {
						fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", key)
					}
				}
				return nil

			case "dot":
				out, err := visual.RenderDOT(g)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), out)
				return nil

			case "mermaid":
				out, err := visual.RenderMermaid(g, visual.MermaidOptions{})
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), out)
				return nil

			default:
				return fmt.Errorf("unknown format %q (expected layers, dot, or mermaid)", format)
			}
		},
	}

	cmd.Flags().StringVarP(&workingDir, "working-dir", "w", ".", "Configuration tree root")
	cmd.Flags().StringVarP(&format, "format", "f", "layers", "Output format (layers, dot, mermaid)")

	return cmd
}
