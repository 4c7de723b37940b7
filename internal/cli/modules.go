package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidthor/stackctl/pkg/oci"
	"github.com/davidthor/stackctl/pkg/registry"
)

func newModulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "Manage module bundles",
		Long: `Commands for the local module cache and OCI module bundles.

Units can reference versioned module bundles with an oci:// source:

  source = "oci://ghcr.io/myorg/modules/vpc:v1.2.0"

Bundles are pulled into the local cache on first use. These commands
publish, pre-fetch, and inspect them.`,
	}

	cmd.AddCommand(newModulesListCmd())
	cmd.AddCommand(newModulesPushCmd())
	cmd.AddCommand(newModulesPullCmd())
	cmd.AddCommand(newModulesRemoveCmd())
	cmd.AddCommand(newModulesClearCmd())

	return cmd
}

func openModuleCache(cacheDir string) (*registry.Cache, error) {
	if cacheDir != "" {
		return registry.NewWithRoot(cacheDir)
	}
	return registry.New()
}

func newModulesListCmd() *cobra.Command {
	var cacheDir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached module bundles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cache, err := openModuleCache(cacheDir)
			if err != nil {
				return err
			}

			entries, err := cache.List()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No modules cached")
				return nil
			}
			for _, entry := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n",
					entry.Reference, entry.Source, entry.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Module cache directory (default ~/.stackctl/modules)")

	return cmd
}

func newModulesPushCmd() *cobra.Command {
	var (
		name        string
		provisioner string
	)

	cmd := &cobra.Command{
		Use:   "push <directory> <reference>",
		Short: "Bundle a module directory and push it to a registry",
		Long: `Bundles a module directory into an OCI artifact and pushes it.

Examples:
  stackctl modules push ./modules/vpc ghcr.io/myorg/modules/vpc:v1.2.0`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			dir, reference := args[0], args[1]
			client := oci.NewClient()

			artifact, err := client.BuildFromDirectory(context.Background(), dir, reference, oci.ModuleConfig{
				Name:        name,
				Provisioner: provisioner,
			})
			if err != nil {
				return err
			}

			if err := client.Push(context.Background(), artifact); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pushed %s\n", reference)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Module name recorded in the bundle config")
	cmd.Flags().StringVar(&provisioner, "provisioner", "opentofu", "Provisioning engine the module targets")

	return cmd
}

func newModulesPullCmd() *cobra.Command {
	var cacheDir string

	cmd := &cobra.Command{
		Use:   "pull <reference>",
		Short: "Pre-fetch a module bundle into the local cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cache, err := openModuleCache(cacheDir)
			if err != nil {
				return err
			}

			dir, err := cache.Resolve(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cached %s at %s\n", args[0], dir)
			return nil
		},
	}

	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Module cache directory (default ~/.stackctl/modules)")

	return cmd
}

func newModulesRemoveCmd() *cobra.Command {
	var cacheDir string

	cmd := &cobra.Command{
		Use:   "remove <reference>",
		Short: "Remove a module bundle from the local cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cache, err := openModuleCache(cacheDir)
			if err != nil {
				return err
			}
			if err := cache.Remove(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Module cache directory (default ~/.stackctl/modules)")

	return cmd
}

func newModulesClearCmd() *cobra.Command {
	var cacheDir string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Empty the local module cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cache, err := openModuleCache(cacheDir)
			if err != nil {
				return err
			}
			if err := cache.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Module cache cleared")
			return nil
		},
	}

	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Module cache directory (default ~/.stackctl/modules)")

	return cmd
}
