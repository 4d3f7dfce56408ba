package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CageChen/dfsselect/internal/config"
)

func newInitCmd(root *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write a configuration file with default settings to the --config path,
or to $HOME/.config/dfsselect/config.yaml when no path is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := root.configPath
			if path == "" {
				path = config.GetConfigPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("file '%s' already exists. Use --force to overwrite", path)
			}

			cfg := config.DefaultConfig()
			if cmd.Flags().Changed("root") {
				cfg.Root = root.root
			}
			if cmd.Flags().Changed("source-limit") {
				cfg.SourceLimit = root.sourceLimit
			}
			cfg.SetConfigFilePath(path)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := cfg.Save(); err != nil {
				return fmt.Errorf("failed to write file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	return cmd
}
