package main

import (
	"fmt"

	"github.com/HendryAvila/taskloom/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configGlobal bool
	configForce  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create configuration",
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write the default configuration file",
	Long:        "Writes .taskloom/config.yaml in the project, or in your home directory with --global.",
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ProjectConfigPath(projectRoot)
		if configGlobal {
			path = config.GlobalConfigPath()
			if path == "" {
				return fmt.Errorf("cannot determine the home directory")
			}
		}
		if err := config.WriteDefault(path, configForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration after merging every source",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# project root: %s\n%s", projectRoot, data)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configGlobal, "global", false, "Write the global config instead of the project one")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
