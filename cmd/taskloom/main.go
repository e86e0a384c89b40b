// taskloom: task tracking MCP server for AI agents.
//
// Tasks, dependencies and project documents live as JSON files under
// .taskloom/ in the project, written atomically under file locks so the
// agent, the CLI and a human editor can share them safely.
//
// Usage:
//
//	taskloom serve             # Start MCP server (stdio transport)
//	taskloom validate          # Check the dependency graph
//	taskloom fix               # Repair the dependency graph
//	taskloom backups list      # Show saved versions of tasks.json
//	taskloom config init       # Write a default config file
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/HendryAvila/taskloom/internal/config"
	"github.com/HendryAvila/taskloom/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	verbose     bool
	projectFlag string

	logger      *zap.Logger
	cfg         *config.Config
	projectRoot string
)

// skipConfig marks commands that must run even when the config is broken.
const skipConfig = "skip-config"

var rootCmd = &cobra.Command{
	Use:   "taskloom",
	Short: "Task tracking MCP server for AI agents",
	Long: `taskloom keeps a project's tasks, their dependencies and supporting
documents in .taskloom/, and serves them to AI coding tools over MCP.

Add it to your AI tool's MCP config:

  {
    "mcpServers": {
      "taskloom": {
        "command": "taskloom",
        "args": ["serve"]
      }
    }
  }`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		start := projectFlag
		if start == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting working directory: %w", err)
			}
			start = wd
		}
		root, err := config.FindProjectRoot(start)
		if err != nil {
			return err
		}
		projectRoot = root

		if cmd.Annotations[skipConfig] != "" {
			logger, err = logging.New(logging.Options{Level: "info", Format: "console", Verbose: verbose})
			return err
		}

		cfg, err = config.Load(projectRoot)
		if err != nil {
			return err
		}
		logger, err = logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Verbose: verbose})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print the version",
	Annotations: map[string]string{skipConfig: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "taskloom v%s\n", version())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&projectFlag, "project", "p", "", "Project directory (default: nearest parent with .taskloom/)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// exitError ends the process with code after its output was already
// printed.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
