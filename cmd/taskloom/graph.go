package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/HendryAvila/taskloom/internal/dependency"
	"github.com/HendryAvila/taskloom/internal/errs"
	"github.com/HendryAvila/taskloom/internal/journal"
	tlserver "github.com/HendryAvila/taskloom/internal/server"
	"github.com/HendryAvila/taskloom/internal/tasks"
	"github.com/HendryAvila/taskloom/internal/tools"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the task dependency graph for cycles and missing ids",
	Long:  "Exits with status 2 when the graph has problems, so it can gate CI.",
	RunE: func(cmd *cobra.Command, args []string) error {
		st := tlserver.OpenStores(cfg, projectRoot, logger)
		defer st.Locks.ReleaseAll()

		c, err := st.Tasks.Load(cmd.Context())
		if errors.Is(err, errs.NotFound) {
			fmt.Fprintf(cmd.OutOrStdout(), "No task file at %s.\n", st.Tasks.Path())
			return nil
		}
		if err != nil {
			return err
		}
		report := dependency.ValidateAll(c)
		fmt.Fprintln(cmd.OutOrStdout(), tools.RenderReport(report))
		if !report.Valid {
			return exitError{code: 2}
		}
		return nil
	},
}

var fixDryRun bool

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Remove dangling dependencies and break cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		st := tlserver.OpenStores(cfg, projectRoot, logger)
		defer st.Locks.ReleaseAll()
		ctx := cmd.Context()

		if fixDryRun {
			c, err := st.Tasks.Load(ctx)
			if err != nil {
				return err
			}
			report := dependency.FixAll(c)
			if !report.Changed() {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to fix: the dependency graph is valid.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), tools.RenderFixReport(report))
			fmt.Fprintln(cmd.OutOrStdout(), "\n(dry run: nothing was written)")
			return nil
		}

		var report dependency.FixReport
		_, err := st.Tasks.Mutate(ctx, func(c *tasks.Collection) error {
			report = dependency.FixAll(c)
			return nil
		})
		if err != nil {
			return err
		}
		if !report.Changed() {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to fix: the dependency graph is valid.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), tools.RenderFixReport(report))

		recordEvent(ctx, journal.Event{
			Kind:    journal.KindDependencyFixed,
			Subject: "graph",
			Summary: fmt.Sprintf("cli: removed %d missing and %d cyclic dependencies",
				len(report.DanglingRemoved), len(report.CycleEdgesCut)),
		})
		return nil
	},
}

func init() {
	fixCmd.Flags().BoolVar(&fixDryRun, "dry-run", false, "Show what would change without writing")
}

// recordEvent appends e to the project journal when it is enabled.
// Failures are logged, never returned.
func recordEvent(ctx context.Context, e journal.Event) {
	if !cfg.Journal.Enabled {
		return
	}
	j, err := journal.Open(cfg.JournalPath(projectRoot))
	if err != nil {
		logger.Warn("journal unavailable", zap.Error(err))
		return
	}
	defer j.Close()
	if _, err := j.Record(ctx, e); err != nil {
		logger.Warn("journal write failed", zap.String("kind", e.Kind), zap.Error(err))
	}
}
