package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/HendryAvila/taskloom/internal/journal"
	"github.com/HendryAvila/taskloom/internal/resource"
	tlserver "github.com/HendryAvila/taskloom/internal/server"
	"github.com/spf13/cobra"
)

var backupsResource string

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List or restore saved versions of the task file or a document",
}

var backupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		st := tlserver.OpenStores(cfg, projectRoot, logger)
		target, err := backupTarget(st)
		if err != nil {
			return err
		}
		backups, err := st.Files.ListBackups(target)
		if err != nil {
			return err
		}
		if len(backups) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No backups of %s.\n", target)
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "#\tTIME\tPATH")
		for i, b := range backups {
			fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, b.Time.Local().Format("2006-01-02 15:04:05"), b.Path)
		}
		return w.Flush()
	},
}

var backupsRestoreCmd = &cobra.Command{
	Use:   "restore <number|path>",
	Short: "Restore a backup; the current file is backed up first",
	Long: `Restore a backup by its number in "backups list" (1 is the most recent)
or by path. The current file is saved as a new backup before it is replaced,
so a restore can itself be undone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st := tlserver.OpenStores(cfg, projectRoot, logger)
		defer st.Locks.ReleaseAll()

		target, err := backupTarget(st)
		if err != nil {
			return err
		}
		source := args[0]
		if n, err := strconv.Atoi(source); err == nil {
			backups, err := st.Files.ListBackups(target)
			if err != nil {
				return err
			}
			if n < 1 || n > len(backups) {
				return fmt.Errorf("backup %d does not exist (%d available)", n, len(backups))
			}
			source = backups[n-1].Path
		}

		if err := st.Files.RestoreFromBackup(cmd.Context(), source, target); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Restored %s from %s.\n", target, source)

		recordEvent(cmd.Context(), journal.Event{
			Kind:    journal.KindBackupRestored,
			Subject: target,
			Summary: "cli: restored from " + source,
			Data:    map[string]any{"backup": source},
		})
		return nil
	},
}

func init() {
	backupsCmd.PersistentFlags().StringVar(&backupsResource, "resource", "", "Document locator (type://id) instead of the task file")
	backupsCmd.AddCommand(backupsListCmd)
	backupsCmd.AddCommand(backupsRestoreCmd)
}

// backupTarget returns the file whose backups the command works on.
func backupTarget(st *tlserver.Stores) (string, error) {
	if backupsResource == "" {
		return st.Tasks.Path(), nil
	}
	loc, err := resource.ParseLocator(backupsResource)
	if err != nil {
		return "", err
	}
	return st.Resources.Path(loc), nil
}
