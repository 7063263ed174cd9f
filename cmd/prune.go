package main

import (
	"fmt"

	"db2backup/internal/retention"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newPruneCmd(a *app) *cobra.Command {
	var (
		dbName string
		days   int
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove session directories older than the retention period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Backup.WithOverrides(dbName, "")
			if cmd.Flags().Changed("days") {
				cfg.RetentionDays = days
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			result := retention.NewCleaner(afero.NewOsFs(), a.logger).
				Prune(cmd.Context(), cfg.BackupPath, cfg.DBName, cfg.RetentionDays)

			out := cmd.OutOrStdout()
			for _, dir := range result.Pruned {
				fmt.Fprintln(out, "pruned", dir)
			}
			for _, f := range result.Failures {
				fmt.Fprintln(cmd.ErrOrStderr(), "failed", f.Dir+":", f.Err)
			}
			fmt.Fprintf(out, "%d pruned, %d failed, %s freed\n", len(result.Pruned), len(result.Failures), humanize.IBytes(uint64(result.SpaceFreed)))
			return nil
		},
	}

	cmd.Flags().StringVar(&dbName, "db-name", "", "database whose sessions are pruned (overrides backup.db_name)")
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (overrides backup.retention_days, 0 disables)")
	return cmd
}
