package main

import (
	"encoding/json"
	"fmt"

	"db2backup/internal/orchestrator"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newBackupCmd(a *app) *cobra.Command {
	var (
		dbName     string
		backupType string
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Run one backup session",
		Long: `Run one backup session: connect, verify rights, detect the logging mode,
back up into backup_path/db_name/<session_id>, validate, disconnect, copy
offsite when enabled and prune expired sessions.

The exit status is 0 only when backup artifacts were confirmed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a.cfg.Backup = a.cfg.Backup.WithOverrides(dbName, backupType)

			o, closeFn, err := orchestrator.FromConfig(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeFn(); err != nil {
					a.logger.Warn().Err(err).Msg("failed to close command shell")
				}
			}()

			report, err := o.Run(ctx)
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				_ = enc.Encode(report)
			}
			if err != nil {
				return err
			}

			if !jsonOut {
				fmt.Fprintf(cmd.OutOrStdout(), "session %s: %d files, %s in %s\n",
					report.Session.ID,
					len(report.Artifacts),
					humanize.IBytes(uint64(report.TotalSize())),
					report.Session.Dir)
			}
			if report.NeedsAttention() {
				a.logger.Error().Msg("backup succeeded but needs manual action, see warnings")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbName, "db-name", "", "database to back up (overrides backup.db_name)")
	cmd.Flags().StringVar(&backupType, "type", "", "full, incremental or delta (overrides backup.backup_type)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the run report as JSON")
	return cmd
}
