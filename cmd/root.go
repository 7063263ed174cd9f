package main

import (
	"fmt"

	"db2backup/internal/config"
	"db2backup/pkg/log"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app holds what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	cfg        *config.Config
	logger     zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "db2backup",
		Short: "Back up Db2 databases to a mounted filesystem",
		Long: `db2backup connects to a Db2 database, checks backup authority, picks an
online or offline backup from the archive logging configuration, writes the
image into a fresh session directory, validates it and prunes expired
sessions.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.NewConfig(cmd.Context(), a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = log.New(cfg.Log)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ./config.yaml or /etc/db2backup/config.yaml)")

	root.AddCommand(
		newBackupCmd(a),
		newPruneCmd(a),
		newWorkerCmd(a),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
