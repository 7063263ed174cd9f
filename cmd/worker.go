package main

import (
	"context"
	"crypto/tls"
	"fmt"

	"db2backup/internal/temporal/activities"
	"db2backup/internal/temporal/workflows"
	"db2backup/pkg/log"
	"db2backup/pkg/names"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/activity"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/contrib/envconfig"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

func newWorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run backups scheduled through Temporal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), a)
		},
	}
}

func runWorker(ctx context.Context, a *app) error {
	tc := a.cfg.Temporal

	clientOptions := envconfig.MustLoadDefaultClientOptions()
	if tc.Server != "" {
		clientOptions.HostPort = tc.Server
	}
	if tc.Namespace != "" {
		clientOptions.Namespace = tc.Namespace
	}
	if tc.TLS {
		clientOptions.ConnectionOptions = temporalclient.ConnectionOptions{
			TLS: &tls.Config{
				MinVersion: tls.VersionTLS12,
				NextProtos: []string{"h2"},
			},
		}
	}
	if tc.APIKey != "" {
		clientOptions.Credentials = temporalclient.NewAPIKeyStaticCredentials(tc.APIKey)
	}
	clientOptions.Logger = log.NewTemporalAdapter(a.logger)

	c, err := temporalclient.DialContext(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	defer c.Close()
	a.logger.Info().Str("namespace", clientOptions.Namespace).Str("queue", tc.Queue).Msg("connected to Temporal")

	// One backup at a time: the shell and the offline bracket are not
	// shared between runs.
	w := worker.New(c, tc.Queue, worker.Options{
		MaxConcurrentActivityExecutionSize: 1,
	})

	w.RegisterWorkflowWithOptions(workflows.DB2BackupWorkflow, workflow.RegisterOptions{Name: names.WorkflowNameDB2})

	acts := activities.NewActivities(a.cfg, a.logger)
	w.RegisterActivityWithOptions(acts.DB2BackupActivity, activity.RegisterOptions{Name: names.ActivityNameDB2Backup})
	w.RegisterActivityWithOptions(acts.RetentionPruneActivity, activity.RegisterOptions{Name: names.ActivityNameRetentionPrune})
	w.RegisterActivityWithOptions(acts.OffsiteUploadActivity, activity.RegisterOptions{Name: names.ActivityNameOffsiteUpload})

	stop := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	if err := w.Run(stop); err != nil {
		return fmt.Errorf("unable to start worker: %w", err)
	}
	return nil
}
