package workflows

import (
	"time"

	"db2backup/internal/orchestrator"
	"db2backup/internal/temporal/activities"
	"db2backup/pkg/names"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// DB2WorkflowInput is sent by the scheduler when triggering a backup.
// Empty fields fall back to the worker configuration.
type DB2WorkflowInput struct {
	DBName     string `json:"db_name,omitempty"`
	BackupType string `json:"backup_type,omitempty"`
}

type DB2WorkflowOutput struct {
	Report      *orchestrator.Report `json:"report"`
	OffsiteKeys []string             `json:"offsite_keys,omitempty"`
	Pruned      []string             `json:"pruned,omitempty"`
}

func DB2BackupWorkflow(ctx workflow.Context, input DB2WorkflowInput) (*DB2WorkflowOutput, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("DB2BackupWorkflow started", "db", input.DBName, "type", input.BackupType)

	result := new(DB2WorkflowOutput)

	////////////////////////////////////////
	// 1. Back up the database
	////////////////////////////////////////
	// A backup is not idempotent and may have deactivated the database;
	// it is never retried automatically.
	backupCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 24 * time.Hour,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	DB2BackupActivityOutput := new(activities.DB2BackupActivityOutput)
	err := workflow.ExecuteActivity(
		backupCtx,
		names.ActivityNameDB2Backup,
		activities.DB2BackupActivityInput{DBName: input.DBName, BackupType: input.BackupType},
	).Get(ctx, DB2BackupActivityOutput)
	if err != nil {
		logger.Error("Backup failed", "error", err)
		return nil, err
	}
	result.Report = DB2BackupActivityOutput.Report
	logger.Info("Backup completed", "session", result.Report.Session.ID)

	followUp := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 6 * time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Minute,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Minute,
			MaximumAttempts:    3,
		},
	})

	////////////////////////////////////////
	// 2. Copy the session offsite
	////////////////////////////////////////
	OffsiteUploadActivityOutput := new(activities.OffsiteUploadActivityOutput)
	err = workflow.ExecuteActivity(
		followUp,
		names.ActivityNameOffsiteUpload,
		activities.OffsiteUploadActivityInput{
			DBName:    result.Report.Database,
			Session:   result.Report.Session,
			Artifacts: result.Report.Artifacts,
		},
	).Get(ctx, OffsiteUploadActivityOutput)
	if err != nil {
		// The local session stays authoritative.
		logger.Warn("Offsite copy failed", "error", err)
	} else {
		result.OffsiteKeys = OffsiteUploadActivityOutput.Keys
	}

	////////////////////////////////////////
	// 3. Prune expired sessions
	////////////////////////////////////////
	RetentionPruneActivityOutput := new(activities.RetentionPruneActivityOutput)
	err = workflow.ExecuteActivity(
		followUp,
		names.ActivityNameRetentionPrune,
		activities.RetentionPruneActivityInput{DBName: result.Report.Database},
	).Get(ctx, RetentionPruneActivityOutput)
	if err != nil {
		logger.Warn("Prune failed", "error", err)
	} else {
		result.Pruned = RetentionPruneActivityOutput.Pruned
	}

	logger.Info("DB2BackupWorkflow completed", "artifacts", len(result.Report.Artifacts), "pruned", len(result.Pruned))
	return result, nil
}
