package activities

import (
	"context"
	"fmt"

	"db2backup/internal/orchestrator"

	"go.temporal.io/sdk/activity"
)

type DB2BackupActivityInput struct {
	DBName     string `json:"db_name,omitempty"`
	BackupType string `json:"backup_type,omitempty"`
}

type DB2BackupActivityOutput struct {
	Report *orchestrator.Report `json:"report"`
}

// DB2BackupActivity connects, verifies rights, backs up and validates. It
// leaves no connection or temporary catalog entry behind.
func (a *Activities) DB2BackupActivity(ctx context.Context, input DB2BackupActivityInput) (*DB2BackupActivityOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Debug("DB2BackupActivity called", "db", input.DBName, "type", input.BackupType)

	cfg, err := a.configFor(input.DBName, input.BackupType)
	if err != nil {
		return nil, err
	}

	o, closeFn, err := a.Build(ctx, cfg, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up backup: %w", err)
	}
	defer func() {
		if err := closeFn(); err != nil {
			logger.Warn("Failed to close command shell", "error", err)
		}
	}()

	report, err := o.Backup(ctx)
	if err != nil {
		logger.Error("Backup failed", "db", cfg.Backup.DBName, "error", err)
		return nil, err
	}

	for _, w := range report.Warnings {
		logger.Warn("Backup warning", "kind", w.Kind, "manual", w.Manual, "message", w.Message)
	}
	logger.Info("Backup completed", "session", report.Session.ID, "artifacts", len(report.Artifacts))
	return &DB2BackupActivityOutput{Report: report}, nil
}
