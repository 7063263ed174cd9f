package activities

import (
	"context"

	"db2backup/internal/retention"

	"go.temporal.io/sdk/activity"
)

type RetentionPruneActivityInput struct {
	DBName string `json:"db_name,omitempty"`
}

type RetentionPruneActivityOutput struct {
	Pruned   []string            `json:"pruned"`
	Failures []retention.Failure `json:"failures,omitempty"`
}

func (a *Activities) RetentionPruneActivity(ctx context.Context, input RetentionPruneActivityInput) (*RetentionPruneActivityOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("RetentionPruneActivity started", "db", input.DBName)

	cfg, err := a.configFor(input.DBName, "")
	if err != nil {
		return nil, err
	}

	result := retention.NewCleaner(a.Fs, a.Logger).Prune(ctx, cfg.Backup.BackupPath, cfg.Backup.DBName, cfg.Backup.RetentionDays)
	for _, f := range result.Failures {
		logger.Warn("Failed to prune session", "dir", f.Dir, "error", f.Err)
	}

	logger.Info("RetentionPruneActivity completed", "pruned", len(result.Pruned))
	return &RetentionPruneActivityOutput{Pruned: result.Pruned, Failures: result.Failures}, nil
}
