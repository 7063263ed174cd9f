package activities

import (
	"context"
	"fmt"

	"db2backup/internal/db2"
	"db2backup/internal/offsite"
	"db2backup/internal/orchestrator"

	"go.temporal.io/sdk/activity"
)

type OffsiteUploadActivityInput struct {
	DBName    string         `json:"db_name"`
	Session   *db2.Session   `json:"session"`
	Artifacts []db2.Artifact `json:"artifacts"`
}

type OffsiteUploadActivityOutput struct {
	Keys    []string `json:"keys"`
	Skipped bool     `json:"skipped,omitempty"`
}

func (a *Activities) OffsiteUploadActivity(ctx context.Context, input OffsiteUploadActivityInput) (*OffsiteUploadActivityOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Debug("OffsiteUploadActivity called", "db", input.DBName, "artifacts", len(input.Artifacts))

	uploader := a.Uploader
	if uploader == nil {
		if !a.Config.Offsite.Enabled {
			logger.Info("Offsite copy disabled, skipping")
			return &OffsiteUploadActivityOutput{Skipped: true}, nil
		}
		u, err := offsite.New(ctx, a.Config.Offsite, a.Fs, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create uploader: %w", err)
		}
		uploader = u
	}

	keys, err := uploadSession(ctx, uploader, input)
	if err != nil {
		return nil, fmt.Errorf("offsite upload failed: %w", err)
	}

	logger.Info("Session copied offsite", "objects", len(keys))
	return &OffsiteUploadActivityOutput{Keys: keys}, nil
}

func uploadSession(ctx context.Context, u orchestrator.Uploader, input OffsiteUploadActivityInput) ([]string, error) {
	if input.Session == nil {
		return nil, fmt.Errorf("no session to upload")
	}
	return u.Upload(ctx, input.DBName, &db2.ArtifactSet{Session: input.Session, Artifacts: input.Artifacts})
}
