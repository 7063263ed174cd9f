package activities

import (
	"context"

	"db2backup/internal/config"
	"db2backup/internal/orchestrator"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Builder creates the orchestrator for one activity invocation and returns
// a function releasing its resources.
type Builder func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*orchestrator.Orchestrator, func() error, error)

// Activities holds all activity implementations for the worker
type Activities struct {
	Config *config.Config
	Logger zerolog.Logger
	Fs     afero.Fs
	Build  Builder
	// Uploader replaces the S3 uploader built from Config.Offsite.
	Uploader orchestrator.Uploader
}

// NewActivities creates a new Activities instance running real commands
func NewActivities(cfg *config.Config, logger zerolog.Logger) *Activities {
	return &Activities{
		Config: cfg,
		Logger: logger,
		Fs:     afero.NewOsFs(),
		Build:  orchestrator.FromConfig,
	}
}

// configFor returns a copy of the configuration with per-run overrides.
func (a *Activities) configFor(dbName, backupType string) (*config.Config, error) {
	cfg := *a.Config
	cfg.Backup = cfg.Backup.WithOverrides(dbName, backupType)
	if err := cfg.Backup.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
