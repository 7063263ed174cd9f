// Package orchestrator sequences one backup run end to end.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"db2backup/internal/config"
	"db2backup/internal/db2"
	"db2backup/internal/retention"
	"db2backup/internal/runner"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Uploader replicates a finished session offsite.
type Uploader interface {
	Upload(ctx context.Context, dbName string, set *db2.ArtifactSet) ([]string, error)
}

// Report is the outcome of a run, filled in as far as the run got.
type Report struct {
	Database    string            `json:"database"`
	Session     *db2.Session      `json:"session,omitempty"`
	Rights      *db2.RightsReport `json:"rights,omitempty"`
	Artifacts   []db2.Artifact    `json:"artifacts,omitempty"`
	Relocated   bool              `json:"relocated,omitempty"`
	OffsiteKeys []string          `json:"offsite_keys,omitempty"`
	Pruned      []string          `json:"pruned,omitempty"`
	Warnings    []db2.Warning     `json:"warnings,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	Duration    time.Duration     `json:"duration"`
}

// TotalSize sums the artifact sizes.
func (r *Report) TotalSize() int64 {
	var total int64
	for _, a := range r.Artifacts {
		total += a.Size
	}
	return total
}

func (r *Report) warn(kind db2.WarningKind, manual bool, format string, args ...any) {
	r.Warnings = append(r.Warnings, db2.Warning{Kind: kind, Message: fmt.Sprintf(format, args...), Manual: manual})
}

// Options wires an Orchestrator.
type Options struct {
	Config      config.BackupConfig
	Connections *db2.ConnectionManager
	Rights      *db2.RightsVerifier
	Executor    *db2.Executor
	Cleaner     *retention.Cleaner
	// Offsite is optional.
	Offsite Uploader
	Logger  zerolog.Logger
}

type Orchestrator struct {
	cfg     config.BackupConfig
	conns   *db2.ConnectionManager
	rights  *db2.RightsVerifier
	exec    *db2.Executor
	cleaner *retention.Cleaner
	offsite Uploader
	logger  zerolog.Logger
}

func New(opts Options) *Orchestrator {
	return &Orchestrator{
		cfg:     opts.Config,
		conns:   opts.Connections,
		rights:  opts.Rights,
		exec:    opts.Executor,
		cleaner: opts.Cleaner,
		offsite: opts.Offsite,
		logger:  opts.Logger.With().Str("db", opts.Config.DBName).Logger(),
	}
}

// Deps are the collaborators Wire needs beyond the configuration.
type Deps struct {
	Runner runner.Runner
	Fs     afero.Fs
	Logger zerolog.Logger
	// DB2Path is the CLP executable.
	DB2Path string
	// Identity is the account commands run as, used when the session
	// user cannot be queried.
	Identity string
	Owner    *db2.Owner
	Offsite  Uploader
}

// Wire builds every component from the configuration.
func Wire(cfg config.BackupConfig, deps Deps) *Orchestrator {
	clp := db2.CLP{Path: deps.DB2Path}
	conns := db2.NewConnectionManager(deps.Runner, clp, deps.Logger)
	rights := db2.NewRightsVerifier(deps.Runner, clp, deps.Logger)
	rights.FallbackIdentity = deps.Identity

	return New(Options{
		Config:      cfg,
		Connections: conns,
		Rights:      rights,
		Executor: db2.NewExecutor(db2.ExecutorOptions{
			Runner:      deps.Runner,
			CLP:         clp,
			Connections: conns,
			Detector:    db2.NewLogModeDetector(deps.Runner, clp, deps.Logger),
			Fs:          deps.Fs,
			Logger:      deps.Logger,
			Owner:       deps.Owner,
		}),
		Cleaner: retention.NewCleaner(deps.Fs, deps.Logger),
		Offsite: deps.Offsite,
		Logger:  deps.Logger,
	})
}

// Run performs the whole sequence: backup, offsite copy, prune. The error
// is the first fatal condition; the report is never nil.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	report, err := o.Backup(ctx)
	if err != nil {
		return report, err
	}
	o.Replicate(ctx, report)
	o.Prune(ctx, report)
	o.summarize(report)
	return report, nil
}

// Backup connects, verifies rights and runs the executor. The connection
// and any temporary catalog entries are gone when it returns.
func (o *Orchestrator) Backup(ctx context.Context) (report *Report, err error) {
	report = &Report{Database: o.cfg.DBName, StartedAt: time.Now()}
	defer func() { report.Duration = time.Since(report.StartedAt) }()

	////////////////////////////////////////
	// 1. Connect
	////////////////////////////////////////
	h, err := o.conns.Connect(ctx, o.cfg)
	if err != nil {
		o.logger.Error().Err(err).Msg("connect failed")
		return report, err
	}
	defer func() {
		if derr := o.conns.Disconnect(ctx, h); derr != nil {
			report.warn(db2.WarnDisconnectFailed, false, "%v", derr)
		}
	}()

	////////////////////////////////////////
	// 2. Verify rights
	////////////////////////////////////////
	rights, err := o.rights.Verify(ctx, h, o.cfg.DBName)
	report.Rights = rights
	if err != nil {
		o.logger.Error().Err(err).Msg("rights verification failed")
		return report, err
	}
	if rights.Verdict == db2.VerdictDegraded {
		if o.cfg.StrictRights {
			return report, fmt.Errorf("%w: %s on %s", db2.ErrRightsUnverified, rights.AuthorizationID, o.cfg.DBName)
		}
		report.warn(db2.WarnRightsDegraded, false, "could not confirm %s holds %s, relying on the backup to enforce authorization", rights.AuthorizationID, db2.RequiredAuthorities)
	}

	////////////////////////////////////////
	// 3. Classify, back up, validate
	////////////////////////////////////////
	set, err := o.exec.Run(ctx, h, o.cfg)
	report.Session = set.Session
	report.Artifacts = set.Artifacts
	report.Relocated = set.Relocated
	report.Warnings = append(report.Warnings, set.Warnings...)
	if err != nil {
		o.logger.Error().Err(err).Str("session", set.Session.ID).Msg("backup failed")
		return report, err
	}
	return report, nil
}

// Replicate copies the session offsite when an uploader is configured.
// Failure is recorded as a warning.
func (o *Orchestrator) Replicate(ctx context.Context, report *Report) {
	if o.offsite == nil || len(report.Artifacts) == 0 {
		return
	}
	set := &db2.ArtifactSet{Session: report.Session, Artifacts: report.Artifacts}
	keys, err := o.offsite.Upload(ctx, o.cfg.DBName, set)
	report.OffsiteKeys = keys
	if err != nil {
		report.warn(db2.WarnOffsiteFailed, false, "%v", err)
	}
}

// Prune removes expired sessions and records failures as warnings.
func (o *Orchestrator) Prune(ctx context.Context, report *Report) {
	result := o.cleaner.Prune(ctx, o.cfg.BackupPath, o.cfg.DBName, o.cfg.RetentionDays)
	report.Pruned = append(report.Pruned, result.Pruned...)
	for _, f := range result.Failures {
		report.warn(db2.WarnPruneFailed, false, "%s: %s", f.Dir, f.Err)
	}
}

func (o *Orchestrator) summarize(report *Report) {
	event := o.logger.Info()
	if len(report.Warnings) > 0 {
		event = o.logger.Warn()
	}
	event.
		Str("session", report.Session.ID).
		Str("dir", report.Session.Dir).
		Str("mode", string(report.Session.LogMode)).
		Int("artifacts", len(report.Artifacts)).
		Str("size", humanize.IBytes(uint64(report.TotalSize()))).
		Int("offsite", len(report.OffsiteKeys)).
		Int("pruned", len(report.Pruned)).
		Int("warnings", len(report.Warnings)).
		Dur("duration", report.Duration).
		Msg("backup complete")

	for _, w := range report.Warnings {
		e := o.logger.Warn()
		if w.Manual {
			e = o.logger.Error()
		}
		e.Str("kind", string(w.Kind)).Bool("manual", w.Manual).Msg(w.Message)
	}
}

// NeedsAttention reports whether any warning asks for manual action.
func (r *Report) NeedsAttention() bool {
	for _, w := range r.Warnings {
		if w.Manual {
			return true
		}
	}
	return false
}

