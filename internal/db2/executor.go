package db2

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"db2backup/internal/config"
	"db2backup/internal/runner"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// noApplications is the CLP message for an empty application list.
const noApplications = "SQL1611W"

var (
	numberPattern         = regexp.MustCompile(`^\d+$`)
	imageTimestampPattern = regexp.MustCompile(`(?i)timestamp for this backup image is\s*:\s*(\d{14})`)
)

// ExecutorOptions wires an Executor.
type ExecutorOptions struct {
	Runner      runner.Runner
	CLP         CLP
	Connections *ConnectionManager
	Detector    *LogModeDetector
	Fs          afero.Fs
	Logger      zerolog.Logger
	// Owner, when set, receives ownership of the session directory.
	Owner *Owner
	Now   func() time.Time
}

// Executor runs one backup session: logging mode, optional offline bracket,
// session directory, backup, validation and disconnect.
type Executor struct {
	runner   runner.Runner
	clp      CLP
	conns    *ConnectionManager
	detector *LogModeDetector
	fs       afero.Fs
	logger   zerolog.Logger
	owner    *Owner
	now      func() time.Time
}

func NewExecutor(opts ExecutorOptions) *Executor {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Executor{
		runner:   opts.Runner,
		clp:      opts.CLP,
		conns:    opts.Connections,
		detector: opts.Detector,
		fs:       opts.Fs,
		logger:   opts.Logger,
		owner:    opts.Owner,
		now:      opts.Now,
	}
}

// Run performs the backup. The returned set is never nil: it carries the
// session and any warnings even when err is set.
func (e *Executor) Run(ctx context.Context, h *Handle, cfg config.BackupConfig) (*ArtifactSet, error) {
	session := &Session{LogMode: LogModeUnknown, StartedAt: e.now()}
	set := &ArtifactSet{Session: session}
	logger := e.logger.With().Str("db", cfg.DBName).Logger()

	////////////////////////////////////////
	// 1. Logging mode and offline bracket
	////////////////////////////////////////
	mode, err := e.detector.Classify(ctx, h)
	if err != nil {
		return set, err
	}
	session.LogMode = mode

	reactivated := false
	reactivate := func() {
		if !session.Deactivated || reactivated {
			return
		}
		reactivated = true
		e.reactivate(context.WithoutCancel(ctx), h, set, logger)
	}
	defer reactivate()

	if mode == LogModeCircular {
		if err := e.takeOffline(ctx, h, set, logger); err != nil {
			return set, err
		}
		session.Deactivated = true
	}

	////////////////////////////////////////
	// 2. Session directory
	////////////////////////////////////////
	id, dir, err := createSessionDir(e.fs, cfg.DatabaseDir(), e.now, e.owner, logger)
	if err != nil {
		return set, err
	}
	session.ID = id
	session.Dir = dir
	logger = logger.With().Str("session", id).Logger()
	logger.Info().Str("dir", dir).Msg("session directory created")

	////////////////////////////////////////
	// 3-5. Backup invocation and error detection
	////////////////////////////////////////
	cmd := e.clp.Backup(BackupOptions{
		Database:    h.Target,
		Credentials: h.Credentials,
		Online:      mode == LogModeArchive,
		Type:        cfg.BackupType,
		Destination: dir,
		Compress:    cfg.Compress,
		BufferSize:  cfg.BufferSize,
		Parallelism: cfg.Parallelism,
	})
	logger.Info().Str("cmd", cmd.String()).Bool("online", mode == LogModeArchive).Msg("starting backup")

	start := time.Now()
	res := e.runner.Run(ctx, cmd)
	backupErr := checkBackup(res)
	if backupErr != nil {
		logger.Error().Err(backupErr).Str("output", res.Output()).Msg("backup failed")
	} else {
		session.ImageTimestamp = imageTimestamp(res.Stdout)
		logger.Info().Dur("duration", time.Since(start)).Str("output", strings.TrimSpace(res.Stdout)).Msg("backup command finished")
	}

	////////////////////////////////////////
	// 6. Reactivate
	////////////////////////////////////////
	reactivate()
	if backupErr != nil {
		return set, backupErr
	}

	////////////////////////////////////////
	// 7. Validate artifacts
	////////////////////////////////////////
	if err := e.validate(set, h.Target, logger); err != nil {
		return set, err
	}

	////////////////////////////////////////
	// 8. Disconnect
	////////////////////////////////////////
	if err := e.conns.Disconnect(ctx, h); err != nil {
		set.warn(WarnDisconnectFailed, false, "%v", err)
	}

	return set, nil
}

// checkBackup classifies the backup result. A zero exit with an embedded
// error marker is a failure too.
func checkBackup(res runner.Result) error {
	if res.Err != nil {
		return fmt.Errorf("%w: %w", ErrBackupCommandFailed, res.Err)
	}
	if res.Failed() {
		return fmt.Errorf("%w: %s", ErrBackupCommandFailed, res.Describe())
	}
	if hits := ScanErrors(res.Output()); len(hits) > 0 {
		return fmt.Errorf("%w: %s", ErrBackupReportedError, strings.Join(hits, "; "))
	}
	return nil
}

// takeOffline drops every connection to the database and deactivates it.
func (e *Executor) takeOffline(ctx context.Context, h *Handle, set *ArtifactSet, logger zerolog.Logger) error {
	logger.Info().Msg("circular logging, taking database offline")

	if err := e.conns.Reset(ctx, h); err != nil {
		logger.Warn().Err(err).Msg("failed to reset own connection")
	}

	if err := e.forceApplications(ctx, h); err != nil {
		logger.Warn().Err(err).Msg("failed to force applications, deactivation may be blocked")
		set.warn(WarnForceFailed, false, "%v", err)
	}

	res := e.runner.Run(ctx, e.clp.Deactivate(h.Target, h.Credentials))
	if res.Failed() {
		return fmt.Errorf("%w: %s: %s", ErrDeactivateFailed, h.Target, res.Describe())
	}
	logger.Info().Msg("database deactivated")
	return nil
}

func (e *Executor) forceApplications(ctx context.Context, h *Handle) error {
	res := e.runner.Run(ctx, e.clp.ListApplications(h.Target))
	out := res.Output()
	if strings.Contains(out, noApplications) {
		return nil
	}
	if res.Failed() {
		return fmt.Errorf("list applications: %s", res.Describe())
	}

	handles := parseApplicationHandles(out)
	if len(handles) == 0 {
		return nil
	}
	e.logger.Info().Strs("handles", handles).Msg("forcing applications")
	if res := e.runner.Run(ctx, e.clp.ForceApplications(handles)); res.Failed() {
		return fmt.Errorf("force application: %s", res.Describe())
	}
	return nil
}

// parseApplicationHandles extracts the Appl. Handle column from the output
// of LIST APPLICATIONS.
func parseApplicationHandles(out string) []string {
	var handles []string
	body := false
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "----") {
			body = true
			continue
		}
		if !body || trimmed == "" {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) >= 3 && numberPattern.MatchString(fields[2]) {
			handles = append(handles, fields[2])
		}
	}
	return handles
}

func (e *Executor) reactivate(ctx context.Context, h *Handle, set *ArtifactSet, logger zerolog.Logger) {
	res := e.runner.Run(ctx, e.clp.Activate(h.Target, h.Credentials))
	if res.Failed() {
		logger.Error().
			Str("output", res.Describe()).
			Msg("MANUAL ACTION REQUIRED: database could not be reactivated")
		set.warn(WarnReactivateFailed, true, "activate database %s failed: %s", h.Target, res.Describe())
		return
	}
	logger.Info().Msg("database reactivated")
}

// imageTimestamp returns the timestamp Db2 reports for the image it wrote.
func imageTimestamp(out string) string {
	if m := imageTimestampPattern.FindStringSubmatch(out); m != nil {
		return m[1]
	}
	return ""
}

// ownImage reports whether name is an image of database written by this
// session. Image names are <alias>.<type>.<instance>.<partition>.<timestamp>.<seq>.
func ownImage(name, database, timestamp string) bool {
	if !strings.HasPrefix(strings.ToUpper(name), strings.ToUpper(database)+".") {
		return false
	}
	return timestamp == "" || strings.Contains(name, "."+timestamp+".")
}

// validate requires at least one artifact, looking in the parent directory
// when the session directory is empty. Files in the parent only count when
// they are images of this database carrying this session's image timestamp.
func (e *Executor) validate(set *ArtifactSet, database string, logger zerolog.Logger) error {
	session := set.Session
	artifacts, err := listArtifacts(e.fs, session.Dir, time.Time{}, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNoArtifactsProduced, session.Dir, err)
	}
	if len(artifacts) > 0 {
		set.Artifacts = artifacts
		return nil
	}

	// File systems may round mtimes down to the second.
	since := session.StartedAt.Truncate(time.Second)
	parent := filepath.Dir(session.Dir)
	stray, err := listArtifacts(e.fs, parent, since, func(name string) bool {
		return ownImage(name, database, session.ImageTimestamp)
	})
	if err == nil && len(stray) > 0 {
		logger.Warn().Str("dir", parent).Int("files", len(stray)).Msg("backup files written to parent directory")
		set.Artifacts = stray
		set.Relocated = true
		set.warn(WarnArtifactsRelocated, false, "backup files written to %s instead of %s", parent, session.Dir)
		return nil
	}
	return fmt.Errorf("%w: %s is empty", ErrNoArtifactsProduced, session.Dir)
}
