// Package retention removes expired backup session directories.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// tombstonePrefix hides a directory that is being removed. A crash between
// rename and removal leaves a tombstone that the next prune finishes.
const tombstonePrefix = ".expired-"

// Failure is a directory that could not be pruned.
type Failure struct {
	Dir string `json:"dir"`
	Err string `json:"error"`
}

// Result lists what a prune did.
type Result struct {
	Cutoff     time.Time `json:"cutoff"`
	Checked    int       `json:"checked"`
	Pruned     []string  `json:"pruned"`
	SpaceFreed int64     `json:"space_freed"`
	Failures   []Failure `json:"failures,omitempty"`
}

func (r *Result) fail(dir string, err error) {
	r.Failures = append(r.Failures, Failure{Dir: dir, Err: err.Error()})
}

// Cleaner prunes session directories under backup_path/db_name.
type Cleaner struct {
	fs     afero.Fs
	logger zerolog.Logger
	now    func() time.Time
}

func NewCleaner(fs afero.Fs, logger zerolog.Logger) *Cleaner {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Cleaner{fs: fs, logger: logger, now: time.Now}
}

// WithClock replaces the clock used to compute the cutoff.
func (c *Cleaner) WithClock(now func() time.Time) *Cleaner {
	c.now = now
	return c
}

// Prune removes every immediate subdirectory of backupPath/dbName whose
// modification time is older than retentionDays. Files are left alone.
// A non-positive retention disables pruning. Errors never abort the prune;
// they are collected in the result.
func (c *Cleaner) Prune(ctx context.Context, backupPath, dbName string, retentionDays int) *Result {
	result := &Result{}
	if retentionDays <= 0 {
		c.logger.Debug().Str("db", dbName).Msg("retention disabled, skipping prune")
		return result
	}

	dir := filepath.Join(backupPath, dbName)
	result.Cutoff = c.now().AddDate(0, 0, -retentionDays)
	logger := c.logger.With().Str("dir", dir).Time("cutoff", result.Cutoff).Logger()

	entries, err := afero.ReadDir(c.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return result
		}
		logger.Warn().Err(err).Msg("failed to list session directories")
		result.fail(dir, err)
		return result
	}

	for _, fi := range entries {
		if ctx.Err() != nil {
			result.fail(dir, ctx.Err())
			break
		}
		if !fi.IsDir() {
			continue
		}
		path := filepath.Join(dir, fi.Name())

		if strings.HasPrefix(fi.Name(), tombstonePrefix) {
			if err := c.fs.RemoveAll(path); err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("failed to remove leftover tombstone")
				result.fail(path, err)
			}
			continue
		}

		result.Checked++
		if !fi.ModTime().Before(result.Cutoff) {
			continue
		}

		size := dirSize(c.fs, path)
		if err := c.remove(dir, fi.Name()); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("failed to prune session")
			result.fail(path, err)
			continue
		}
		result.Pruned = append(result.Pruned, path)
		result.SpaceFreed += size
		logger.Info().
			Str("session", fi.Name()).
			Time("modified", fi.ModTime()).
			Str("size", humanize.IBytes(uint64(size))).
			Msg("pruned session")
	}

	logger.Info().
		Int("checked", result.Checked).
		Int("pruned", len(result.Pruned)).
		Int("failed", len(result.Failures)).
		Str("freed", humanize.IBytes(uint64(result.SpaceFreed))).
		Msg("prune finished")
	return result
}

// remove hides the session under a tombstone name first so readers never
// see a half-deleted session.
func (c *Cleaner) remove(dir, name string) error {
	tombstone := filepath.Join(dir, tombstonePrefix+name)
	if err := c.fs.Rename(filepath.Join(dir, name), tombstone); err != nil {
		return fmt.Errorf("failed to hide session: %w", err)
	}
	if err := c.fs.RemoveAll(tombstone); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

func dirSize(fs afero.Fs, dir string) int64 {
	var size int64
	_ = afero.Walk(fs, dir, func(_ string, fi os.FileInfo, err error) error {
		if err == nil && fi.Mode().IsRegular() {
			size += fi.Size()
		}
		return nil
	})
	return size
}
