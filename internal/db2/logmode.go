package db2

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"db2backup/internal/runner"

	"github.com/rs/zerolog"
)

// LogMode is the recovery logging mode of a database.
type LogMode string

const (
	LogModeUnknown  LogMode = "unknown"
	LogModeArchive  LogMode = "archive"
	LogModeCircular LogMode = "circular"
)

const queryLogArchMeth = "select value from sysibmadm.dbcfg where name = 'logarchmeth1'"

var logArchMethPattern = regexp.MustCompile(`(?m)\(LOGARCHMETH1\)\s*=[ \t]*(.*)$`)

// ClassifyValue maps the LOGARCHMETH1 value to a logging mode.
func ClassifyValue(value string) LogMode {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "OFF") {
		return LogModeCircular
	}
	return LogModeArchive
}

// LogModeDetector reads the archive logging configuration.
type LogModeDetector struct {
	runner runner.Runner
	clp    CLP
	logger zerolog.Logger
}

func NewLogModeDetector(r runner.Runner, clp CLP, logger zerolog.Logger) *LogModeDetector {
	return &LogModeDetector{runner: r, clp: clp, logger: logger}
}

// Classify returns archive or circular for the handle's database.
func (d *LogModeDetector) Classify(ctx context.Context, h *Handle) (LogMode, error) {
	value, source, err := d.readLogArchMeth(ctx, h)
	if err != nil {
		return LogModeUnknown, err
	}
	mode := ClassifyValue(value)
	d.logger.Info().
		Str("db", h.Database).
		Str("logarchmeth1", value).
		Str("source", source).
		Str("mode", string(mode)).
		Msg("logging mode detected")
	return mode, nil
}

func (d *LogModeDetector) readLogArchMeth(ctx context.Context, h *Handle) (value, source string, err error) {
	res := d.runner.Run(ctx, d.clp.Query(queryLogArchMeth))
	if !res.Failed() {
		if v := firstLine(res.Stdout); v != "" {
			return v, "sysibmadm.dbcfg", nil
		}
	}
	d.logger.Debug().Str("output", res.Describe()).Msg("dbcfg query gave no value, reading db cfg")

	res = d.runner.Run(ctx, d.clp.GetDBConfig(h.Target))
	if res.Failed() {
		return "", "", fmt.Errorf("%w: get db cfg for %s: %s", ErrClassifyFailed, h.Target, res.Describe())
	}
	if m := logArchMethPattern.FindStringSubmatch(res.Stdout); m != nil {
		return strings.TrimSpace(m[1]), "db cfg", nil
	}
	return "", "db cfg", nil
}
