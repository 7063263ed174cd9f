package log

import (
	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

// TemporalAdapter routes Temporal SDK logs into zerolog, tagged with
// component=temporal.
type TemporalAdapter struct {
	logger zerolog.Logger
}

var _ log.Logger = (*TemporalAdapter)(nil)

func NewTemporalAdapter(logger zerolog.Logger) *TemporalAdapter {
	return &TemporalAdapter{logger: logger.With().Str("component", "temporal").Logger()}
}

func (t *TemporalAdapter) Debug(msg string, keyvals ...interface{}) {
	t.log(zerolog.DebugLevel, msg, keyvals)
}

func (t *TemporalAdapter) Info(msg string, keyvals ...interface{}) {
	t.log(zerolog.InfoLevel, msg, keyvals)
}

func (t *TemporalAdapter) Warn(msg string, keyvals ...interface{}) {
	t.log(zerolog.WarnLevel, msg, keyvals)
}

func (t *TemporalAdapter) Error(msg string, keyvals ...interface{}) {
	t.log(zerolog.ErrorLevel, msg, keyvals)
}

// With returns a logger that adds keyvals to every entry
func (t *TemporalAdapter) With(keyvals ...interface{}) log.Logger {
	return &TemporalAdapter{logger: t.logger.With().Fields(pairs(keyvals)).Logger()}
}

func (t *TemporalAdapter) log(level zerolog.Level, msg string, keyvals []interface{}) {
	t.logger.WithLevel(level).Fields(pairs(keyvals)).Msg(msg)
}

// pairs drops a dangling key so zerolog does not misalign the fields.
func pairs(keyvals []interface{}) []interface{} {
	if len(keyvals)%2 == 1 {
		return keyvals[:len(keyvals)-1]
	}
	return keyvals
}
