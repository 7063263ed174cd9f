package db2

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// SessionIDLayout sorts lexically in chronological order.
const SessionIDLayout = "20060102T150405.000"

// sessionDirAttempts bounds how many identifiers are tried when a
// concurrent run took the same millisecond.
const sessionDirAttempts = 3

// Session is one backup run against one database.
type Session struct {
	ID          string    `json:"id"`
	Dir         string    `json:"dir"`
	LogMode     LogMode   `json:"log_mode"`
	Deactivated bool      `json:"deactivated"`
	StartedAt   time.Time `json:"started_at"`

	// ImageTimestamp is the timestamp Db2 reported for the image, if any.
	ImageTimestamp string `json:"image_timestamp,omitempty"`
}

// SessionID formats t as a session identifier.
func SessionID(t time.Time) string {
	return t.UTC().Format(SessionIDLayout)
}

// Owner is the account that must own the session directory so the database
// engine can write into it.
type Owner struct {
	UID int
	GID int
}

// createSessionDir creates a fresh directory under dbDir. The exclusive
// mkdir guarantees two runs never share a directory.
func createSessionDir(fs afero.Fs, dbDir string, now func() time.Time, owner *Owner, logger zerolog.Logger) (id, dir string, err error) {
	if err := fs.MkdirAll(dbDir, 0o750); err != nil {
		return "", "", fmt.Errorf("%w: %s: %w", ErrDirCreateFailed, dbDir, err)
	}
	if owner != nil {
		if err := fs.Chown(dbDir, owner.UID, owner.GID); err != nil {
			logger.Warn().Err(err).Str("dir", dbDir).Int("uid", owner.UID).Msg("failed to chown database directory")
		}
	}

	for attempt := 0; attempt < sessionDirAttempts; attempt++ {
		id = SessionID(now())
		dir = filepath.Join(dbDir, id)
		err = fs.Mkdir(dir, 0o750)
		if err == nil {
			if owner != nil {
				if err := fs.Chown(dir, owner.UID, owner.GID); err != nil {
					return "", "", fmt.Errorf("%w: chown %s: %w", ErrDirCreateFailed, dir, err)
				}
			}
			return id, dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", "", fmt.Errorf("%w: %s: %w", ErrDirCreateFailed, dir, err)
		}
		time.Sleep(time.Millisecond)
	}
	return "", "", fmt.Errorf("%w: %s", ErrSessionDirExists, dir)
}
