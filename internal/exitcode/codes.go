package exitcode

import (
	"context"
	"errors"

	"db2backup/internal/config"
	"db2backup/internal/db2"
)

// Exit codes follow BSD sysexits.h.
// See: https://man.freebsd.org/cgi/man.cgi?query=sysexits
const (
	Success = 0

	// General is the fallback for unclassified errors.
	General = 1

	// Unavailable - the database could not be reached or cataloged
	Unavailable = 69

	// Software - the backup command failed or reported an error
	Software = 70

	// CantCreate - no session directory or no artifacts
	CantCreate = 73

	// TempFail - logging mode or deactivation failed, retry later
	TempFail = 75

	// NoPerm - the session lacks backup authority
	NoPerm = 77

	// Config - configuration error
	Config = 78

	// Timeout - a command exceeded backup.command_timeout
	Timeout = 124

	// Cancelled - interrupted by a signal
	Cancelled = 130
)

var mapping = []struct {
	target error
	code   int
}{
	{config.ErrInvalid, Config},
	{db2.ErrConnectFailed, Unavailable},
	{db2.ErrCatalogFailed, Unavailable},
	{db2.ErrInsufficientRights, NoPerm},
	{db2.ErrRightsUnverified, NoPerm},
	{db2.ErrClassifyFailed, TempFail},
	{db2.ErrDeactivateFailed, TempFail},
	{db2.ErrSessionDirExists, CantCreate},
	{db2.ErrDirCreateFailed, CantCreate},
	{db2.ErrNoArtifactsProduced, CantCreate},
	{db2.ErrBackupCommandFailed, Software},
	{db2.ErrBackupReportedError, Software},
}

// FromError returns the process exit status for err. Cancellation and
// timeouts win over the stage that observed them.
func FromError(err error) int {
	if err == nil {
		return Success
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Cancelled
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	}
	for _, m := range mapping {
		if errors.Is(err, m.target) {
			return m.code
		}
	}
	return General
}
