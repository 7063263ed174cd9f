package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strconv"

	"db2backup/internal/config"
	"db2backup/internal/db2"
	"db2backup/internal/offsite"
	"db2backup/internal/runner"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// FromConfig builds an Orchestrator that runs real commands through a
// persistent shell. The returned function closes the shell.
func FromConfig(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Orchestrator, func() error, error) {
	if err := cfg.Backup.Validate(); err != nil {
		return nil, nil, err
	}

	owner, err := instanceOwner(cfg.Backup.DBInstance, os.Geteuid())
	if err != nil {
		return nil, nil, err
	}

	fs := afero.NewOsFs()
	var uploader Uploader
	if cfg.Offsite.Enabled {
		u, err := offsite.New(ctx, cfg.Offsite, fs, logger)
		if err != nil {
			return nil, nil, err
		}
		uploader = u
	}

	shell := runner.NewShell(runner.Options{
		Identity: cfg.Backup.DBInstance,
		Shell:    cfg.Path.Shell,
		Su:       cfg.Path.Su,
		Sudo:     cfg.Path.Sudo,
		Timeout:  cfg.Backup.CommandTimeout,
		Logger:   logger,
	})

	identity := cfg.Backup.DBInstance
	if identity == "" {
		if u, err := user.Current(); err == nil {
			identity = u.Username
		}
	}

	o := Wire(cfg.Backup, Deps{
		Runner:   shell,
		Fs:       fs,
		Logger:   logger,
		DB2Path:  cfg.Path.DB2,
		Identity: identity,
		Owner:    owner,
		Offsite:  uploader,
	})
	return o, shell.Close, nil
}

// instanceOwner resolves the account that must own session directories.
// Only root needs to hand them over; other users create them as
// themselves.
func instanceOwner(identity string, euid int) (*db2.Owner, error) {
	if identity == "" || euid != 0 {
		return nil, nil
	}
	u, err := user.Lookup(identity)
	if err != nil {
		return nil, fmt.Errorf("%w: backup.db_instance %q: %w", config.ErrInvalid, identity, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("invalid uid %q for %s: %w", u.Uid, identity, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, fmt.Errorf("invalid gid %q for %s: %w", u.Gid, identity, err)
	}
	return &db2.Owner{UID: uid, GID: gid}, nil
}
