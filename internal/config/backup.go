package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// BackupType selects between a full image and the two incremental flavours.
type BackupType string

const (
	BackupTypeFull        BackupType = "full"
	BackupTypeIncremental BackupType = "incremental"
	BackupTypeDelta       BackupType = "delta"
)

// ConnectionType describes how the target database is reached.
type ConnectionType string

const (
	ConnectionLocal        ConnectionType = "local"
	ConnectionCataloged    ConnectionType = "cataloged"
	ConnectionNonCataloged ConnectionType = "non-cataloged"
)

// Db2 database names and aliases are at most 8 characters.
var dbNamePattern = regexp.MustCompile(`^[A-Za-z@#$][A-Za-z0-9@#$_]{0,7}$`)

// BackupConfig describes one database backup job
type BackupConfig struct {
	BackupType     BackupType     `mapstructure:"backup_type"`
	Compress       bool           `mapstructure:"compress"`
	Parallelism    int            `mapstructure:"parallelism"`
	BufferSize     int            `mapstructure:"buffer_size"`
	BackupPath     string         `mapstructure:"backup_path"`
	DBName         string         `mapstructure:"db_name"`
	ConnectionType ConnectionType `mapstructure:"connection_type"`
	DBHost         string         `mapstructure:"db_host"`
	DBPort         int            `mapstructure:"db_port"`
	DBUser         string         `mapstructure:"db_user"`
	DBPassword     string         `mapstructure:"db_password"`
	RetentionDays  int            `mapstructure:"retention_days"`
	DBInstance     string         `mapstructure:"db_instance"`

	// CommandTimeout bounds every external command. Zero means no timeout.
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	// StrictRights aborts the run when rights cannot be verified at all.
	StrictRights bool `mapstructure:"strict_rights"`
}

func (c *BackupConfig) normalize() {
	c.BackupType = BackupType(strings.ToLower(strings.TrimSpace(string(c.BackupType))))
	c.ConnectionType = ConnectionType(strings.ToLower(strings.TrimSpace(string(c.ConnectionType))))
	c.DBName = strings.ToUpper(strings.TrimSpace(c.DBName))
	c.DBHost = strings.TrimSpace(c.DBHost)
}

// ErrInvalid marks configuration that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks the configuration and names the first offending key
func (c *BackupConfig) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func (c *BackupConfig) validate() error {
	switch c.BackupType {
	case BackupTypeFull, BackupTypeIncremental, BackupTypeDelta:
	default:
		return fmt.Errorf("backup.backup_type must be one of full, incremental, delta (got %q)", c.BackupType)
	}
	if c.Parallelism <= 0 {
		return errors.New("backup.parallelism must be a positive integer")
	}
	if c.BufferSize <= 0 {
		return errors.New("backup.buffer_size must be a positive integer")
	}
	if c.BackupPath == "" {
		return errors.New("backup.backup_path is required")
	}
	if !filepath.IsAbs(c.BackupPath) {
		return fmt.Errorf("backup.backup_path must be absolute (got %q)", c.BackupPath)
	}
	if c.DBName == "" {
		return errors.New("backup.db_name is required")
	}
	if !dbNamePattern.MatchString(c.DBName) {
		return fmt.Errorf("backup.db_name %q is not a valid database name", c.DBName)
	}
	switch c.ConnectionType {
	case ConnectionLocal, ConnectionCataloged:
	case ConnectionNonCataloged:
		if c.DBHost == "" {
			return errors.New("backup.db_host is required for non-cataloged connections")
		}
		if c.DBPort <= 0 || c.DBPort > 65535 {
			return fmt.Errorf("backup.db_port must be between 1 and 65535 (got %d)", c.DBPort)
		}
	default:
		return fmt.Errorf("backup.connection_type must be one of local, cataloged, non-cataloged (got %q)", c.ConnectionType)
	}
	if c.DBPassword != "" && c.DBUser == "" {
		return errors.New("backup.db_password requires backup.db_user")
	}
	if c.RetentionDays < 0 {
		return errors.New("backup.retention_days must not be negative")
	}
	if c.CommandTimeout < 0 {
		return errors.New("backup.command_timeout must not be negative")
	}
	return nil
}

// WithOverrides returns a copy with the non-empty values replaced.
func (c BackupConfig) WithOverrides(dbName, backupType string) BackupConfig {
	if dbName != "" {
		c.DBName = dbName
	}
	if backupType != "" {
		c.BackupType = BackupType(backupType)
	}
	c.normalize()
	return c
}

// DatabaseDir is the per-database directory holding session directories.
func (c *BackupConfig) DatabaseDir() string {
	return filepath.Join(c.BackupPath, c.DBName)
}
