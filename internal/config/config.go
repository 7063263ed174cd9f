package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// DB2BACKUP_BACKUP_DB_NAME overrides backup.db_name.
const EnvPrefix = "DB2BACKUP"

// Config represents the full configuration of a backup run and of the worker
type Config struct {
	Backup   BackupConfig   `mapstructure:"backup"`
	Log      LogConfig      `mapstructure:"log"`
	Path     PathConfig     `mapstructure:"path"`
	Offsite  OffsiteConfig  `mapstructure:"offsite"`
	Temporal TemporalConfig `mapstructure:"temporal"`
}

// NewConfig loads configuration from file and environment variables
// configPath: path to the config file (e.g., "config.yaml"). If empty, looks for "config.yaml" in current directory
func NewConfig(ctx context.Context, configPath string) (*Config, error) {
	config := new(Config)
	v := viper.New()

	setDefaults(v)

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/db2backup")
	}

	// Read the config file
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fmt.Fprintln(os.Stderr, "No config file found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("%w: error reading config file: %w", ErrInvalid, err)
		}
	}

	// Set up Viper to read from environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	config.Backup.normalize()

	return config, nil
}

func setDefaults(v *viper.Viper) {
	// Backup defaults
	v.SetDefault("backup.backup_type", string(BackupTypeFull))
	v.SetDefault("backup.compress", true)
	v.SetDefault("backup.parallelism", 4)
	v.SetDefault("backup.buffer_size", 1024)
	v.SetDefault("backup.backup_path", "")
	v.SetDefault("backup.db_name", "")
	v.SetDefault("backup.connection_type", string(ConnectionLocal))
	v.SetDefault("backup.db_host", "")
	v.SetDefault("backup.db_port", 50000)
	v.SetDefault("backup.db_user", "")
	v.SetDefault("backup.db_password", "")
	v.SetDefault("backup.retention_days", 30)
	v.SetDefault("backup.db_instance", "")
	v.SetDefault("backup.command_timeout", "0s")
	v.SetDefault("backup.strict_rights", false)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "stdout")
	v.SetDefault("log.max_size", 50)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age", 90)
	v.SetDefault("log.compress", true)

	// Path defaults
	v.SetDefault("path.db2", "db2")
	v.SetDefault("path.shell", "/bin/sh")
	v.SetDefault("path.su", "su")
	v.SetDefault("path.sudo", "sudo")

	// Offsite defaults
	v.SetDefault("offsite.enabled", false)
	v.SetDefault("offsite.bucket", "")
	v.SetDefault("offsite.prefix", "")
	v.SetDefault("offsite.region", "us-east-1")
	v.SetDefault("offsite.endpoint", "")
	v.SetDefault("offsite.access_key_id", "")
	v.SetDefault("offsite.secret_access_key", "")

	// Temporal defaults
	v.SetDefault("temporal.server", "")
	v.SetDefault("temporal.namespace", "")
	v.SetDefault("temporal.queue", "db2backup")
	v.SetDefault("temporal.tls", false)
	v.SetDefault("temporal.api_key", "")
}
