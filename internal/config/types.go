package config

// LogConfig represents the logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// OffsiteConfig describes the optional S3 copy of finished sessions
type OffsiteConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// TemporalConfig configures worker mode
type TemporalConfig struct {
	Server    string `mapstructure:"server"`
	Namespace string `mapstructure:"namespace"`
	Queue     string `mapstructure:"queue"`
	TLS       bool   `mapstructure:"tls"`
	APIKey    string `mapstructure:"api_key"`
}
