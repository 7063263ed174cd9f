package config

type PathConfig struct {
	DB2   string `mapstructure:"db2"`
	Shell string `mapstructure:"shell"`
	Su    string `mapstructure:"su"`
	Sudo  string `mapstructure:"sudo"`
}
