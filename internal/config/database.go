package config

import "fmt"

// Database holds the Postgres connection settings.
type Database struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	PoolSize int    `yaml:"pool_size"`
	SSLMode  string `yaml:"ssl_mode"`
}

// Enabled reports whether a database was configured at all.
func (d Database) Enabled() bool {
	return d.Host != ""
}

// Validate names the first offending key below prefix.
func (d Database) Validate(prefix string) error {
	if d.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("%s.port must be between 1 and 65535", prefix)
	}
	if d.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if d.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if d.Database == "" {
		return fmt.Errorf("%s.database is required", prefix)
	}
	if d.PoolSize <= 0 {
		return fmt.Errorf("%s.pool_size must be greater than 0", prefix)
	}
	if d.SSLMode == "" {
		return fmt.Errorf("%s.ssl_mode is required", prefix)
	}
	return nil
}
