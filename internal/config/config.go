// Package config loads and validates the tool's YAML configuration:
// where the instance lives, where artifacts go, and how runs behave.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"odoo-backup-tool/internal/archive"
	"odoo-backup-tool/internal/backup"
	"odoo-backup-tool/internal/database"
)

// LoggingConfig selects log verbosity and destination.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

// Config is the full tool configuration.
type Config struct {
	// Source is the instance backups are taken from and restores are
	// applied to, unless a target overrides it.
	Source backup.InstanceConfig `yaml:"source"`
	// Target, when set, is the destination instance for clone runs.
	Target *backup.InstanceConfig `yaml:"target,omitempty"`

	Storage   backup.StorageConfig   `yaml:"storage"`
	Retention backup.RetentionPolicy `yaml:"retention"`
	Logging   LoggingConfig          `yaml:"logging"`

	// Compression selects the archive format for new backups.
	Compression string `yaml:"compression"`
	// NeutralizePolicy optionally overrides the built-in policy file.
	NeutralizePolicy string `yaml:"neutralize_policy,omitempty"`
}

// DefaultConfig returns a configuration with sensible defaults: a
// local PostgreSQL, a local artifact store, gzip archives.
func DefaultConfig() *Config {
	return &Config{
		Source: backup.InstanceConfig{
			Database: databaseDefaults(),
		},
		Storage: backup.StorageConfig{
			Provider: backup.StorageProviderLocal,
			Local:    &backup.LocalConfig{BasePath: "./backups", Permissions: 0755},
		},
		Retention: backup.RetentionPolicy{
			MaxCount: 10,
			MaxAge:   90 * 24 * time.Hour,
		},
		Logging:     LoggingConfig{Level: "normal", Format: "text"},
		Compression: string(archive.FormatGzip),
	}
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills fields the file left empty.
func (c *Config) applyDefaults() {
	defaults := databaseDefaults()
	if c.Source.Database.Host == "" {
		c.Source.Database.Host = defaults.Host
	}
	if c.Source.Database.Port == 0 {
		c.Source.Database.Port = defaults.Port
	}
	if c.Source.Database.User == "" {
		c.Source.Database.User = defaults.User
	}
	if c.Compression == "" {
		c.Compression = string(archive.FormatGzip)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "normal"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Target != nil {
		if c.Target.Database.Host == "" {
			c.Target.Database.Host = c.Source.Database.Host
		}
		if c.Target.Database.Port == 0 {
			c.Target.Database.Port = c.Source.Database.Port
		}
		if c.Target.Database.User == "" {
			c.Target.Database.User = c.Source.Database.User
		}
	}
}

// Validate checks the configuration for contradictions before any
// command runs with it.
func (c *Config) Validate() error {
	if err := c.Source.Database.Validate(); err != nil {
		return fmt.Errorf("source database: %w", err)
	}
	if c.Source.FilestorePath == "" {
		return fmt.Errorf("source filestore_path is required")
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if _, err := archive.ParseFormat(c.Compression); err != nil {
		return err
	}
	if c.Target != nil {
		if err := c.Target.Database.Validate(); err != nil {
			return fmt.Errorf("target database: %w", err)
		}
		if c.Target.FilestorePath == "" {
			return fmt.Errorf("target filestore_path is required")
		}
	}
	return nil
}

// Save writes the configuration to a file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("serializing config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

func databaseDefaults() database.Config {
	return database.Config{Host: "localhost", Port: 5432, User: "odoo"}
}
