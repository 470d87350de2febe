package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odoo-backup-tool/internal/backup"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
source:
  database:
    database: production
  filestore_path: /var/lib/odoo/filestore
storage:
  provider: LOCAL
  local:
    base_path: ./backups
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Source.Database.Host)
	assert.Equal(t, 5432, cfg.Source.Database.Port)
	assert.Equal(t, "odoo", cfg.Source.Database.User)
	assert.Equal(t, "gzip", cfg.Compression)
	assert.Equal(t, "normal", cfg.Logging.Level)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
source:
  database:
    host: db.internal
    port: 5433
    user: backup
    password: secret
    database: production
  filestore_path: /srv/odoo/filestore
  ssh:
    host: odoo.internal
    port: 22
    user: odoo
    key_file: /home/op/.ssh/id_ed25519
target:
  database:
    database: staging
  filestore_path: /srv/staging/filestore
storage:
  provider: S3
  s3:
    bucket: my-backups
    region: eu-central-1
retention:
  max_count: 5
  max_age: 720h
compression: zstd
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Source.Database.Host)
	assert.True(t, cfg.Source.Remote())
	assert.Equal(t, "odoo.internal", cfg.Source.SSH.Host)
	assert.Equal(t, backup.StorageProviderS3, cfg.Storage.Provider)
	assert.Equal(t, 5, cfg.Retention.MaxCount)
	assert.Equal(t, 30*24*time.Hour, cfg.Retention.MaxAge)
	assert.Equal(t, "zstd", cfg.Compression)

	// Target inherits the source's connection defaults.
	require.NotNil(t, cfg.Target)
	assert.Equal(t, "db.internal", cfg.Target.Database.Host)
	assert.Equal(t, 5433, cfg.Target.Database.Port)
	assert.Equal(t, "staging", cfg.Target.Database.Database)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing database name", `
source:
  filestore_path: /srv/filestore
storage:
  provider: LOCAL
  local:
    base_path: ./backups
`},
		{"missing filestore path", `
source:
  database:
    database: production
storage:
  provider: LOCAL
  local:
    base_path: ./backups
`},
		{"storage without block", `
source:
  database:
    database: production
  filestore_path: /srv/filestore
storage:
  provider: S3
`},
		{"unknown compression", `
source:
  database:
    database: production
  filestore_path: /srv/filestore
storage:
  provider: LOCAL
  local:
    base_path: ./backups
compression: rar
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSampleConfigIsLoadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteSample(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Source.Database.Database)
	assert.Equal(t, backup.StorageProviderLocal, cfg.Storage.Provider)

	// Refuses to clobber an existing file.
	assert.Error(t, WriteSample(path))
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.Database.Database = "demo"
	cfg.Source.FilestorePath = "/srv/filestore"

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Source.Database.Database)
}
