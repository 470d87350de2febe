package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records every command and replies with scripted results.
type fakeRunner struct {
	commands     []Command
	failures     map[string]error
	stderrByName map[string]string
	missingTools map[string]bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		failures:     make(map[string]error),
		stderrByName: make(map[string]string),
		missingTools: make(map[string]bool),
	}
}

func (f *fakeRunner) Run(_ context.Context, cmd Command) (string, string, error) {
	f.commands = append(f.commands, cmd)
	if err, ok := f.failures[cmd.Name]; ok {
		return "", f.stderrByName[cmd.Name], err
	}
	return "", "", nil
}

func (f *fakeRunner) LookPath(tool string) error {
	if f.missingTools[tool] {
		return fmt.Errorf("exec: %q: executable file not found in $PATH", tool)
	}
	return nil
}

func testConfig() Config {
	return Config{
		Host:     "db.internal",
		Port:     5432,
		User:     "odoo",
		Password: "secret",
		Database: "production",
	}
}

func TestDumpCommandConstruction(t *testing.T) {
	runner := newFakeRunner()
	adapter := NewPostgresAdapterWithRunner(testConfig(), runner, nil)

	err := adapter.Dump(context.Background(), "/tmp/out.sql")
	require.NoError(t, err)
	require.Len(t, runner.commands, 1)

	cmd := runner.commands[0]
	assert.Equal(t, "pg_dump", cmd.Name)
	assert.Equal(t, []string{
		"-h", "db.internal",
		"-p", "5432",
		"-U", "odoo",
		"-d", "production",
		"-f", "/tmp/out.sql",
		"--no-owner",
		"--no-acl",
	}, cmd.Args)
	assert.Contains(t, cmd.Env, "PGPASSWORD=secret")
}

func TestDumpErrorCarriesStderr(t *testing.T) {
	runner := newFakeRunner()
	runner.failures["pg_dump"] = errors.New("exit status 1")
	runner.stderrByName["pg_dump"] = "pg_dump: error: connection to server failed\n"

	adapter := NewPostgresAdapterWithRunner(testConfig(), runner, nil)
	err := adapter.Dump(context.Background(), "/tmp/out.sql")
	require.Error(t, err)

	var dumpErr *DumpError
	require.ErrorAs(t, err, &dumpErr)
	assert.Equal(t, "production", dumpErr.Database)
	assert.Contains(t, dumpErr.Stderr, "connection to server failed")
}

func TestEnsureFreshDatabaseSequence(t *testing.T) {
	runner := newFakeRunner()
	adapter := NewPostgresAdapterWithRunner(testConfig(), runner, nil)

	err := adapter.EnsureFreshDatabase(context.Background())
	require.NoError(t, err)
	require.Len(t, runner.commands, 3)

	terminate := runner.commands[0]
	assert.Equal(t, "psql", terminate.Name)
	assert.Contains(t, strings.Join(terminate.Args, " "), "pg_terminate_backend")
	assert.Contains(t, strings.Join(terminate.Args, " "), "-d postgres")

	drop := runner.commands[1]
	assert.Equal(t, "dropdb", drop.Name)
	assert.Contains(t, drop.Args, "--if-exists")
	assert.Contains(t, drop.Args, "production")

	create := runner.commands[2]
	assert.Equal(t, "createdb", create.Name)
	assert.Contains(t, create.Args, "production")
}

func TestEnsureFreshDatabaseDropFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.failures["dropdb"] = errors.New("exit status 1")
	runner.stderrByName["dropdb"] = "dropdb: error: database is being accessed by other users"

	adapter := NewPostgresAdapterWithRunner(testConfig(), runner, nil)
	err := adapter.EnsureFreshDatabase(context.Background())
	require.Error(t, err)

	var restoreErr *RestoreError
	require.ErrorAs(t, err, &restoreErr)
	assert.Equal(t, "drop_database", restoreErr.Step)
	assert.Contains(t, restoreErr.Stderr, "being accessed")
}

func TestRestoreCommandConstruction(t *testing.T) {
	dir := t.TempDir()
	dumpPath := filepath.Join(dir, "dump.sql")
	require.NoError(t, os.WriteFile(dumpPath, []byte("SELECT 1;"), 0644))

	runner := newFakeRunner()
	adapter := NewPostgresAdapterWithRunner(testConfig(), runner, nil)

	err := adapter.Restore(context.Background(), dumpPath)
	require.NoError(t, err)
	require.Len(t, runner.commands, 1)

	cmd := runner.commands[0]
	assert.Equal(t, "psql", cmd.Name)
	joined := strings.Join(cmd.Args, " ")
	assert.Contains(t, joined, "-d production")
	assert.Contains(t, joined, "ON_ERROR_STOP=1")
	assert.Contains(t, joined, "-f "+dumpPath)
}

func TestRestoreMissingDumpFile(t *testing.T) {
	runner := newFakeRunner()
	adapter := NewPostgresAdapterWithRunner(testConfig(), runner, nil)

	err := adapter.Restore(context.Background(), "/nonexistent/dump.sql")
	require.Error(t, err)

	var restoreErr *RestoreError
	require.ErrorAs(t, err, &restoreErr)
	assert.Equal(t, "open_dump", restoreErr.Step)
	assert.Empty(t, runner.commands, "no command should run when the dump is missing")
}

func TestCheckClientTools(t *testing.T) {
	runner := newFakeRunner()
	adapter := NewPostgresAdapterWithRunner(testConfig(), runner, nil)
	require.NoError(t, adapter.CheckClientTools())

	runner.missingTools["createdb"] = true
	err := adapter.CheckClientTools()
	require.Error(t, err)

	var missing *MissingToolError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "createdb", missing.Tool)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing host", func(c *Config) { c.Host = "" }, true},
		{"missing user", func(c *Config) { c.User = "" }, true},
		{"missing database", func(c *Config) { c.Database = "" }, true},
		{"port zero", func(c *Config) { c.Port = 0 }, true},
		{"port too large", func(c *Config) { c.Port = 70000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigDSN(t *testing.T) {
	dsn := testConfig().DSN()
	assert.Contains(t, dsn, "host=db.internal")
	assert.Contains(t, dsn, "port=5432")
	assert.Contains(t, dsn, "dbname=production")
	assert.Contains(t, dsn, "sslmode=disable")
	assert.Contains(t, dsn, "password=secret")
}
