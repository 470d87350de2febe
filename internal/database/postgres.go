package database

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"odoo-backup-tool/internal/logging"
)

// Config holds PostgreSQL connection parameters. The client tools reach
// remote servers directly over TCP, so no transport is involved here.
type Config struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode"`
}

// DSN renders the config as a lib/pq connection string.
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	parts := []string{
		"host=" + c.Host,
		"port=" + strconv.Itoa(c.Port),
		"user=" + c.User,
		"dbname=" + c.Database,
		"sslmode=" + sslMode,
	}
	if c.Password != "" {
		parts = append(parts, "password="+c.Password)
	}
	return strings.Join(parts, " ")
}

// WithDatabase returns a copy of the config pointing at another database.
func (c Config) WithDatabase(name string) Config {
	c.Database = name
	return c
}

// Validate checks the minimum fields a connection needs.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("database port %d is out of range", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

// requiredTools are the client binaries the adapter shells out to.
var requiredTools = []string{"pg_dump", "psql", "createdb", "dropdb"}

// PostgresAdapter drives the PostgreSQL client tools as subprocesses.
// Exit code and stderr are the only feedback channel; stderr is carried
// verbatim on failure.
type PostgresAdapter struct {
	config Config
	runner CommandRunner
	logger *logging.Logger
}

// NewPostgresAdapter creates an adapter using the real exec runner.
func NewPostgresAdapter(config Config, logger *logging.Logger) *PostgresAdapter {
	return NewPostgresAdapterWithRunner(config, NewExecRunner(), logger)
}

// NewPostgresAdapterWithRunner creates an adapter with a custom runner.
func NewPostgresAdapterWithRunner(config Config, runner CommandRunner, logger *logging.Logger) *PostgresAdapter {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &PostgresAdapter{
		config: config,
		runner: runner,
		logger: logger,
	}
}

// Config returns the adapter's connection configuration.
func (a *PostgresAdapter) Config() Config {
	return a.config
}

// CheckClientTools verifies every required client binary is installed.
func (a *PostgresAdapter) CheckClientTools() error {
	for _, tool := range requiredTools {
		if err := a.runner.LookPath(tool); err != nil {
			return &MissingToolError{Tool: tool}
		}
	}
	return nil
}

// TestConnection runs a trivial query to verify the server is reachable
// and credentials are accepted.
func (a *PostgresAdapter) TestConnection(ctx context.Context) error {
	cmd := Command{
		Name: "psql",
		Args: append(a.connectionArgs(a.config.Database), "-tAc", "SELECT 1"),
		Env:  a.passwordEnv(),
	}
	_, stderr, err := a.runner.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("connection test failed: %s", firstLine(stderr, err))
	}
	return nil
}

// Dump writes a plain-format SQL dump of the configured database to
// outputPath. Ownership and ACL statements are omitted so the dump
// restores cleanly under a different role.
func (a *PostgresAdapter) Dump(ctx context.Context, outputPath string) error {
	start := time.Now()

	args := append(a.connectionArgs(a.config.Database),
		"-f", outputPath,
		"--no-owner",
		"--no-acl",
	)
	cmd := Command{Name: "pg_dump", Args: args, Env: a.passwordEnv()}

	a.logger.Debugf("Running %s", logging.SanitizeCommand(renderCommand(cmd)))

	_, stderr, err := a.runner.Run(ctx, cmd)
	size := fileSize(outputPath)
	if err != nil {
		dumpErr := &DumpError{Database: a.config.Database, Stderr: strings.TrimSpace(stderr), Cause: err}
		a.logger.LogDumpExecution(a.config.Database, outputPath, size, time.Since(start), dumpErr)
		return dumpErr
	}

	a.logger.LogDumpExecution(a.config.Database, outputPath, size, time.Since(start), nil)
	return nil
}

// TerminateConnections kicks every other session off the configured
// database so dropdb does not fail with "database is being accessed".
func (a *PostgresAdapter) TerminateConnections(ctx context.Context) error {
	query := fmt.Sprintf(
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = '%s' AND pid <> pg_backend_pid();",
		a.config.Database)

	cmd := Command{
		Name: "psql",
		Args: append(a.connectionArgs("postgres"), "-c", query),
		Env:  a.passwordEnv(),
	}
	_, stderr, err := a.runner.Run(ctx, cmd)
	if err != nil {
		return &RestoreError{
			Database: a.config.Database,
			Step:     "terminate_connections",
			Stderr:   strings.TrimSpace(stderr),
			Cause:    err,
		}
	}
	return nil
}

// EnsureFreshDatabase drops the configured database if it exists and
// recreates it empty. Existing sessions are terminated first.
func (a *PostgresAdapter) EnsureFreshDatabase(ctx context.Context) error {
	if err := a.TerminateConnections(ctx); err != nil {
		return err
	}

	drop := Command{
		Name: "dropdb",
		Args: append(a.serverArgs(), "--if-exists", a.config.Database),
		Env:  a.passwordEnv(),
	}
	if _, stderr, err := a.runner.Run(ctx, drop); err != nil {
		return &RestoreError{
			Database: a.config.Database,
			Step:     "drop_database",
			Stderr:   strings.TrimSpace(stderr),
			Cause:    err,
		}
	}

	create := Command{
		Name: "createdb",
		Args: append(a.serverArgs(), a.config.Database),
		Env:  a.passwordEnv(),
	}
	if _, stderr, err := a.runner.Run(ctx, create); err != nil {
		return &RestoreError{
			Database: a.config.Database,
			Step:     "create_database",
			Stderr:   strings.TrimSpace(stderr),
			Cause:    err,
		}
	}

	return nil
}

// Restore replays a plain SQL dump into the configured database. The
// database must already exist; callers that need a clean slate run
// EnsureFreshDatabase first.
func (a *PostgresAdapter) Restore(ctx context.Context, dumpPath string) error {
	if _, err := os.Stat(dumpPath); err != nil {
		return &RestoreError{Database: a.config.Database, Step: "open_dump", Cause: err}
	}

	args := append(a.connectionArgs(a.config.Database),
		"-v", "ON_ERROR_STOP=1",
		"-f", dumpPath,
	)
	cmd := Command{Name: "psql", Args: args, Env: a.passwordEnv()}

	a.logger.Debugf("Running %s", logging.SanitizeCommand(renderCommand(cmd)))

	_, stderr, err := a.runner.Run(ctx, cmd)
	if err != nil {
		return &RestoreError{
			Database: a.config.Database,
			Step:     "replay_dump",
			Stderr:   strings.TrimSpace(stderr),
			Cause:    err,
		}
	}
	return nil
}

// connectionArgs builds the shared -h/-p/-U/-d flag set.
func (a *PostgresAdapter) connectionArgs(database string) []string {
	return append(a.serverArgs(), "-d", database)
}

// serverArgs builds the server-level flag set without a database.
func (a *PostgresAdapter) serverArgs() []string {
	return []string{
		"-h", a.config.Host,
		"-p", strconv.Itoa(a.config.Port),
		"-U", a.config.User,
	}
}

// passwordEnv passes the password out-of-band so it never appears in
// process listings.
func (a *PostgresAdapter) passwordEnv() []string {
	if a.config.Password == "" {
		return nil
	}
	return []string{"PGPASSWORD=" + a.config.Password}
}

func renderCommand(cmd Command) string {
	parts := append([]string{}, cmd.Env...)
	parts = append(parts, cmd.Name)
	parts = append(parts, cmd.Args...)
	return strings.Join(parts, " ")
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func firstLine(stderr string, fallback error) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return fallback.Error()
	}
	if idx := strings.IndexByte(stderr, '\n'); idx != -1 {
		return stderr[:idx]
	}
	return stderr
}
