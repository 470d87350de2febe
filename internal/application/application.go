// Package application wires the loaded configuration into orchestrators
// and runs whole commands end to end: backup, restore, clone, list,
// prune. The cmd layer only parses flags and delegates here.
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"odoo-backup-tool/internal/archive"
	"odoo-backup-tool/internal/backup"
	"odoo-backup-tool/internal/config"
	"odoo-backup-tool/internal/confirmation"
	"odoo-backup-tool/internal/display"
	appErrors "odoo-backup-tool/internal/errors"
	"odoo-backup-tool/internal/logging"
)

// Options adjusts a run beyond what the config file says.
type Options struct {
	Quiet   bool
	Verbose bool
	LogFile string
}

// Application holds everything a command run needs.
type Application struct {
	cfg       *config.Config
	logger    *logging.Logger
	renderer  *display.Renderer
	confirmer *confirmation.Service
	version   string

	out    io.Writer
	errOut io.Writer

	// promptPassphrase is swapped out in tests; the default reads from
	// the terminal without echo.
	promptPassphrase func(prompt string) (string, error)
}

// New builds an application from a validated configuration.
func New(cfg *config.Config, version string, opts Options) (*Application, error) {
	level := logging.LogLevel(cfg.Logging.Level)
	switch {
	case opts.Quiet:
		level = logging.LogLevelQuiet
	case opts.Verbose:
		level = logging.LogLevelVerbose
	}

	logFile := cfg.Logging.File
	if opts.LogFile != "" {
		logFile = opts.LogFile
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:   level,
		Format:  cfg.Logging.Format,
		LogFile: logFile,
	})
	if err != nil {
		return nil, err
	}

	return &Application{
		cfg:              cfg,
		logger:           logger,
		renderer:         display.NewRenderer(opts.Quiet),
		confirmer:        confirmation.NewService(),
		version:          version,
		out:              os.Stdout,
		errOut:           os.Stderr,
		promptPassphrase: readPassphraseFromTerminal,
	}, nil
}

// Logger exposes the run logger to the cmd layer.
func (a *Application) Logger() *logging.Logger {
	return a.logger
}

// SourceDatabase returns the configured source database name.
func (a *Application) SourceDatabase() string {
	return a.cfg.Source.Database.Database
}

func (a *Application) newStorage(ctx context.Context) (backup.StorageProvider, error) {
	return backup.NewStorageProvider(ctx, a.cfg.Storage)
}

// RunBackup captures the source instance into a new artifact.
func (a *Application) RunBackup(ctx context.Context, opts backup.BackupOptions) error {
	if err := a.fillBackupDefaults(&opts); err != nil {
		return err
	}

	storage, err := a.newStorage(ctx)
	if err != nil {
		return err
	}

	orch, err := backup.NewBackupOrchestrator(a.cfg.Source, storage, a.logger)
	if err != nil {
		return err
	}
	defer orch.Close()
	orch.SetEventSink(a.renderer)
	orch.SetRetention(a.cfg.Retention)
	orch.SetToolVersion(a.version)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	shutdown := appErrors.NewGracefulShutdownHandler()
	shutdown.RegisterShutdownFunc(func() error {
		cancel()
		return nil
	})
	shutdown.Start()
	defer shutdown.Stop()

	meta, err := orch.Backup(ctx, opts)
	if err != nil {
		return err
	}
	a.renderer.BackupSummary(meta)
	return nil
}

func (a *Application) fillBackupDefaults(opts *backup.BackupOptions) error {
	if opts.Compression == "" {
		format, err := archive.ParseFormat(a.cfg.Compression)
		if err != nil {
			return err
		}
		opts.Compression = format
	}
	return nil
}

// RunRestore replaces the source instance with the contents of an
// artifact. The reference is either a stored artifact ID or a path to
// an archive file on disk.
func (a *Application) RunRestore(ctx context.Context, artifactRef string, opts backup.RestoreOptions) error {
	storage, err := a.newStorage(ctx)
	if err != nil {
		return err
	}

	workDir, err := os.MkdirTemp("", "restore-fetch-")
	if err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	archivePath, meta, err := a.resolveArchive(ctx, storage, artifactRef, workDir)
	if err != nil {
		return err
	}

	if opts.TargetDatabase == "" && meta != nil {
		opts.TargetDatabase = meta.Database
	}
	if opts.NeutralizePolicyPath == "" {
		opts.NeutralizePolicyPath = a.cfg.NeutralizePolicy
	}

	encrypted, err := archive.IsEncrypted(archivePath)
	if err != nil {
		return fmt.Errorf("inspecting archive: %w", err)
	}
	if encrypted && opts.EncryptionPassphrase == "" {
		passphrase, err := a.promptPassphrase("Archive is encrypted. Passphrase: ")
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		opts.EncryptionPassphrase = passphrase
	}

	approved, err := a.confirmer.ConfirmRestore(meta, opts)
	if err != nil {
		return err
	}
	if !approved {
		fmt.Fprintln(a.out, "Restore aborted.")
		return nil
	}

	orch, err := backup.NewRestoreOrchestrator(a.cfg.Source, a.logger)
	if err != nil {
		return err
	}
	defer orch.Close()
	orch.SetEventSink(a.renderer)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	shutdown := appErrors.NewGracefulShutdownHandler()
	// Funcs run in reverse registration order: the orchestrator decides
	// first whether cancellation is still allowed, then the context is
	// torn down so between-stage checks observe it.
	shutdown.RegisterShutdownFunc(func() error {
		cancel()
		return nil
	})
	shutdown.RegisterShutdownFunc(func() error {
		return orch.RequestCancel()
	})
	shutdown.Start()
	defer shutdown.Stop()

	report, err := orch.Restore(ctx, archivePath, opts)
	if err != nil {
		return err
	}
	a.renderer.RestoreSummary(report)
	return nil
}

// resolveArchive turns an artifact reference into a local archive path.
// A path to an existing file is used as-is; anything else is treated as
// a stored artifact ID and fetched.
func (a *Application) resolveArchive(ctx context.Context, storage backup.StorageProvider, ref, workDir string) (string, *backup.ArtifactMetadata, error) {
	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		return ref, nil, nil
	}

	meta, err := storage.GetMetadata(ctx, ref)
	if err != nil {
		return "", nil, err
	}

	name := "archive" + archive.Format(meta.Compression).Extension()
	if meta.Encrypted {
		name += ".enc"
	}
	dest := filepath.Join(workDir, name)
	if _, err := storage.Retrieve(ctx, ref, dest); err != nil {
		return "", nil, err
	}
	return dest, meta, nil
}

// RunClone snapshots the source instance and restores it onto the
// target under a new database name.
func (a *Application) RunClone(ctx context.Context, opts backup.CloneOptions) error {
	if a.cfg.Target == nil {
		return backup.NewValidationError("clone requires a target instance in the configuration", nil)
	}
	if err := a.fillCloneDefaults(&opts); err != nil {
		return err
	}

	storage, err := a.newStorage(ctx)
	if err != nil {
		return err
	}

	backupOrch, err := backup.NewBackupOrchestrator(a.cfg.Source, storage, a.logger)
	if err != nil {
		return err
	}
	defer backupOrch.Close()
	backupOrch.SetEventSink(a.renderer)
	backupOrch.SetRetention(a.cfg.Retention)
	backupOrch.SetToolVersion(a.version)

	restoreOrch, err := backup.NewRestoreOrchestrator(*a.cfg.Target, a.logger)
	if err != nil {
		return err
	}
	defer restoreOrch.Close()
	restoreOrch.SetEventSink(a.renderer)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	shutdown := appErrors.NewGracefulShutdownHandler()
	shutdown.RegisterShutdownFunc(func() error {
		cancel()
		return nil
	})
	shutdown.RegisterShutdownFunc(func() error {
		return restoreOrch.RequestCancel()
	})
	shutdown.Start()
	defer shutdown.Stop()

	report, err := backup.Clone(ctx, backupOrch, restoreOrch, opts)
	if err != nil {
		if report != nil && report.Artifact != nil {
			fmt.Fprintf(a.out, "The snapshot artifact %s was stored before the failure and remains available.\n", report.Artifact.ID)
		}
		return err
	}
	a.renderer.BackupSummary(report.Artifact)
	a.renderer.RestoreSummary(report.Restore)
	return nil
}

func (a *Application) fillCloneDefaults(opts *backup.CloneOptions) error {
	if opts.Compression == "" {
		format, err := archive.ParseFormat(a.cfg.Compression)
		if err != nil {
			return err
		}
		opts.Compression = format
	}
	if opts.NeutralizePolicyPath == "" {
		opts.NeutralizePolicyPath = a.cfg.NeutralizePolicy
	}
	return nil
}

// RunList prints the stored artifacts matching the filter.
func (a *Application) RunList(ctx context.Context, filter backup.StorageFilter) error {
	storage, err := a.newStorage(ctx)
	if err != nil {
		return err
	}
	artifacts, err := storage.List(ctx, filter)
	if err != nil {
		return err
	}
	display.ArtifactTable(a.out, artifacts)
	return nil
}

// RunPrune applies the configured retention policy to one database's
// artifacts.
func (a *Application) RunPrune(ctx context.Context, database string) error {
	storage, err := a.newStorage(ctx)
	if err != nil {
		return err
	}
	manager := backup.NewRetentionManager(storage, a.cfg.Retention, a.logger)
	report, err := manager.Apply(ctx, database)
	if err != nil {
		return err
	}
	if len(report.PrunedIDs) == 0 {
		fmt.Fprintf(a.out, "Nothing to prune for %q (%d artifacts examined).\n", database, report.Examined)
		return nil
	}
	for _, id := range report.PrunedIDs {
		fmt.Fprintf(a.out, "Pruned %s\n", id)
	}
	return nil
}

// RunDelete removes one artifact from the store.
func (a *Application) RunDelete(ctx context.Context, artifactID string) error {
	storage, err := a.newStorage(ctx)
	if err != nil {
		return err
	}
	if err := storage.Delete(ctx, artifactID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s\n", artifactID)
	return nil
}

// PromptPassphrase asks for a passphrase, optionally twice to catch
// typos when a new one is being chosen.
func (a *Application) PromptPassphrase(confirm bool) (string, error) {
	passphrase, err := a.promptPassphrase("Passphrase: ")
	if err != nil {
		return "", err
	}
	if passphrase == "" {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	if confirm {
		again, err := a.promptPassphrase("Confirm passphrase: ")
		if err != nil {
			return "", err
		}
		if passphrase != again {
			return "", fmt.Errorf("passphrases do not match")
		}
	}
	return passphrase, nil
}

func readPassphraseFromTerminal(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// HandleError reports a failed run to the operator with actionable
// hints, then returns. The caller decides the exit code.
func (a *Application) HandleError(err error) {
	if err == nil {
		return
	}

	a.renderer.Failure(err)

	var stageErr *backup.StageError
	if errors.As(err, &stageErr) {
		a.explainDestinationState(stageErr)
	}

	for _, hint := range troubleshootingHints(err) {
		fmt.Fprintf(a.errOut, "  - %s\n", hint)
	}
}

// explainDestinationState spells out what the failed restore left
// behind. Partial promotions are reported, never silently rolled back.
func (a *Application) explainDestinationState(stageErr *backup.StageError) {
	switch {
	case stageErr.PartialPromotion:
		fmt.Fprintf(a.errOut, "The destination %q was PARTIALLY promoted: the database was replaced but the filestore was not.\n", stageErr.Database)
		fmt.Fprintln(a.errOut, "Manual intervention is required. The previous filestore tree, if any, was kept aside with a .bak suffix.")
	case stageErr.DestinationIntact:
		fmt.Fprintf(a.errOut, "The destination %q was not modified. Fix the cause below and rerun.\n", stageErr.Database)
	default:
		fmt.Fprintf(a.errOut, "The destination %q was modified before the failure and is in an undefined state.\n", stageErr.Database)
	}
}

func troubleshootingHints(err error) []string {
	var backupErr *backup.BackupError
	if errors.As(err, &backupErr) {
		switch backupErr.Type {
		case backup.BackupErrorTypeDatabase:
			return []string{
				"Check that PostgreSQL is running and reachable on the configured host and port",
				"Check that pg_dump, pg_restore, psql and createdb are on PATH",
				"Verify the database user and password in the configuration",
			}
		case backup.BackupErrorTypeFilestore:
			return []string{
				"Check that the configured filestore_path exists and is readable",
				"For remote filestores, verify the SSH host, user and key file",
			}
		case backup.BackupErrorTypeStorage, backup.BackupErrorTypeNetwork:
			return []string{
				"Check that the storage backend is reachable and the bucket or container exists",
				"Verify the storage credentials in the configuration",
			}
		case backup.BackupErrorTypeCorruption:
			return []string{
				"The stored artifact failed its checksum and cannot be trusted",
				"List the available artifacts and restore from another one",
			}
		case backup.BackupErrorTypeEncryption:
			return []string{
				"Verify the passphrase; a wrong one is indistinguishable from a damaged archive",
			}
		case backup.BackupErrorTypeValidation, backup.BackupErrorTypeConfiguration:
			return []string{
				"Review the configuration file and the command flags for contradictions",
			}
		case backup.BackupErrorTypeNotFound:
			return []string{
				"Run the list command to see the available artifact IDs",
			}
		}
		return nil
	}

	classified := appErrors.NewErrorClassifier().ClassifyError(err)
	switch classified.Type {
	case appErrors.ErrorTypeConnection:
		return []string{
			"Check network connectivity to the configured hosts",
			"Verify host names and ports in the configuration",
		}
	case appErrors.ErrorTypeTransport:
		return []string{
			"Verify the SSH configuration: host, user and key file permissions",
			"Check that rsync or tar is available on the remote host",
		}
	case appErrors.ErrorTypePermission:
		return []string{
			"Check filesystem permissions on the paths involved",
		}
	case appErrors.ErrorTypeTimeout:
		return []string{
			"The operation timed out; large instances may need a longer run window",
		}
	}
	return nil
}
