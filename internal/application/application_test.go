package application

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odoo-backup-tool/internal/archive"
	"odoo-backup-tool/internal/backup"
	"odoo-backup-tool/internal/config"
	"odoo-backup-tool/internal/confirmation"
	"odoo-backup-tool/internal/display"
	"odoo-backup-tool/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Source.Database.Database = "production"
	cfg.Source.FilestorePath = filepath.Join(t.TempDir(), "filestore")
	cfg.Storage.Local.BasePath = t.TempDir()
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) (*Application, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	app, err := New(cfg, "test", Options{Quiet: true})
	require.NoError(t, err)

	var out, errOut bytes.Buffer
	app.out = &out
	app.errOut = &errOut
	app.renderer = display.NewRendererTo(&errOut, true)
	return app, &out, &errOut
}

func storeArtifact(t *testing.T, cfg *config.Config, id, database string, payload []byte) *backup.ArtifactMetadata {
	t.Helper()
	store, err := backup.NewLocalStorageProvider(cfg.Storage.Local)
	require.NoError(t, err)

	archivePath := filepath.Join(t.TempDir(), "payload.tar.gz")
	require.NoError(t, os.WriteFile(archivePath, payload, 0644))

	sum := sha256.Sum256(payload)
	meta := &backup.ArtifactMetadata{
		ID:          id,
		Database:    database,
		Mode:        backup.ModeFull,
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   "tester",
		Size:        int64(len(payload)),
		Compression: "gzip",
		Checksum:    hex.EncodeToString(sum[:]),
		Status:      backup.ArtifactStatusCompleted,
	}
	require.NoError(t, store.Store(context.Background(), archivePath, meta))
	return meta
}

func TestNewDerivesLogLevel(t *testing.T) {
	cfg := testConfig(t)

	tests := []struct {
		name string
		opts Options
		want logging.LogLevel
	}{
		{"from config", Options{}, logging.LogLevelNormal},
		{"quiet wins", Options{Quiet: true}, logging.LogLevelQuiet},
		{"verbose wins", Options{Verbose: true}, logging.LogLevelVerbose},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, err := New(cfg, "test", tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, app.Logger().GetLevel())
		})
	}
}

func TestRunListEmptyStore(t *testing.T) {
	app, out, _ := newTestApp(t, testConfig(t))

	require.NoError(t, app.RunList(context.Background(), backup.StorageFilter{}))
	assert.Contains(t, out.String(), "No artifacts found.")
}

func TestRunListShowsStoredArtifacts(t *testing.T) {
	cfg := testConfig(t)
	storeArtifact(t, cfg, "backup-20260101-000000-aaaaaaaa", "production", []byte("one"))
	storeArtifact(t, cfg, "backup-20260102-000000-bbbbbbbb", "staging", []byte("two"))

	app, out, _ := newTestApp(t, cfg)

	require.NoError(t, app.RunList(context.Background(), backup.StorageFilter{Database: "staging"}))
	assert.Contains(t, out.String(), "backup-20260102-000000-bbbbbbbb")
	assert.NotContains(t, out.String(), "backup-20260101-000000-aaaaaaaa")
}

func TestResolveArchiveLocalPath(t *testing.T) {
	cfg := testConfig(t)
	app, _, _ := newTestApp(t, cfg)

	archivePath := filepath.Join(t.TempDir(), "backup.tar.gz")
	require.NoError(t, os.WriteFile(archivePath, []byte("archive"), 0644))

	store, err := backup.NewLocalStorageProvider(cfg.Storage.Local)
	require.NoError(t, err)

	got, meta, err := app.resolveArchive(context.Background(), store, archivePath, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, archivePath, got)
	assert.Nil(t, meta)
}

func TestResolveArchiveFetchesFromStore(t *testing.T) {
	cfg := testConfig(t)
	stored := storeArtifact(t, cfg, "backup-20260103-000000-cccccccc", "production", []byte("payload bytes"))

	app, _, _ := newTestApp(t, cfg)
	store, err := backup.NewLocalStorageProvider(cfg.Storage.Local)
	require.NoError(t, err)

	workDir := t.TempDir()
	got, meta, err := app.resolveArchive(context.Background(), store, stored.ID, workDir)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, stored.ID, meta.ID)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload bytes"), data)
}

func TestResolveArchiveUnknownID(t *testing.T) {
	cfg := testConfig(t)
	app, _, _ := newTestApp(t, cfg)
	store, err := backup.NewLocalStorageProvider(cfg.Storage.Local)
	require.NoError(t, err)

	_, _, err = app.resolveArchive(context.Background(), store, "backup-nope", t.TempDir())
	assert.Error(t, err)
}

func TestRunRestoreAbortedByOperator(t *testing.T) {
	cfg := testConfig(t)
	app, out, _ := newTestApp(t, cfg)
	app.confirmer = confirmation.NewServiceWith(strings.NewReader("wrong-name\n"), out)
	app.promptPassphrase = func(string) (string, error) {
		t.Fatal("plain archive must not prompt for a passphrase")
		return "", nil
	}

	archivePath := filepath.Join(t.TempDir(), "backup.tar.gz")
	require.NoError(t, os.WriteFile(archivePath, []byte("plain archive"), 0644))

	err := app.RunRestore(context.Background(), archivePath, backup.RestoreOptions{
		TargetDatabase: "production",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Restore aborted.")
}

func TestRunRestoreEncryptedArchivePromptsForPassphrase(t *testing.T) {
	cfg := testConfig(t)
	app, out, _ := newTestApp(t, cfg)
	app.confirmer = confirmation.NewServiceWith(strings.NewReader("wrong-name\n"), out)

	prompted := false
	app.promptPassphrase = func(prompt string) (string, error) {
		prompted = true
		assert.Contains(t, prompt, "Passphrase")
		return "hunter2", nil
	}

	workDir := t.TempDir()
	plainPath := filepath.Join(workDir, "backup.tar.gz")
	require.NoError(t, os.WriteFile(plainPath, []byte("archive payload"), 0644))
	sealedPath := plainPath + ".enc"
	require.NoError(t, archive.EncryptFile(plainPath, sealedPath, "hunter2"))

	err := app.RunRestore(context.Background(), sealedPath, backup.RestoreOptions{
		TargetDatabase: "production",
	})
	require.NoError(t, err)
	assert.True(t, prompted, "encrypted archive must trigger the passphrase prompt")
	assert.Contains(t, out.String(), "Restore aborted.")
}

func TestRunRestoreEncryptedArchiveKeepsGivenPassphrase(t *testing.T) {
	cfg := testConfig(t)
	app, out, _ := newTestApp(t, cfg)
	app.confirmer = confirmation.NewServiceWith(strings.NewReader("wrong-name\n"), out)
	app.promptPassphrase = func(string) (string, error) {
		t.Fatal("a passphrase from the flags must not be prompted for again")
		return "", nil
	}

	workDir := t.TempDir()
	plainPath := filepath.Join(workDir, "backup.tar.gz")
	require.NoError(t, os.WriteFile(plainPath, []byte("archive payload"), 0644))
	sealedPath := plainPath + ".enc"
	require.NoError(t, archive.EncryptFile(plainPath, sealedPath, "hunter2"))

	err := app.RunRestore(context.Background(), sealedPath, backup.RestoreOptions{
		TargetDatabase:       "production",
		EncryptionPassphrase: "hunter2",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Restore aborted.")
}

func TestRunRestoreUnknownArtifact(t *testing.T) {
	app, _, _ := newTestApp(t, testConfig(t))
	app.promptPassphrase = func(string) (string, error) {
		t.Fatal("must fail before any prompt")
		return "", nil
	}

	err := app.RunRestore(context.Background(), "backup-nope", backup.RestoreOptions{
		TargetDatabase: "production",
	})
	assert.Error(t, err)
}

func TestRunCloneRequiresTarget(t *testing.T) {
	app, _, _ := newTestApp(t, testConfig(t))

	err := app.RunClone(context.Background(), backup.CloneOptions{TargetDatabase: "copy"})
	require.Error(t, err)

	var backupErr *backup.BackupError
	require.ErrorAs(t, err, &backupErr)
	assert.Equal(t, backup.BackupErrorTypeValidation, backupErr.Type)
}

func TestRunPruneEmptyStore(t *testing.T) {
	cfg := testConfig(t)
	app, out, _ := newTestApp(t, cfg)

	require.NoError(t, app.RunPrune(context.Background(), "production"))
	assert.Contains(t, out.String(), "Nothing to prune")
}

func TestRunDelete(t *testing.T) {
	cfg := testConfig(t)
	stored := storeArtifact(t, cfg, "backup-20260104-000000-dddddddd", "production", []byte("x"))

	app, out, _ := newTestApp(t, cfg)
	require.NoError(t, app.RunDelete(context.Background(), stored.ID))
	assert.Contains(t, out.String(), "Deleted "+stored.ID)

	// Gone from the store now.
	assert.Error(t, app.RunDelete(context.Background(), stored.ID))
}

func TestPromptPassphrase(t *testing.T) {
	app, _, _ := newTestApp(t, testConfig(t))

	answers := []string{"hunter2", "hunter2"}
	app.promptPassphrase = func(string) (string, error) {
		next := answers[0]
		answers = answers[1:]
		return next, nil
	}

	got, err := app.PromptPassphrase(true)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}

func TestPromptPassphraseMismatch(t *testing.T) {
	app, _, _ := newTestApp(t, testConfig(t))

	answers := []string{"hunter2", "hunter3"}
	app.promptPassphrase = func(string) (string, error) {
		next := answers[0]
		answers = answers[1:]
		return next, nil
	}

	_, err := app.PromptPassphrase(true)
	assert.ErrorContains(t, err, "do not match")
}

func TestPromptPassphraseEmpty(t *testing.T) {
	app, _, _ := newTestApp(t, testConfig(t))
	app.promptPassphrase = func(string) (string, error) { return "", nil }

	_, err := app.PromptPassphrase(false)
	assert.ErrorContains(t, err, "must not be empty")
}

func TestHandleErrorDatabaseHints(t *testing.T) {
	app, _, errOut := newTestApp(t, testConfig(t))

	app.HandleError(backup.NewDatabaseError("connection refused", nil))
	assert.Contains(t, errOut.String(), "PostgreSQL is running")
	assert.Contains(t, errOut.String(), "pg_dump")
}

func TestHandleErrorPartialPromotion(t *testing.T) {
	app, _, errOut := newTestApp(t, testConfig(t))

	app.HandleError(&backup.StageError{
		Stage:            backup.StagePromoting,
		Database:         "production",
		PartialPromotion: true,
		Cause:            assert.AnError,
	})
	assert.Contains(t, errOut.String(), "PARTIALLY promoted")
	assert.Contains(t, errOut.String(), "Manual intervention")
}

func TestHandleErrorIntactDestination(t *testing.T) {
	app, _, errOut := newTestApp(t, testConfig(t))

	app.HandleError(&backup.StageError{
		Stage:             backup.StageExtracting,
		Database:          "production",
		DestinationIntact: true,
		Cause:             assert.AnError,
	})
	assert.Contains(t, errOut.String(), "was not modified")
}

func TestHandleErrorNil(t *testing.T) {
	app, _, errOut := newTestApp(t, testConfig(t))
	app.HandleError(nil)
	assert.Empty(t, errOut.String())
}
