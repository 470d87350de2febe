package backup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odoo-backup-tool/internal/archive"
	"odoo-backup-tool/internal/database"
	"odoo-backup-tool/internal/filestore"
	"odoo-backup-tool/internal/neutralize"
)

func TestCloneDemoToDemoCopy(t *testing.T) {
	sourceBase := t.TempDir()
	makeFilestoreFixture(t, filestore.ResolveRoot(sourceBase, "demo"), map[string][]string{
		"aa": {"aa11"},
		"ab": {"ab22"},
	})

	store := newTestLocalStore(t)
	sourceAdapter := &fakeAdapter{dumpSQL: "CREATE TABLE ir_mail_server (id int);"}
	bo := newTestBackupOrchestrator(t, sourceBase, sourceAdapter, store)

	targetBase := t.TempDir()
	targetAdapter := &fakeAdapter{}
	ro := newTestRestoreOrchestrator(t, targetBase, targetAdapter)

	var neutralized bool
	ro.neutralize = func(ctx context.Context, cfg database.Config, policy neutralize.Policy) (*neutralize.Report, error) {
		neutralized = true
		assert.Equal(t, "demo_copy", cfg.Database)
		return &neutralize.Report{}, nil
	}

	report, err := Clone(context.Background(), bo, ro, CloneOptions{
		TargetDatabase: "demo_copy",
		Compression:    archive.FormatGzip,
		Neutralize:     true,
	})
	require.NoError(t, err)

	// The intermediate artifact stayed in the store.
	_, err = store.GetMetadata(context.Background(), report.Artifact.ID)
	require.NoError(t, err)

	assert.True(t, report.Restore.DatabaseRestored)
	assert.True(t, report.Restore.FilestoreRestored)
	assert.True(t, neutralized)
	assert.Equal(t, "demo_copy", targetAdapter.config.Database)
	assert.Equal(t, "CREATE TABLE ir_mail_server (id int);", targetAdapter.restoredDump)
	assert.True(t, filestore.Exists(filestore.ResolveRoot(targetBase, "demo_copy")))
}

func TestCloneRefusesSameDatabaseOnSameServer(t *testing.T) {
	store := newTestLocalStore(t)
	bo := newTestBackupOrchestrator(t, t.TempDir(), &fakeAdapter{}, store)
	ro := newTestRestoreOrchestrator(t, t.TempDir(), &fakeAdapter{})

	_, err := Clone(context.Background(), bo, ro, CloneOptions{TargetDatabase: "demo"})
	require.Error(t, err)
	assert.Equal(t, BackupErrorTypeValidation, err.(*BackupError).Type)
}

func TestCloneArtifactSurvivesFailedRestore(t *testing.T) {
	sourceBase := t.TempDir()
	makeFilestoreFixture(t, filestore.ResolveRoot(sourceBase, "demo"), map[string][]string{
		"aa": {"aa11"},
	})

	store := newTestLocalStore(t)
	bo := newTestBackupOrchestrator(t, sourceBase, &fakeAdapter{dumpSQL: "SELECT 1;"}, store)

	targetAdapter := &fakeAdapter{restoreErr: assert.AnError}
	ro := newTestRestoreOrchestrator(t, t.TempDir(), targetAdapter)

	report, err := Clone(context.Background(), bo, ro, CloneOptions{
		TargetDatabase: "demo_copy",
		Compression:    archive.FormatGzip,
	})
	require.Error(t, err)

	// The backup half completed and remains retrievable.
	require.NotNil(t, report.Artifact)
	_, getErr := store.GetMetadata(context.Background(), report.Artifact.ID)
	assert.NoError(t, getErr)
}
