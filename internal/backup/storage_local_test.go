package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedFixture(t *testing.T, store *LocalStorageProvider, id, databaseName string, createdAt time.Time) *ArtifactMetadata {
	t.Helper()

	archivePath := filepath.Join(t.TempDir(), "fixture.tar.gz")
	require.NoError(t, os.WriteFile(archivePath, []byte("archive-bytes-"+id), 0644))

	checksum, err := ChecksumFile(archivePath)
	require.NoError(t, err)

	meta := &ArtifactMetadata{
		ID:          id,
		Database:    databaseName,
		Mode:        ModeFull,
		CreatedAt:   createdAt,
		CreatedBy:   "tester",
		Compression: "gzip",
		Checksum:    checksum,
		Status:      ArtifactStatusCompleted,
	}
	require.NoError(t, store.Store(context.Background(), archivePath, meta))
	return meta
}

func TestLocalStoreRoundTrip(t *testing.T) {
	store := newTestLocalStore(t)
	meta := storedFixture(t, store, "backup-20260801-120000-abcd1234", "demo", time.Now())

	assert.NotEmpty(t, meta.StorageLocation)

	got, err := store.GetMetadata(context.Background(), meta.ID)
	require.NoError(t, err)
	assert.Equal(t, meta.ID, got.ID)
	assert.Equal(t, "demo", got.Database)

	dest := filepath.Join(t.TempDir(), "restored.tar.gz")
	_, err = store.Retrieve(context.Background(), meta.ID, dest)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "archive-bytes-"+meta.ID, string(data))
}

func TestLocalStoreDetectsCorruption(t *testing.T) {
	store := newTestLocalStore(t)
	meta := storedFixture(t, store, "backup-20260801-120000-corrupt1", "demo", time.Now())

	// Flip bytes in the stored archive behind the store's back.
	stored := filepath.Join(meta.StorageLocation, archiveObjectName(meta))
	require.NoError(t, os.WriteFile(stored, []byte("tampered"), 0644))

	_, err := store.Retrieve(context.Background(), meta.ID, filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	assert.Equal(t, BackupErrorTypeCorruption, err.(*BackupError).Type)
}

func TestLocalStoreListFiltersByDatabase(t *testing.T) {
	store := newTestLocalStore(t)
	now := time.Now()
	storedFixture(t, store, "backup-20260801-110000-aaaa0001", "demo", now.Add(-2*time.Hour))
	storedFixture(t, store, "backup-20260801-120000-aaaa0002", "demo", now.Add(-1*time.Hour))
	storedFixture(t, store, "backup-20260801-130000-bbbb0001", "other", now)

	all, err := store.List(context.Background(), StorageFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "other", all[0].Database)

	demos, err := store.List(context.Background(), StorageFilter{Database: "demo"})
	require.NoError(t, err)
	assert.Len(t, demos, 2)

	limited, err := store.List(context.Background(), StorageFilter{MaxItems: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLocalStoreListFiltersByAge(t *testing.T) {
	store := newTestLocalStore(t)
	now := time.Now()
	old := storedFixture(t, store, "backup-20260701-120000-old00001", "demo", now.Add(-30*24*time.Hour))
	fresh := storedFixture(t, store, "backup-20260820-120000-new00001", "demo", now.Add(-time.Hour))

	cutoff := now.Add(-24 * time.Hour)
	recent, err := store.List(context.Background(), StorageFilter{CreatedAfter: &cutoff})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, fresh.ID, recent[0].ID)

	stale, err := store.List(context.Background(), StorageFilter{CreatedBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestLocalStoreDelete(t *testing.T) {
	store := newTestLocalStore(t)
	meta := storedFixture(t, store, "backup-20260801-120000-dead0001", "demo", time.Now())

	require.NoError(t, store.Delete(context.Background(), meta.ID))

	_, err := store.GetMetadata(context.Background(), meta.ID)
	require.Error(t, err)
	assert.Equal(t, BackupErrorTypeNotFound, err.(*BackupError).Type)

	err = store.Delete(context.Background(), meta.ID)
	assert.Equal(t, BackupErrorTypeNotFound, err.(*BackupError).Type)
}

func TestLocalStoreSanitizesArtifactIDs(t *testing.T) {
	store := newTestLocalStore(t)
	meta := storedFixture(t, store, "../escape attempt", "demo", time.Now())

	// The artifact lands inside the base directory, not above it.
	rel, err := filepath.Rel(store.BasePath(), meta.StorageLocation)
	require.NoError(t, err)
	assert.NotContains(t, rel, "..")
}

func TestLocalStoreHealthCheck(t *testing.T) {
	store := newTestLocalStore(t)
	assert.NoError(t, store.HealthCheck(context.Background()))
}
