package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"odoo-backup-tool/internal/archive"
	"odoo-backup-tool/internal/database"
	"odoo-backup-tool/internal/neutralize"
)

// fakeAdapter stands in for the PostgreSQL client tools.
type fakeAdapter struct {
	config database.Config

	dumpSQL    string
	dumpErr    error
	connectErr error
	freshErr   error
	restoreErr error

	freshCalled  bool
	restoredDump string
}

func (f *fakeAdapter) CheckClientTools() error { return nil }

func (f *fakeAdapter) TestConnection(ctx context.Context) error { return f.connectErr }

func (f *fakeAdapter) Dump(ctx context.Context, outputPath string) error {
	if f.dumpErr != nil {
		return f.dumpErr
	}
	return os.WriteFile(outputPath, []byte(f.dumpSQL), 0644)
}

func (f *fakeAdapter) EnsureFreshDatabase(ctx context.Context) error {
	f.freshCalled = true
	return f.freshErr
}

func (f *fakeAdapter) Restore(ctx context.Context, dumpPath string) error {
	if f.restoreErr != nil {
		return f.restoreErr
	}
	data, err := os.ReadFile(dumpPath)
	if err != nil {
		return err
	}
	f.restoredDump = string(data)
	return nil
}

// makeFilestoreFixture builds a shard tree under root.
func makeFilestoreFixture(t *testing.T, root string, shards map[string][]string) {
	t.Helper()
	for shard, files := range shards {
		dir := filepath.Join(root, shard)
		require.NoError(t, os.MkdirAll(dir, 0755))
		for _, name := range files {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("blob "+name), 0644))
		}
	}
}

// makeArchiveFixture packs a dump and a two-shard filestore for the
// named database and returns the archive path.
func makeArchiveFixture(t *testing.T, databaseName, dumpSQL string) string {
	t.Helper()
	work := t.TempDir()

	dumpPath := filepath.Join(work, "dump.sql")
	require.NoError(t, os.WriteFile(dumpPath, []byte(dumpSQL), 0644))

	fsRoot := filepath.Join(work, databaseName)
	makeFilestoreFixture(t, fsRoot, map[string][]string{
		"aa": {"aa11", "aa22"},
		"ab": {"ab33"},
	})

	archivePath := filepath.Join(work, "fixture.tar.gz")
	codec := archive.NewCodec(nil)
	require.NoError(t, codec.Pack(context.Background(), archive.PackOptions{
		OutputPath: archivePath,
		Metadata: archive.Metadata{
			BackupID:   "backup-test-fixture",
			Database:   databaseName,
			ShardCount: 2,
			FileCount:  3,
		},
		DumpPath:      dumpPath,
		FilestoreRoot: fsRoot,
		Format:        archive.FormatGzip,
	}))
	return archivePath
}

// noopNeutralize returns an empty report without touching anything.
func noopNeutralize(ctx context.Context, config database.Config, policy neutralize.Policy) (*neutralize.Report, error) {
	return &neutralize.Report{}, nil
}
