package display

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"odoo-backup-tool/internal/backup"
)

func TestRendererPublishesSteps(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererTo(&buf, false)

	r.Publish(backup.Event{Step: "dump", Status: backup.EventStarted})
	r.Publish(backup.Event{Step: "dump", Status: backup.EventDone})
	r.Publish(backup.Event{Step: "store", Status: backup.EventFailed, Detail: "bucket unavailable"})

	out := buf.String()
	assert.Contains(t, out, "Dumping database...")
	assert.Contains(t, out, "Persisting artifact: bucket unavailable")
}

func TestRendererQuietSuppressesEvents(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererTo(&buf, true)

	r.Publish(backup.Event{Step: "dump", Status: backup.EventStarted})
	assert.Empty(t, buf.String())
}

func TestRendererConcurrentPublishKeepsLinesWhole(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererTo(&buf, false)

	// Dump and snapshot publish from separate goroutines during a
	// backup; lines must never interleave mid-line.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		step := []string{"dump", "snapshot"}[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Publish(backup.Event{Step: step, Status: backup.EventStarted})
				r.Publish(backup.Event{Step: step, Status: backup.EventDone})
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 200)
	for _, line := range lines {
		ok := strings.HasSuffix(line, "Dumping database...") ||
			strings.HasSuffix(line, "Dumping database") ||
			strings.HasSuffix(line, "Snapshotting filestore...") ||
			strings.HasSuffix(line, "Snapshotting filestore")
		assert.True(t, ok, "interleaved line: %q", line)
	}
}

func TestRendererUnknownStepFallsBackToName(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererTo(&buf, false)

	r.Publish(backup.Event{Step: "prune", Status: backup.EventDone})
	assert.Contains(t, buf.String(), "prune")
}

func TestBackupSummary(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererTo(&buf, false)

	r.BackupSummary(&backup.ArtifactMetadata{
		ID:              "backup-20260801-120000-abcd1234",
		Database:        "demo",
		Mode:            backup.ModeFull,
		Size:            5 * 1024 * 1024,
		Compression:     "zstd",
		Encrypted:       true,
		ShardCount:      12,
		FileCount:       340,
		StorageLocation: "/var/backups/demo",
	})

	out := buf.String()
	assert.Contains(t, out, "backup-20260801-120000-abcd1234")
	assert.Contains(t, out, "5.0 MiB")
	assert.Contains(t, out, "12 shards, 340 files")
	assert.Contains(t, out, "Encrypted:   yes")
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{3 * 1024 * 1024, "3.0 MiB"},
		{int64(1.5 * 1024 * 1024 * 1024), "1.5 GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatSize(tt.size))
	}
}

func TestArtifactTableAlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ArtifactTable(&buf, []*backup.ArtifactMetadata{
		{ID: "backup-20260801-120000-abcd1234", Database: "demo", Mode: backup.ModeFull, CreatedAt: created, Size: 1024},
		{ID: "backup-short", Database: "other_database", Mode: backup.ModeDatabaseOnly, CreatedAt: created, Size: 10, Encrypted: true},
	})

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "backup-short")
	assert.Contains(t, out, "other_database")
	assert.Contains(t, out, "yes")
}

func TestArtifactTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	ArtifactTable(&buf, nil)
	assert.Contains(t, buf.String(), "No artifacts found.")
}
