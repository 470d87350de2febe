package display

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"odoo-backup-tool/internal/backup"
)

// stepLabels map orchestrator steps to operator-facing wording.
var stepLabels = map[string]string{
	"dump":              "Dumping database",
	"snapshot":          "Snapshotting filestore",
	"pack":              "Packing archive",
	"store":             "Persisting artifact",
	"extract":           "Extracting archive",
	"promote_database":  "Promoting database",
	"promote_filestore": "Promoting filestore",
	"neutralize":        "Neutralizing instance",
}

// Renderer writes progress events and result summaries to a terminal.
// It implements backup.EventSink. Publish may be called from concurrent
// orchestrator goroutines, so event writes are serialized.
type Renderer struct {
	mu     sync.Mutex
	out    io.Writer
	colors *ColorSystem
	quiet  bool
}

// NewRenderer creates a renderer writing to stdout.
func NewRenderer(quiet bool) *Renderer {
	return &Renderer{out: os.Stdout, colors: NewColorSystem(), quiet: quiet}
}

// NewRendererTo creates a renderer writing to out.
func NewRendererTo(out io.Writer, quiet bool) *Renderer {
	return &Renderer{out: out, colors: NewColorSystem(), quiet: quiet}
}

// Publish implements backup.EventSink.
func (r *Renderer) Publish(event backup.Event) {
	if r.quiet {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	label := stepLabels[event.Step]
	if label == "" {
		label = event.Step
	}

	switch event.Status {
	case backup.EventStarted:
		fmt.Fprintf(r.out, "%s %s...\n", r.colors.Colorize("→", ColorInfo), label)
	case backup.EventDone:
		if event.Detail != "" {
			fmt.Fprintf(r.out, "%s %s (%s)\n", r.colors.Colorize("✓", ColorSuccess), label, event.Detail)
		} else {
			fmt.Fprintf(r.out, "%s %s\n", r.colors.Colorize("✓", ColorSuccess), label)
		}
	case backup.EventSkipped:
		fmt.Fprintf(r.out, "%s %s (skipped)\n", r.colors.Colorize("-", ColorMuted), label)
	case backup.EventFailed:
		fmt.Fprintf(r.out, "%s %s: %s\n", r.colors.Colorize("✗", ColorError), label, event.Detail)
	}
}

// BackupSummary prints the outcome of a backup run.
func (r *Renderer) BackupSummary(meta *backup.ArtifactMetadata) {
	fmt.Fprintln(r.out)
	fmt.Fprintf(r.out, "%s\n", r.colors.Colorize("Backup completed", ColorBold))
	fmt.Fprintf(r.out, "  Artifact:    %s\n", meta.ID)
	fmt.Fprintf(r.out, "  Database:    %s\n", meta.Database)
	fmt.Fprintf(r.out, "  Mode:        %s\n", meta.Mode)
	fmt.Fprintf(r.out, "  Size:        %s\n", FormatSize(meta.Size))
	fmt.Fprintf(r.out, "  Compression: %s\n", meta.Compression)
	if meta.Encrypted {
		fmt.Fprintf(r.out, "  Encrypted:   yes\n")
	}
	if meta.ShardCount > 0 {
		fmt.Fprintf(r.out, "  Filestore:   %d shards, %d files\n", meta.ShardCount, meta.FileCount)
	}
	fmt.Fprintf(r.out, "  Location:    %s\n", meta.StorageLocation)
}

// RestoreSummary prints the outcome of a restore run.
func (r *Renderer) RestoreSummary(report *backup.RestoreReport) {
	fmt.Fprintln(r.out)
	fmt.Fprintf(r.out, "%s\n", r.colors.Colorize("Restore completed", ColorBold))
	fmt.Fprintf(r.out, "  Database:  %s\n", report.Database)
	fmt.Fprintf(r.out, "  Duration:  %s\n", report.Duration.Round(time.Millisecond))
	if report.FilestoreBackup != "" {
		fmt.Fprintf(r.out, "  Previous filestore kept at %s\n", report.FilestoreBackup)
	}
	if report.Neutralization != nil {
		for _, action := range report.Neutralization.Actions {
			switch {
			case action.Skipped:
				fmt.Fprintf(r.out, "  %s %s (table %s absent)\n",
					r.colors.Colorize("-", ColorMuted), action.Name, action.Table)
			case action.RowsAffected > 0:
				fmt.Fprintf(r.out, "  %s %s (%d rows)\n",
					r.colors.Colorize("✓", ColorSuccess), action.Name, action.RowsAffected)
			default:
				fmt.Fprintf(r.out, "  %s %s (already neutral)\n",
					r.colors.Colorize("✓", ColorSuccess), action.Name)
			}
		}
	}
}

// Failure prints an error with the destination's state when known.
func (r *Renderer) Failure(err error) {
	fmt.Fprintf(r.out, "%s %v\n", r.colors.Colorize("Error:", ColorError), err)
}

// FormatSize renders a byte count for humans.
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
