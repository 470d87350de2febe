package display

import (
	"fmt"
	"io"
	"strings"
	"time"

	"odoo-backup-tool/internal/backup"
)

// ArtifactTable renders stored artifacts as an aligned listing.
func ArtifactTable(out io.Writer, artifacts []*backup.ArtifactMetadata) {
	if len(artifacts) == 0 {
		fmt.Fprintln(out, "No artifacts found.")
		return
	}

	headers := []string{"ID", "DATABASE", "MODE", "CREATED", "SIZE", "ENC"}
	rows := make([][]string, 0, len(artifacts))
	for _, meta := range artifacts {
		enc := ""
		if meta.Encrypted {
			enc = "yes"
		}
		rows = append(rows, []string{
			meta.ID,
			meta.Database,
			string(meta.Mode),
			meta.CreatedAt.Local().Format(time.DateTime),
			FormatSize(meta.Size),
			enc,
		})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	writeRow := func(cells []string) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = cell + strings.Repeat(" ", widths[i]-len(cell))
		}
		fmt.Fprintln(out, strings.TrimRight(strings.Join(parts, "  "), " "))
	}

	writeRow(headers)
	for _, row := range rows {
		writeRow(row)
	}
}
