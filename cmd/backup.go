package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"odoo-backup-tool/internal/application"
	"odoo-backup-tool/internal/archive"
	"odoo-backup-tool/internal/backup"
)

var (
	backupDBOnly        bool
	backupFilestoreOnly bool
	backupCompression   string
	backupLevel         int
	backupDescription   string
	backupTags          []string
	backupEncrypt       bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Capture the source instance into a new artifact",
	Long: `Capture the source instance - database dump and filestore snapshot -
into a single archive and persist it to the configured store.

The database is dumped with pg_dump over TCP; the filestore is copied
locally or pulled over SSH. Both halves run concurrently. The artifact
is always persisted, and the retention policy is applied afterwards.

Examples:
  # Full backup
  odoo-backup-tool backup

  # Database only, zstd compressed, tagged
  odoo-backup-tool backup --db-only --compression zstd --tags env=prod

  # Encrypted backup (prompts for a passphrase)
  odoo-backup-tool backup --encrypt --description "pre-upgrade snapshot"`,
	RunE: runBackup,
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.Flags().BoolVar(&backupDBOnly, "db-only", false, "capture only the database")
	backupCmd.Flags().BoolVar(&backupFilestoreOnly, "filestore-only", false, "capture only the filestore")
	backupCmd.Flags().StringVar(&backupCompression, "compression", "", "archive compression (none, gzip, zstd, lz4); defaults to the configured value")
	backupCmd.Flags().IntVar(&backupLevel, "level", 0, "compression level; 0 uses the codec default")
	backupCmd.Flags().StringVar(&backupDescription, "description", "", "free-form description stored with the artifact")
	backupCmd.Flags().StringSliceVar(&backupTags, "tags", nil, "artifact tags in key=value format")
	backupCmd.Flags().BoolVar(&backupEncrypt, "encrypt", false, "encrypt the archive with a passphrase")

	backupCmd.MarkFlagsMutuallyExclusive("db-only", "filestore-only")
}

func runBackup(cmd *cobra.Command, args []string) error {
	tags, err := parseTags(backupTags)
	if err != nil {
		return err
	}

	var format archive.Format
	if backupCompression != "" {
		format, err = archive.ParseFormat(backupCompression)
		if err != nil {
			return err
		}
	}

	return runApp(cmd, func(app *application.Application) error {
		opts := backup.BackupOptions{
			DBOnly:        backupDBOnly,
			FilestoreOnly: backupFilestoreOnly,
			Compression:   format,
			Level:         backupLevel,
			Description:   backupDescription,
			Tags:          tags,
		}

		if backupEncrypt {
			passphrase, err := app.PromptPassphrase(true)
			if err != nil {
				return err
			}
			opts.EncryptionPassphrase = passphrase
		}

		return app.RunBackup(cmd.Context(), opts)
	})
}

// parseTags parses key=value pairs into a map.
func parseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid tag %q, expected key=value", pair)
		}
		tags[key] = value
	}
	return tags, nil
}
