package cmd

import (
	"github.com/spf13/cobra"

	"odoo-backup-tool/internal/application"
	"odoo-backup-tool/internal/archive"
	"odoo-backup-tool/internal/backup"
)

var (
	cloneTarget       string
	cloneCompression  string
	cloneNoNeutralize bool
)

var cloneCmd = &cobra.Command{
	Use:   "clone",
	Short: "Snapshot the source and restore it onto the target instance",
	Long: `Take a fresh backup of the source instance and immediately restore it
onto the configured target instance under a new database name.

The intermediate artifact is persisted to the store like any other
backup, so a failed restore never loses the snapshot. Clones are
neutralized by default: a copy of production must not keep sending
mail, running crons or capturing payments.

Examples:
  # Clone production onto the target as production_copy
  odoo-backup-tool clone --target-db production_copy

  # Clone without neutralizing (dangerous for production copies)
  odoo-backup-tool clone --target-db production_copy --no-neutralize`,
	RunE: runClone,
}

func init() {
	rootCmd.AddCommand(cloneCmd)

	cloneCmd.Flags().StringVar(&cloneTarget, "target-db", "", "database name for the clone (required)")
	cloneCmd.Flags().StringVar(&cloneCompression, "compression", "", "archive compression for the intermediate artifact")
	cloneCmd.Flags().BoolVar(&cloneNoNeutralize, "no-neutralize", false, "keep production behaviors on the clone")

	cloneCmd.MarkFlagRequired("target-db")
}

func runClone(cmd *cobra.Command, args []string) error {
	var format archive.Format
	if cloneCompression != "" {
		parsed, err := archive.ParseFormat(cloneCompression)
		if err != nil {
			return err
		}
		format = parsed
	}

	return runApp(cmd, func(app *application.Application) error {
		return app.RunClone(cmd.Context(), backup.CloneOptions{
			TargetDatabase: cloneTarget,
			Compression:    format,
			Neutralize:     !cloneNoNeutralize,
		})
	})
}
