package cmd

import (
	"github.com/spf13/cobra"

	"odoo-backup-tool/internal/application"
	"odoo-backup-tool/internal/backup"
)

var (
	restoreTarget        string
	restoreDBOnly        bool
	restoreFilestoreOnly bool
	restoreNeutralize    bool
	restorePolicy        string
	restoreYes           bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore <artifact-id | archive-path>",
	Short: "Restore an artifact onto the source instance",
	Long: `Restore an artifact onto the configured source instance. The argument
is either a stored artifact ID or a path to an archive file on disk.

The archive is extracted into a staging area and verified before
anything on the destination is touched. The existing database is then
dropped and replaced, and the existing filestore tree is moved aside
with a .bak suffix, never deleted. Once promotion has started the
restore cannot be cancelled; interrupting it earlier leaves the
destination untouched.

The operator must type the target database name to confirm, unless
--yes is given.

Examples:
  # Restore the artifact under its original database name
  odoo-backup-tool restore backup-20260101-120000-a1b2c3d4

  # Restore into a differently named database, neutralized
  odoo-backup-tool restore backup-20260101-120000-a1b2c3d4 \
      --target-db staging --neutralize

  # Restore straight from an exported archive file
  odoo-backup-tool restore /srv/exports/prod.tar.zst --target-db scratch`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().StringVar(&restoreTarget, "target-db", "", "database to restore into; defaults to the name in the archive")
	restoreCmd.Flags().BoolVar(&restoreDBOnly, "db-only", false, "restore only the database")
	restoreCmd.Flags().BoolVar(&restoreFilestoreOnly, "filestore-only", false, "restore only the filestore")
	restoreCmd.Flags().BoolVar(&restoreNeutralize, "neutralize", false, "disarm mail, crons and payment acquirers on the restored copy")
	restoreCmd.Flags().StringVar(&restorePolicy, "neutralize-policy", "", "YAML policy file overriding the built-in neutralization actions")
	restoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "skip the interactive confirmation")

	restoreCmd.MarkFlagsMutuallyExclusive("db-only", "filestore-only")
}

func runRestore(cmd *cobra.Command, args []string) error {
	return runApp(cmd, func(app *application.Application) error {
		return app.RunRestore(cmd.Context(), args[0], backup.RestoreOptions{
			DBOnly:               restoreDBOnly,
			FilestoreOnly:        restoreFilestoreOnly,
			Neutralize:           restoreNeutralize,
			TargetDatabase:       restoreTarget,
			NeutralizePolicyPath: restorePolicy,
			AutoApprove:          restoreYes,
		})
	})
}
