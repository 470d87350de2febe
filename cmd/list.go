package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"odoo-backup-tool/internal/application"
	"odoo-backup-tool/internal/backup"
)

var (
	listDatabase string
	listSince    string
	listUntil    string
	listLimit    int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored artifacts",
	Long: `List the artifacts in the configured store, newest first.

Examples:
  # All artifacts
  odoo-backup-tool list

  # Artifacts of one database from the last week
  odoo-backup-tool list --database production --since 168h`,
	RunE: runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <artifact-id>",
	Short: "Delete one artifact from the store",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply the retention policy to stored artifacts",
	Long: `Apply the configured retention policy to one database's artifacts.
The newest artifact of a database is never pruned, regardless of age.`,
	RunE: runPrune,
}

var pruneDatabase string

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(pruneCmd)

	listCmd.Flags().StringVar(&listDatabase, "database", "", "only artifacts of this database")
	listCmd.Flags().StringVar(&listSince, "since", "", "only artifacts younger than this (duration, e.g. 72h)")
	listCmd.Flags().StringVar(&listUntil, "until", "", "only artifacts older than this (duration, e.g. 24h)")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of artifacts to list")

	pruneCmd.Flags().StringVar(&pruneDatabase, "database", "", "database to prune; defaults to the configured source database")
}

func runList(cmd *cobra.Command, args []string) error {
	filter := backup.StorageFilter{
		Database: listDatabase,
		MaxItems: listLimit,
	}

	if listSince != "" {
		d, err := time.ParseDuration(listSince)
		if err != nil {
			return fmt.Errorf("invalid --since duration: %w", err)
		}
		after := time.Now().Add(-d)
		filter.CreatedAfter = &after
	}
	if listUntil != "" {
		d, err := time.ParseDuration(listUntil)
		if err != nil {
			return fmt.Errorf("invalid --until duration: %w", err)
		}
		before := time.Now().Add(-d)
		filter.CreatedBefore = &before
	}

	return runApp(cmd, func(app *application.Application) error {
		return app.RunList(cmd.Context(), filter)
	})
}

func runDelete(cmd *cobra.Command, args []string) error {
	return runApp(cmd, func(app *application.Application) error {
		return app.RunDelete(cmd.Context(), args[0])
	})
}

func runPrune(cmd *cobra.Command, args []string) error {
	return runApp(cmd, func(app *application.Application) error {
		database := pruneDatabase
		if database == "" {
			database = app.SourceDatabase()
		}
		return app.RunPrune(cmd.Context(), database)
	})
}
