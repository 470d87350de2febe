// Package cmd defines the CLI. Commands parse flags and delegate all
// real work to the application layer.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"odoo-backup-tool/internal/application"
	"odoo-backup-tool/internal/config"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	logFile string
)

// errCommandFailed marks errors the application layer already reported
// to the operator; Execute only needs the exit code.
var errCommandFailed = errors.New("command failed")

var rootCmd = &cobra.Command{
	Use:   "odoo-backup-tool",
	Short: "Backup, restore and clone Odoo instances",
	Long: `odoo-backup-tool captures an Odoo instance - its PostgreSQL database
and its filestore - into a single portable archive, and restores or
clones such archives onto the same or another instance.

Restores stage the archive next to the destination and only then
promote it, so a failed restore normally leaves the destination
untouched. Restored copies can be neutralized: outgoing mail, scheduled
jobs and payment acquirers are disarmed so a staging copy cannot act
like production.

Examples:
  # Capture a full backup using ./odoo-backup.yaml
  odoo-backup-tool backup

  # Restore the newest artifact into a scratch database, neutralized
  odoo-backup-tool restore backup-20260101-120000-a1b2c3d4 \
      --target-db staging --neutralize

  # Clone production onto the configured target instance
  odoo-backup-tool clone --target-db production_copy`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errCommandFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initViper)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./odoo-backup.yaml, then $HOME/.odoo-backup.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file")

	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(newVersionCommand())
}

// initViper locates the configuration file and arms environment
// variable overrides with the ODOO_BACKUP_ prefix.
func initViper() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(".")
		viper.AddConfigPath(home)
		viper.AddConfigPath("/etc/odoo-backup")
		viper.SetConfigType("yaml")
		viper.SetConfigName("odoo-backup")
	}

	viper.SetEnvPrefix("ODOO_BACKUP")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig reads the located configuration file and applies the
// environment overrides that must never live in a file.
func loadConfig() (*config.Config, error) {
	path := viper.ConfigFileUsed()
	if path == "" {
		return nil, fmt.Errorf("no configuration file found; run %q to create one", "odoo-backup-tool config init")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if pw := viper.GetString("source_password"); pw != "" {
		cfg.Source.Database.Password = pw
	}
	if pw := viper.GetString("target_password"); pw != "" && cfg.Target != nil {
		cfg.Target.Database.Password = pw
	}
	return cfg, nil
}

// runApp builds the application from the configuration and runs fn,
// reporting any failure with troubleshooting hints.
func runApp(cmd *cobra.Command, fn func(*application.Application) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := application.New(cfg, version, application.Options{
		Quiet:   quiet,
		Verbose: verbose,
		LogFile: logFile,
	})
	if err != nil {
		return err
	}

	if err := fn(app); err != nil {
		app.HandleError(err)
		return errCommandFailed
	}
	return nil
}

// Version information (set by main via build flags).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// SetVersionInfo sets the version information from build flags.
func SetVersionInfo(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("odoo-backup-tool version %s\n", version)
			fmt.Printf("Built: %s\n", buildTime)
			fmt.Printf("Commit: %s\n", gitCommit)
		},
	}
}
