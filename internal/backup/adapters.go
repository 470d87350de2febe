package backup

import (
	"context"

	"odoo-backup-tool/internal/database"
	"odoo-backup-tool/internal/logging"
	"odoo-backup-tool/internal/neutralize"
)

// DatabaseAdapter is the slice of database operations the orchestrators
// drive. The production implementation shells out to the PostgreSQL
// client tools; tests substitute fakes.
type DatabaseAdapter interface {
	CheckClientTools() error
	TestConnection(ctx context.Context) error
	Dump(ctx context.Context, outputPath string) error
	EnsureFreshDatabase(ctx context.Context) error
	Restore(ctx context.Context, dumpPath string) error
}

// AdapterFactory builds a DatabaseAdapter for a connection config.
type AdapterFactory func(config database.Config) DatabaseAdapter

// defaultAdapterFactory returns the pg_dump/psql based adapter.
func defaultAdapterFactory(logger *logging.Logger) AdapterFactory {
	return func(config database.Config) DatabaseAdapter {
		return database.NewPostgresAdapter(config, logger)
	}
}

// NeutralizeFunc runs a neutralization pass against a database.
type NeutralizeFunc func(ctx context.Context, config database.Config, policy neutralize.Policy) (*neutralize.Report, error)

// defaultNeutralizeFunc connects over lib/pq and applies the policy.
func defaultNeutralizeFunc(logger *logging.Logger) NeutralizeFunc {
	return func(ctx context.Context, config database.Config, policy neutralize.Policy) (*neutralize.Report, error) {
		db, err := neutralize.Open(config)
		if err != nil {
			return nil, err
		}
		defer db.Close()

		n, err := neutralize.New(db, policy, logger)
		if err != nil {
			return nil, err
		}
		return n.Apply(ctx)
	}
}
