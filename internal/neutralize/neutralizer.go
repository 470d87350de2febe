// Package neutralize disarms production behaviors in a restored
// database copy: outgoing mail, scheduled jobs, live payment capture,
// and the frozen base-URL marker. It never touches credentials or
// attachments, and every transformation is idempotent.
package neutralize

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	dbconf "odoo-backup-tool/internal/database"
	"odoo-backup-tool/internal/logging"
)

// ActionResult records the outcome of one transformation.
type ActionResult struct {
	Name         string `json:"name"`
	Table        string `json:"table"`
	Skipped      bool   `json:"skipped"`
	RowsAffected int64  `json:"rows_affected"`
}

// Report summarizes a neutralization pass.
type Report struct {
	Actions []ActionResult `json:"actions"`
}

// Changed reports whether any transformation altered rows.
func (r *Report) Changed() bool {
	for _, action := range r.Actions {
		if action.RowsAffected > 0 {
			return true
		}
	}
	return false
}

// Neutralizer applies a policy to one database.
type Neutralizer struct {
	db     *sql.DB
	policy Policy
	logger *logging.Logger
}

// Open connects to the target database for neutralization.
func Open(config dbconf.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", config.Database, err)
	}
	return db, nil
}

// New creates a neutralizer. The policy must already be validated.
func New(db *sql.DB, policy Policy, logger *logging.Logger) (*Neutralizer, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Neutralizer{db: db, policy: policy, logger: logger}, nil
}

// Apply runs every policy action in order. Actions whose guard table is
// absent are skipped: restored databases may predate optional modules.
// Errors abort the pass; actions already applied stay applied, which is
// safe because each one is idempotent.
func (n *Neutralizer) Apply(ctx context.Context) (*Report, error) {
	report := &Report{}

	for _, action := range n.policy.Actions {
		exists, err := n.tableExists(ctx, action.Table)
		if err != nil {
			n.logger.LogNeutralizeAction(action.Name, 0, false, err)
			return report, fmt.Errorf("checking table %s for action %q: %w", action.Table, action.Name, err)
		}
		if !exists {
			n.logger.LogNeutralizeAction(action.Name, 0, true, nil)
			report.Actions = append(report.Actions, ActionResult{
				Name: action.Name, Table: action.Table, Skipped: true,
			})
			continue
		}

		result, err := n.db.ExecContext(ctx, action.SQL)
		if err != nil {
			n.logger.LogNeutralizeAction(action.Name, 0, false, err)
			return report, fmt.Errorf("applying action %q: %w", action.Name, err)
		}

		rows, _ := result.RowsAffected()
		n.logger.LogNeutralizeAction(action.Name, rows, false, nil)
		report.Actions = append(report.Actions, ActionResult{
			Name: action.Name, Table: action.Table, RowsAffected: rows,
		})
	}

	return report, nil
}

// tableExists checks the catalog so actions against optional modules
// degrade to no-ops instead of errors.
func (n *Neutralizer) tableExists(ctx context.Context, table string) (bool, error) {
	var regclass sql.NullString
	err := n.db.QueryRowContext(ctx, "SELECT to_regclass($1)", table).Scan(&regclass)
	if err != nil {
		return false, err
	}
	return regclass.Valid, nil
}
