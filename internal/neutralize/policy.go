package neutralize

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Action is one neutralization transformation. The statement must be
// idempotent: running it twice leaves the database in the same state.
type Action struct {
	Name  string `yaml:"name"`
	Table string `yaml:"table"`
	SQL   string `yaml:"sql"`
}

// Policy is the ordered list of transformations a neutralization pass
// applies. The default covers the behaviors that must never fire from a
// restored copy; deployments override it with a YAML file.
type Policy struct {
	Actions []Action `yaml:"actions"`
}

// forbiddenTables hold credentials and user documents. No policy may
// touch them, built-in or loaded.
var forbiddenTables = []string{"res_users", "ir_attachment"}

// DefaultPolicy returns the built-in transformation set: stop outgoing
// mail, stop scheduled jobs, stop live payment capture, and drop the
// frozen base-URL marker.
func DefaultPolicy() Policy {
	return Policy{Actions: []Action{
		{
			Name:  "disable_mail_servers",
			Table: "ir_mail_server",
			SQL:   "UPDATE ir_mail_server SET active = false WHERE active",
		},
		{
			Name:  "disable_cron_jobs",
			Table: "ir_cron",
			SQL:   "UPDATE ir_cron SET active = false WHERE active",
		},
		{
			Name:  "disable_payment_providers",
			Table: "payment_provider",
			SQL:   "UPDATE payment_provider SET state = 'disabled' WHERE state <> 'disabled'",
		},
		{
			Name:  "remove_base_url_freeze",
			Table: "ir_config_parameter",
			SQL:   "DELETE FROM ir_config_parameter WHERE key = 'web.base.url.freeze'",
		},
	}}
}

// LoadPolicy reads a policy file, falling back to nothing: a file that
// fails to parse is an error, not a silent default.
func LoadPolicy(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("reading neutralization policy %s: %w", path, err)
	}

	var policy Policy
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return Policy{}, fmt.Errorf("parsing neutralization policy %s: %w", path, err)
	}

	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// Validate rejects empty actions and any transformation that references
// credential or attachment tables.
func (p Policy) Validate() error {
	if len(p.Actions) == 0 {
		return fmt.Errorf("neutralization policy has no actions")
	}

	seen := make(map[string]bool, len(p.Actions))
	for i, action := range p.Actions {
		if action.Name == "" {
			return fmt.Errorf("action %d has no name", i)
		}
		if seen[action.Name] {
			return fmt.Errorf("duplicate action name %q", action.Name)
		}
		seen[action.Name] = true

		if action.Table == "" {
			return fmt.Errorf("action %q has no guard table", action.Name)
		}
		if strings.TrimSpace(action.SQL) == "" {
			return fmt.Errorf("action %q has no SQL", action.Name)
		}

		for _, forbidden := range forbiddenTables {
			if strings.EqualFold(action.Table, forbidden) {
				return fmt.Errorf("action %q targets protected table %s", action.Name, forbidden)
			}
			if containsTableReference(action.SQL, forbidden) {
				return fmt.Errorf("action %q references protected table %s", action.Name, forbidden)
			}
		}
	}
	return nil
}

// containsTableReference looks for the table name as a whole word.
func containsTableReference(sql, table string) bool {
	lower := strings.ToLower(sql)
	idx := 0
	for {
		pos := strings.Index(lower[idx:], table)
		if pos == -1 {
			return false
		}
		pos += idx
		before := pos == 0 || !isIdentChar(lower[pos-1])
		afterIdx := pos + len(table)
		after := afterIdx >= len(lower) || !isIdentChar(lower[afterIdx])
		if before && after {
			return true
		}
		idx = pos + len(table)
	}
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
