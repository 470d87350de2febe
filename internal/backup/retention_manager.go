package backup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"odoo-backup-tool/internal/logging"
)

// RetentionPolicy bounds how many artifacts of a database are kept and
// for how long. Zero values disable the respective limit.
type RetentionPolicy struct {
	MaxCount int           `json:"max_count" yaml:"max_count"`
	MaxAge   time.Duration `json:"max_age" yaml:"max_age"`
}

// UnmarshalYAML accepts max_age as a duration string ("720h").
func (p *RetentionPolicy) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxCount int    `yaml:"max_count"`
		MaxAge   string `yaml:"max_age"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	p.MaxCount = raw.MaxCount
	p.MaxAge = 0
	if raw.MaxAge != "" {
		d, err := time.ParseDuration(raw.MaxAge)
		if err != nil {
			return fmt.Errorf("invalid retention max_age %q: %w", raw.MaxAge, err)
		}
		p.MaxAge = d
	}
	return nil
}

// MarshalYAML renders max_age as a duration string.
func (p RetentionPolicy) MarshalYAML() (interface{}, error) {
	return struct {
		MaxCount int    `yaml:"max_count"`
		MaxAge   string `yaml:"max_age,omitempty"`
	}{
		MaxCount: p.MaxCount,
		MaxAge:   durationString(p.MaxAge),
	}, nil
}

func durationString(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

// Enabled reports whether the policy prunes anything at all.
func (p RetentionPolicy) Enabled() bool {
	return p.MaxCount > 0 || p.MaxAge > 0
}

// RetentionReport lists what a pruning pass removed.
type RetentionReport struct {
	Database  string   `json:"database"`
	Examined  int      `json:"examined"`
	PrunedIDs []string `json:"pruned_ids,omitempty"`
}

// RetentionManager prunes old artifacts from a store, per database.
// The newest artifact of a database is never pruned, regardless of age.
type RetentionManager struct {
	storage StorageProvider
	policy  RetentionPolicy
	logger  *logging.Logger
}

// NewRetentionManager creates a retention manager.
func NewRetentionManager(storage StorageProvider, policy RetentionPolicy, logger *logging.Logger) *RetentionManager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &RetentionManager{storage: storage, policy: policy, logger: logger}
}

// Apply prunes artifacts of one database according to the policy.
func (rm *RetentionManager) Apply(ctx context.Context, database string) (*RetentionReport, error) {
	report := &RetentionReport{Database: database}
	if !rm.policy.Enabled() {
		return report, nil
	}

	artifacts, err := rm.storage.List(ctx, StorageFilter{Database: database})
	if err != nil {
		return nil, err
	}
	report.Examined = len(artifacts)

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
	})

	cutoff := time.Time{}
	if rm.policy.MaxAge > 0 {
		cutoff = time.Now().Add(-rm.policy.MaxAge)
	}

	for i, meta := range artifacts {
		if i == 0 {
			continue
		}

		prune := false
		if rm.policy.MaxCount > 0 && i >= rm.policy.MaxCount {
			prune = true
		}
		if !cutoff.IsZero() && meta.CreatedAt.Before(cutoff) {
			prune = true
		}
		if !prune {
			continue
		}

		if err := rm.storage.Delete(ctx, meta.ID); err != nil {
			rm.logger.Warnf("Failed to prune artifact %s: %v", meta.ID, err)
			continue
		}
		rm.logger.Infof("Pruned artifact %s (created %s)", meta.ID, meta.CreatedAt.Format(time.RFC3339))
		report.PrunedIDs = append(report.PrunedIDs, meta.ID)
	}

	return report, nil
}
