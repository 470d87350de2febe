package backup

import (
	"odoo-backup-tool/internal/archive"
)

// BackupOptions control one backup run.
type BackupOptions struct {
	DBOnly        bool
	FilestoreOnly bool
	Compression   archive.Format
	Level         int
	Description   string
	Tags          map[string]string
	// EncryptionPassphrase, when set, seals the archive before it is
	// persisted.
	EncryptionPassphrase string
}

// Mode derives the backup mode from the flags.
func (o BackupOptions) Mode() Mode {
	switch {
	case o.DBOnly:
		return ModeDatabaseOnly
	case o.FilestoreOnly:
		return ModeFilestoreOnly
	default:
		return ModeFull
	}
}

// Validate rejects contradictory flag combinations before any work starts.
func (o BackupOptions) Validate() error {
	if o.DBOnly && o.FilestoreOnly {
		return &OptionConflictError{OptionA: "db-only", OptionB: "filestore-only"}
	}
	return nil
}

// RestoreOptions control one restore run.
type RestoreOptions struct {
	DBOnly        bool
	FilestoreOnly bool
	Neutralize    bool
	// TargetDatabase may differ from the database named in the archive;
	// the staged filestore is renamed to match before promotion.
	TargetDatabase string
	// NeutralizePolicyPath overrides the built-in neutralization policy.
	NeutralizePolicyPath string
	// AutoApprove skips the interactive confirmation gate.
	AutoApprove bool
	// EncryptionPassphrase unlocks an encrypted archive.
	EncryptionPassphrase string
}

// Mode derives the restore mode from the flags.
func (o RestoreOptions) Mode() Mode {
	switch {
	case o.DBOnly:
		return ModeDatabaseOnly
	case o.FilestoreOnly:
		return ModeFilestoreOnly
	default:
		return ModeFull
	}
}

// Validate rejects contradictory flag combinations before any work starts.
func (o RestoreOptions) Validate() error {
	if o.DBOnly && o.FilestoreOnly {
		return &OptionConflictError{OptionA: "db-only", OptionB: "filestore-only"}
	}
	if o.TargetDatabase == "" {
		return NewValidationError("target database name is required", nil)
	}
	return nil
}
