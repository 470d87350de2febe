package backup

import (
	"context"
	"os"
	"path/filepath"

	"odoo-backup-tool/internal/archive"
)

// CloneOptions control a source-to-target copy.
type CloneOptions struct {
	TargetDatabase string
	Compression    archive.Format
	Level          int
	// Neutralize defaults to true for clones: a copied production
	// database must not keep sending mail or capturing payments.
	Neutralize           bool
	NeutralizePolicyPath string
}

// CloneReport describes a completed clone.
type CloneReport struct {
	Artifact *ArtifactMetadata `json:"artifact"`
	Restore  *RestoreReport    `json:"restore"`
}

// Clone copies one instance into another by running a full backup
// through backupOrch and restoring the resulting artifact through
// restoreOrch. The intermediate artifact is persisted like any other
// backup, so a failed restore never loses the captured state.
func Clone(ctx context.Context, backupOrch *BackupOrchestrator, restoreOrch *RestoreOrchestrator, opts CloneOptions) (*CloneReport, error) {
	if opts.TargetDatabase == "" {
		return nil, NewValidationError("clone target database name is required", nil)
	}
	source := backupOrch.source
	target := restoreOrch.target
	if opts.TargetDatabase == source.Database.Database && sameServer(source, target) {
		return nil, NewValidationError("clone target must differ from the source database", nil)
	}

	meta, err := backupOrch.Backup(ctx, BackupOptions{
		Compression: opts.Compression,
		Level:       opts.Level,
		Description: "clone source snapshot for " + opts.TargetDatabase,
	})
	if err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "clone-")
	if err != nil {
		return nil, NewFilestoreError("creating clone work directory", err)
	}
	defer os.RemoveAll(workDir)

	archivePath := filepath.Join(workDir, archiveObjectName(meta))
	if _, err := backupOrch.storage.Retrieve(ctx, meta.ID, archivePath); err != nil {
		return nil, err
	}

	report, err := restoreOrch.Restore(ctx, archivePath, RestoreOptions{
		TargetDatabase:       opts.TargetDatabase,
		Neutralize:           opts.Neutralize,
		NeutralizePolicyPath: opts.NeutralizePolicyPath,
		AutoApprove:          true,
	})
	return &CloneReport{Artifact: meta, Restore: report}, err
}

func sameServer(a, b InstanceConfig) bool {
	return a.Database.Host == b.Database.Host && a.Database.Port == b.Database.Port
}
