package backup

import (
	"context"
	"strings"

	"odoo-backup-tool/internal/archive"
)

// StorageProvider persists finished backup archives durably. Every
// backup run ends with a Store call; an archive that was never stored
// is not a backup.
type StorageProvider interface {
	// Store persists the archive file and its metadata under the
	// artifact's ID. It fills in metadata.StorageLocation.
	Store(ctx context.Context, archivePath string, metadata *ArtifactMetadata) error
	// Retrieve copies the stored archive to destPath and returns its
	// metadata. The archive checksum is verified before returning.
	Retrieve(ctx context.Context, artifactID, destPath string) (*ArtifactMetadata, error)
	// GetMetadata loads just the metadata of a stored artifact.
	GetMetadata(ctx context.Context, artifactID string) (*ArtifactMetadata, error)
	// List returns metadata for stored artifacts matching the filter.
	List(ctx context.Context, filter StorageFilter) ([]*ArtifactMetadata, error)
	// Delete removes a stored artifact and its metadata.
	Delete(ctx context.Context, artifactID string) error
	// HealthCheck verifies the store is reachable and writable.
	HealthCheck(ctx context.Context) error
}

// metadataObjectName is the per-artifact metadata file or object.
const metadataObjectName = "metadata.json"

// archiveObjectName derives the archive file name stored alongside the
// metadata, preserving the compression extension so the file remains
// self-describing.
func archiveObjectName(meta *ArtifactMetadata) string {
	format, err := archive.ParseFormat(meta.Compression)
	if err != nil {
		format = archive.FormatNone
	}
	name := "archive" + format.Extension()
	if meta.Encrypted {
		name += ".enc"
	}
	return name
}

// sanitizeArtifactID strips path separators so an ID can never escape
// the store's namespace.
func sanitizeArtifactID(artifactID string) string {
	sanitized := strings.ReplaceAll(artifactID, "/", "_")
	sanitized = strings.ReplaceAll(sanitized, "\\", "_")
	sanitized = strings.ReplaceAll(sanitized, "..", "_")
	sanitized = strings.ReplaceAll(sanitized, " ", "_")
	return sanitized
}
