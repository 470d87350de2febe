package backup

import (
	"os"
	"time"

	"odoo-backup-tool/internal/database"
	"odoo-backup-tool/internal/transport"
)

// Mode selects which halves of an instance an operation covers.
type Mode string

const (
	ModeFull          Mode = "full"
	ModeDatabaseOnly  Mode = "db_only"
	ModeFilestoreOnly Mode = "filestore_only"
)

// InstanceConfig locates one application instance: its database and the
// host holding its filestore.
type InstanceConfig struct {
	Database      database.Config      `json:"database" yaml:"database"`
	FilestorePath string               `json:"filestore_path" yaml:"filestore_path"`
	SSH           *transport.SSHConfig `json:"ssh,omitempty" yaml:"ssh,omitempty"`
}

// Remote reports whether the instance's filestore lives on another host.
func (c InstanceConfig) Remote() bool {
	return c.SSH != nil && c.SSH.Host != ""
}

// ArtifactStatus tracks the lifecycle of a stored archive.
type ArtifactStatus string

const (
	ArtifactStatusCreating  ArtifactStatus = "CREATING"
	ArtifactStatusCompleted ArtifactStatus = "COMPLETED"
	ArtifactStatusFailed    ArtifactStatus = "FAILED"
	ArtifactStatusCorrupted ArtifactStatus = "CORRUPTED"
)

// StorageProviderType identifies a durable artifact store backend.
type StorageProviderType string

const (
	StorageProviderLocal StorageProviderType = "LOCAL"
	StorageProviderS3    StorageProviderType = "S3"
	StorageProviderAzure StorageProviderType = "AZURE"
	StorageProviderGCS   StorageProviderType = "GCS"
)

// StorageConfig defines storage provider configuration
type StorageConfig struct {
	Provider StorageProviderType `yaml:"provider"`
	Local    *LocalConfig        `yaml:"local,omitempty"`
	S3       *S3Config           `yaml:"s3,omitempty"`
	Azure    *AzureConfig        `yaml:"azure,omitempty"`
	GCS      *GCSConfig          `yaml:"gcs,omitempty"`
}

// Validate checks that the selected provider has its configuration block.
func (sc StorageConfig) Validate() error {
	switch sc.Provider {
	case StorageProviderLocal:
		if sc.Local == nil || sc.Local.BasePath == "" {
			return NewValidationError("local storage requires a base path", nil)
		}
	case StorageProviderS3:
		if sc.S3 == nil || sc.S3.Bucket == "" || sc.S3.Region == "" {
			return NewValidationError("s3 storage requires bucket and region", nil)
		}
	case StorageProviderAzure:
		if sc.Azure == nil || sc.Azure.AccountName == "" || sc.Azure.ContainerName == "" {
			return NewValidationError("azure storage requires account and container", nil)
		}
	case StorageProviderGCS:
		if sc.GCS == nil || sc.GCS.Bucket == "" {
			return NewValidationError("gcs storage requires a bucket", nil)
		}
	default:
		return NewValidationError("unknown storage provider", nil)
	}
	return nil
}

// LocalConfig for local file system storage
type LocalConfig struct {
	BasePath    string      `yaml:"base_path"`
	Permissions os.FileMode `yaml:"permissions"`
}

// S3Config for Amazon S3 storage
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Validate checks required S3 fields.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return NewValidationError("s3 bucket is required", nil)
	}
	if c.Region == "" {
		return NewValidationError("s3 region is required", nil)
	}
	return nil
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `yaml:"account_name"`
	AccountKey    string `yaml:"account_key"`
	ContainerName string `yaml:"container_name"`
}

// Validate checks required Azure fields.
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" || c.AccountKey == "" {
		return NewValidationError("azure account name and key are required", nil)
	}
	if c.ContainerName == "" {
		return NewValidationError("azure container name is required", nil)
	}
	return nil
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsPath string `yaml:"credentials_path"`
	ProjectID       string `yaml:"project_id"`
}

// Validate checks required GCS fields.
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return NewValidationError("gcs bucket is required", nil)
	}
	return nil
}

// StorageFilter narrows artifact listings.
type StorageFilter struct {
	Database      string
	Prefix        string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	MaxItems      int
}

// Matches applies the filter to one artifact's metadata.
func (f StorageFilter) Matches(meta *ArtifactMetadata) bool {
	if f.Database != "" && meta.Database != f.Database {
		return false
	}
	if f.CreatedAfter != nil && !meta.CreatedAt.After(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !meta.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}
