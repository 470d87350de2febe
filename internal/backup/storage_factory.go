package backup

import (
	"context"
	"fmt"
)

// NewStorageProvider builds the configured artifact store.
func NewStorageProvider(ctx context.Context, config StorageConfig) (StorageProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Provider {
	case StorageProviderLocal:
		return NewLocalStorageProvider(config.Local)
	case StorageProviderS3:
		return NewS3StorageProvider(config.S3)
	case StorageProviderAzure:
		return NewAzureStorageProvider(config.Azure)
	case StorageProviderGCS:
		return NewGCSStorageProvider(ctx, config.GCS)
	default:
		return nil, NewConfigurationError(fmt.Sprintf("unknown storage provider %q", config.Provider), nil)
	}
}
