package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStorageProvider stores artifacts in Google Cloud Storage under
// <prefix><artifact-id>/: the archive object plus metadata.json.
type GCSStorageProvider struct {
	client     *storage.Client
	bucketName string
	prefix     string
}

// NewGCSStorageProvider creates a GCS-backed artifact store.
func NewGCSStorageProvider(ctx context.Context, config *GCSConfig) (*GCSStorageProvider, error) {
	if config == nil {
		return nil, NewValidationError("GCS storage configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid GCS storage configuration", err)
	}

	var client *storage.Client
	var err error
	if config.CredentialsPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(config.CredentialsPath))
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, NewStorageError("failed to create GCS client", err)
	}

	return &GCSStorageProvider{
		client:     client,
		bucketName: config.Bucket,
		prefix:     "backups/",
	}, nil
}

// Close releases the GCS client.
func (gcsp *GCSStorageProvider) Close() error {
	return gcsp.client.Close()
}

// Store uploads the archive and its metadata.
func (gcsp *GCSStorageProvider) Store(ctx context.Context, archivePath string, metadata *ArtifactMetadata) error {
	if metadata == nil {
		return NewValidationError("artifact metadata is required", nil)
	}
	if err := metadata.Validate(); err != nil {
		return err
	}

	objectName := gcsp.artifactObjectName(metadata.ID)
	metadata.StorageLocation = fmt.Sprintf("gs://%s/%s", gcsp.bucketName, objectName)

	bucket := gcsp.client.Bucket(gcsp.bucketName)

	f, err := os.Open(archivePath)
	if err != nil {
		return NewStorageError("failed to open archive for upload", err)
	}
	defer f.Close()

	archiveWriter := bucket.Object(objectName + "/" + archiveObjectName(metadata)).NewWriter(ctx)
	archiveWriter.ContentType = "application/octet-stream"
	archiveWriter.Metadata = map[string]string{
		"artifact-id":   metadata.ID,
		"database-name": metadata.Database,
		"created-by":    metadata.CreatedBy,
		"compression":   metadata.Compression,
		"checksum":      metadata.Checksum,
	}
	if _, err := io.Copy(archiveWriter, f); err != nil {
		archiveWriter.Close()
		return NewStorageError("failed to write archive to GCS", err)
	}
	if err := archiveWriter.Close(); err != nil {
		return NewStorageError("failed to upload archive to GCS", err)
	}

	metadataData, err := metadata.ToJSON()
	if err != nil {
		return NewStorageError("failed to serialize artifact metadata", err)
	}
	metadataWriter := bucket.Object(objectName + "/" + metadataObjectName).NewWriter(ctx)
	metadataWriter.ContentType = "application/json"
	if _, err := metadataWriter.Write(metadataData); err != nil {
		metadataWriter.Close()
		return NewStorageError("failed to write metadata to GCS", err)
	}
	if err := metadataWriter.Close(); err != nil {
		return NewStorageError("failed to upload metadata to GCS", err)
	}
	return nil
}

// Retrieve downloads the archive to destPath and verifies its checksum.
func (gcsp *GCSStorageProvider) Retrieve(ctx context.Context, artifactID, destPath string) (*ArtifactMetadata, error) {
	metadata, err := gcsp.GetMetadata(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	objectName := gcsp.artifactObjectName(artifactID) + "/" + archiveObjectName(metadata)
	reader, err := gcsp.client.Bucket(gcsp.bucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to download artifact %s from GCS", artifactID), err)
	}
	defer reader.Close()

	if err := writeStreamTo(reader, destPath); err != nil {
		return nil, NewStorageError("failed to write downloaded archive", err)
	}

	ok, err := metadata.VerifyChecksum(destPath)
	if err != nil {
		return nil, NewStorageError("failed to verify archive checksum", err)
	}
	if !ok {
		os.Remove(destPath)
		return nil, NewCorruptionError("downloaded archive checksum mismatch", nil)
	}
	return metadata, nil
}

// GetMetadata downloads just the metadata object.
func (gcsp *GCSStorageProvider) GetMetadata(ctx context.Context, artifactID string) (*ArtifactMetadata, error) {
	if artifactID == "" {
		return nil, NewValidationError("artifact ID cannot be empty", nil)
	}

	objectName := gcsp.artifactObjectName(artifactID) + "/" + metadataObjectName
	reader, err := gcsp.client.Bucket(gcsp.bucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, NewNotFoundError("artifact "+artifactID+" not found", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, NewStorageError("failed to read artifact metadata", err)
	}
	metadata, err := MetadataFromJSON(data)
	if err != nil {
		return nil, err
	}
	if err := metadata.Validate(); err != nil {
		return nil, err
	}
	return metadata, nil
}

// List iterates metadata objects under the prefix.
func (gcsp *GCSStorageProvider) List(ctx context.Context, filter StorageFilter) ([]*ArtifactMetadata, error) {
	var artifacts []*ArtifactMetadata

	it := gcsp.client.Bucket(gcsp.bucketName).Objects(ctx, &storage.Query{Prefix: gcsp.prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, NewStorageError("failed to list artifacts in GCS", err)
		}

		if !strings.HasSuffix(attrs.Name, "/"+metadataObjectName) {
			continue
		}
		artifactID := gcsp.artifactIDFromObjectName(attrs.Name)
		if artifactID == "" {
			continue
		}

		metadata, err := gcsp.GetMetadata(ctx, artifactID)
		if err != nil {
			continue
		}
		if filter.Matches(metadata) {
			artifacts = append(artifacts, metadata)
		}
		if filter.MaxItems > 0 && len(artifacts) >= filter.MaxItems {
			break
		}
	}
	return artifacts, nil
}

// Delete removes every object belonging to the artifact.
func (gcsp *GCSStorageProvider) Delete(ctx context.Context, artifactID string) error {
	if artifactID == "" {
		return NewValidationError("artifact ID cannot be empty", nil)
	}

	bucket := gcsp.client.Bucket(gcsp.bucketName)
	objectPrefix := gcsp.artifactObjectName(artifactID) + "/"

	deleted := 0
	it := bucket.Objects(ctx, &storage.Query{Prefix: objectPrefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return NewStorageError("failed to list artifact objects", err)
		}
		if err := bucket.Object(attrs.Name).Delete(ctx); err != nil {
			return NewStorageError(fmt.Sprintf("failed to delete object %s", attrs.Name), err)
		}
		deleted++
	}

	if deleted == 0 {
		return NewNotFoundError("artifact "+artifactID+" not found", nil)
	}
	return nil
}

// HealthCheck verifies the bucket is reachable.
func (gcsp *GCSStorageProvider) HealthCheck(ctx context.Context) error {
	_, err := gcsp.client.Bucket(gcsp.bucketName).Attrs(ctx)
	if err != nil {
		return NewStorageError("GCS health check failed: bucket not accessible", err)
	}
	return nil
}

func (gcsp *GCSStorageProvider) artifactObjectName(artifactID string) string {
	return gcsp.prefix + sanitizeArtifactID(artifactID)
}

func (gcsp *GCSStorageProvider) artifactIDFromObjectName(objectName string) string {
	if !strings.HasPrefix(objectName, gcsp.prefix) {
		return ""
	}
	withoutPrefix := strings.TrimPrefix(objectName, gcsp.prefix)
	if !strings.HasSuffix(withoutPrefix, "/"+metadataObjectName) {
		return ""
	}
	return strings.TrimSuffix(withoutPrefix, "/"+metadataObjectName)
}
