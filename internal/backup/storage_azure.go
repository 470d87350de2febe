package backup

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureStorageProvider stores artifacts in Azure Blob Storage under
// <prefix><artifact-id>/: the archive blob plus metadata.json.
type AzureStorageProvider struct {
	serviceURL    azblob.ServiceURL
	containerName string
	prefix        string
}

// NewAzureStorageProvider creates an Azure-backed artifact store.
func NewAzureStorageProvider(config *AzureConfig) (*AzureStorageProvider, error) {
	if config == nil {
		return nil, NewValidationError("Azure storage configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid Azure storage configuration", err)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, NewStorageError("failed to create Azure credentials", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, NewStorageError("failed to parse Azure service URL", err)
	}

	return &AzureStorageProvider{
		serviceURL:    azblob.NewServiceURL(*serviceURL, pipeline),
		containerName: config.ContainerName,
		prefix:        "backups/",
	}, nil
}

// Store uploads the archive and its metadata.
func (azp *AzureStorageProvider) Store(ctx context.Context, archivePath string, metadata *ArtifactMetadata) error {
	if metadata == nil {
		return NewValidationError("artifact metadata is required", nil)
	}
	if err := metadata.Validate(); err != nil {
		return err
	}

	blobName := azp.artifactBlobName(metadata.ID)
	metadata.StorageLocation = fmt.Sprintf("azure://%s/%s", azp.containerName, blobName)

	containerURL := azp.serviceURL.NewContainerURL(azp.containerName)

	f, err := os.Open(archivePath)
	if err != nil {
		return NewStorageError("failed to open archive for upload", err)
	}
	defer f.Close()

	archiveBlobURL := containerURL.NewBlockBlobURL(blobName + "/" + archiveObjectName(metadata))
	_, err = azblob.UploadFileToBlockBlob(ctx, f, archiveBlobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
		Metadata: azblob.Metadata{
			"artifact_id":   metadata.ID,
			"database_name": metadata.Database,
			"created_by":    metadata.CreatedBy,
			"compression":   metadata.Compression,
			"checksum":      metadata.Checksum,
		},
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: "application/octet-stream"},
	})
	if err != nil {
		return NewStorageError("failed to upload archive to Azure", err)
	}

	metadataData, err := metadata.ToJSON()
	if err != nil {
		return NewStorageError("failed to serialize artifact metadata", err)
	}
	metadataBlobURL := containerURL.NewBlockBlobURL(blobName + "/" + metadataObjectName)
	_, err = azblob.UploadBufferToBlockBlob(ctx, metadataData, metadataBlobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:       4 * 1024 * 1024,
		Parallelism:     16,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: "application/json"},
	})
	if err != nil {
		return NewStorageError("failed to upload metadata to Azure", err)
	}
	return nil
}

// Retrieve downloads the archive to destPath and verifies its checksum.
func (azp *AzureStorageProvider) Retrieve(ctx context.Context, artifactID, destPath string) (*ArtifactMetadata, error) {
	metadata, err := azp.GetMetadata(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	containerURL := azp.serviceURL.NewContainerURL(azp.containerName)
	blobURL := containerURL.NewBlockBlobURL(azp.artifactBlobName(artifactID) + "/" + archiveObjectName(metadata))

	downloadResponse, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to download artifact %s from Azure", artifactID), err)
	}

	bodyStream := downloadResponse.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
	defer bodyStream.Close()

	if err := writeStreamTo(bodyStream, destPath); err != nil {
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

// GetMetadata downloads just the metadata blob.
func (azp *AzureStorageProvider) GetMetadata(ctx context.Context, artifactID string) (*ArtifactMetadata, error) {
	if artifactID == "" {
		return nil, NewValidationError("artifact ID cannot be empty", nil)
	}

	containerURL := azp.serviceURL.NewContainerURL(azp.containerName)
	blobURL := containerURL.NewBlockBlobURL(azp.artifactBlobName(artifactID) + "/" + metadataObjectName)

	downloadResponse, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, NewNotFoundError("artifact "+artifactID+" not found", err)
	}

	bodyStream := downloadResponse.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
	defer bodyStream.Close()

	data, err := io.ReadAll(bodyStream)
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

// List pages through metadata blobs under the prefix.
func (azp *AzureStorageProvider) List(ctx context.Context, filter StorageFilter) ([]*ArtifactMetadata, error) {
	var artifacts []*ArtifactMetadata

	containerURL := azp.serviceURL.NewContainerURL(azp.containerName)
	for marker := (azblob.Marker{}); marker.NotDone(); {
		listResponse, err := containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: azp.prefix,
		})
		if err != nil {
			return nil, NewStorageError("failed to list artifacts in Azure", err)
		}

		for _, blob := range listResponse.Segment.BlobItems {
			if !strings.HasSuffix(blob.Name, "/"+metadataObjectName) {
				continue
			}
			artifactID := azp.artifactIDFromBlobName(blob.Name)
			if artifactID == "" {
				continue
			}

			metadata, err := azp.GetMetadata(ctx, artifactID)
			if err != nil {
				continue
			}
			if filter.Matches(metadata) {
				artifacts = append(artifacts, metadata)
			}
			if filter.MaxItems > 0 && len(artifacts) >= filter.MaxItems {
				return artifacts, nil
			}
		}
		marker = listResponse.NextMarker
	}
	return artifacts, nil
}

// Delete removes every blob belonging to the artifact.
func (azp *AzureStorageProvider) Delete(ctx context.Context, artifactID string) error {
	if artifactID == "" {
		return NewValidationError("artifact ID cannot be empty", nil)
	}

	containerURL := azp.serviceURL.NewContainerURL(azp.containerName)
	blobPrefix := azp.artifactBlobName(artifactID) + "/"

	var blobsToDelete []string
	for marker := (azblob.Marker{}); marker.NotDone(); {
		listResponse, err := containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: blobPrefix,
		})
		if err != nil {
			return NewStorageError("failed to list artifact blobs", err)
		}
		for _, blob := range listResponse.Segment.BlobItems {
			blobsToDelete = append(blobsToDelete, blob.Name)
		}
		marker = listResponse.NextMarker
	}

	if len(blobsToDelete) == 0 {
		return NewNotFoundError("artifact "+artifactID+" not found", nil)
	}

	for _, blobName := range blobsToDelete {
		blobURL := containerURL.NewBlockBlobURL(blobName)
		if _, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{}); err != nil {
			return NewStorageError(fmt.Sprintf("failed to delete blob %s", blobName), err)
		}
	}
	return nil
}

// HealthCheck verifies the container is reachable.
func (azp *AzureStorageProvider) HealthCheck(ctx context.Context) error {
	containerURL := azp.serviceURL.NewContainerURL(azp.containerName)
	_, err := containerURL.ListBlobsFlatSegment(ctx, azblob.Marker{}, azblob.ListBlobsSegmentOptions{
		Prefix:     azp.prefix,
		MaxResults: 1,
	})
	if err != nil {
		return NewStorageError("Azure health check failed: container not accessible", err)
	}
	return nil
}

func (azp *AzureStorageProvider) artifactBlobName(artifactID string) string {
	return azp.prefix + sanitizeArtifactID(artifactID)
}

func (azp *AzureStorageProvider) artifactIDFromBlobName(blobName string) string {
	if !strings.HasPrefix(blobName, azp.prefix) {
		return ""
	}
	withoutPrefix := strings.TrimPrefix(blobName, azp.prefix)
	if !strings.HasSuffix(withoutPrefix, "/"+metadataObjectName) {
		return ""
	}
	return strings.TrimSuffix(withoutPrefix, "/"+metadataObjectName)
}
