package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3StorageProvider stores artifacts in Amazon S3 under
// <prefix><artifact-id>/: the archive object plus metadata.json.
type S3StorageProvider struct {
	client *s3.S3
	bucket string
	prefix string
}

// NewS3StorageProvider creates an S3-backed artifact store.
func NewS3StorageProvider(config *S3Config) (*S3StorageProvider, error) {
	if config == nil {
		return nil, NewValidationError("S3 storage configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid S3 storage configuration", err)
	}

	awsConfig := &aws.Config{Region: aws.String(config.Region)}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, NewStorageError("failed to create AWS session", err)
	}

	return &S3StorageProvider{
		client: s3.New(sess),
		bucket: config.Bucket,
		prefix: "backups/",
	}, nil
}

// Store uploads the archive and its metadata.
func (s3p *S3StorageProvider) Store(ctx context.Context, archivePath string, metadata *ArtifactMetadata) error {
	if metadata == nil {
		return NewValidationError("artifact metadata is required", nil)
	}
	if err := metadata.Validate(); err != nil {
		return err
	}

	objectKey := s3p.artifactKey(metadata.ID)
	metadata.StorageLocation = fmt.Sprintf("s3://%s/%s", s3p.bucket, objectKey)

	f, err := os.Open(archivePath)
	if err != nil {
		return NewStorageError("failed to open archive for upload", err)
	}
	defer f.Close()

	_, err = s3p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s3p.bucket),
		Key:         aws.String(objectKey + "/" + archiveObjectName(metadata)),
		Body:        f,
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]*string{
			"artifact-id":   aws.String(metadata.ID),
			"database-name": aws.String(metadata.Database),
			"created-by":    aws.String(metadata.CreatedBy),
			"compression":   aws.String(metadata.Compression),
			"checksum":      aws.String(metadata.Checksum),
		},
	})
	if err != nil {
		return NewStorageError("failed to upload archive to S3", err)
	}

	metadataData, err := metadata.ToJSON()
	if err != nil {
		return NewStorageError("failed to serialize artifact metadata", err)
	}
	_, err = s3p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s3p.bucket),
		Key:         aws.String(objectKey + "/" + metadataObjectName),
		Body:        bytes.NewReader(metadataData),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return NewStorageError("failed to upload metadata to S3", err)
	}
	return nil
}

// Retrieve downloads the archive to destPath and verifies its checksum.
func (s3p *S3StorageProvider) Retrieve(ctx context.Context, artifactID, destPath string) (*ArtifactMetadata, error) {
	metadata, err := s3p.GetMetadata(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	objectKey := s3p.artifactKey(artifactID) + "/" + archiveObjectName(metadata)
	result, err := s3p.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s3p.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to download artifact %s from S3", artifactID), err)
	}
	defer result.Body.Close()

	if err := writeStreamTo(result.Body, destPath); err != nil {
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
func (s3p *S3StorageProvider) GetMetadata(ctx context.Context, artifactID string) (*ArtifactMetadata, error) {
	if artifactID == "" {
		return nil, NewValidationError("artifact ID cannot be empty", nil)
	}

	objectKey := s3p.artifactKey(artifactID) + "/" + metadataObjectName
	result, err := s3p.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s3p.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, NewNotFoundError("artifact "+artifactID+" not found", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
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

// List pages through metadata objects under the prefix.
func (s3p *S3StorageProvider) List(ctx context.Context, filter StorageFilter) ([]*ArtifactMetadata, error) {
	var artifacts []*ArtifactMetadata

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s3p.bucket),
		Prefix: aws.String(s3p.prefix),
	}

	err := s3p.client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				if !strings.HasSuffix(*obj.Key, "/"+metadataObjectName) {
					continue
				}
				artifactID := s3p.artifactIDFromKey(*obj.Key)
				if artifactID == "" {
					continue
				}

				metadata, err := s3p.GetMetadata(ctx, artifactID)
				if err != nil {
					continue
				}
				if filter.Matches(metadata) {
					artifacts = append(artifacts, metadata)
				}
				if filter.MaxItems > 0 && len(artifacts) >= filter.MaxItems {
					return false
				}
			}
			return true
		})
	if err != nil {
		return nil, NewStorageError("failed to list artifacts in S3", err)
	}
	return artifacts, nil
}

// Delete removes every object belonging to the artifact.
func (s3p *S3StorageProvider) Delete(ctx context.Context, artifactID string) error {
	if artifactID == "" {
		return NewValidationError("artifact ID cannot be empty", nil)
	}

	objectPrefix := s3p.artifactKey(artifactID)
	listResult, err := s3p.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s3p.bucket),
		Prefix: aws.String(objectPrefix + "/"),
	})
	if err != nil {
		return NewStorageError("failed to list artifact objects", err)
	}
	if len(listResult.Contents) == 0 {
		return NewNotFoundError("artifact "+artifactID+" not found", nil)
	}

	var objectsToDelete []*s3.ObjectIdentifier
	for _, obj := range listResult.Contents {
		objectsToDelete = append(objectsToDelete, &s3.ObjectIdentifier{Key: obj.Key})
	}
	_, err = s3p.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s3p.bucket),
		Delete: &s3.Delete{Objects: objectsToDelete},
	})
	if err != nil {
		return NewStorageError("failed to delete artifact objects from S3", err)
	}
	return nil
}

// HealthCheck verifies the bucket is reachable and listable.
func (s3p *S3StorageProvider) HealthCheck(ctx context.Context) error {
	_, err := s3p.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s3p.bucket),
	})
	if err != nil {
		return NewStorageError("S3 health check failed: bucket not accessible", err)
	}

	_, err = s3p.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s3p.bucket),
		Prefix:  aws.String(s3p.prefix),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return NewStorageError("S3 health check failed: cannot list objects", err)
	}
	return nil
}

func (s3p *S3StorageProvider) artifactKey(artifactID string) string {
	return s3p.prefix + sanitizeArtifactID(artifactID)
}

func (s3p *S3StorageProvider) artifactIDFromKey(objectKey string) string {
	if !strings.HasPrefix(objectKey, s3p.prefix) {
		return ""
	}
	withoutPrefix := strings.TrimPrefix(objectKey, s3p.prefix)
	if !strings.HasSuffix(withoutPrefix, "/"+metadataObjectName) {
		return ""
	}
	return strings.TrimSuffix(withoutPrefix, "/"+metadataObjectName)
}

func writeStreamTo(r io.Reader, destPath string) error {
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(destPath)
		return err
	}
	return out.Close()
}
