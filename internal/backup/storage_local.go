package backup

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// LocalStorageProvider stores artifacts as directories on the local
// file system: <base>/<artifact-id>/ holding the archive file and its
// metadata.json.
type LocalStorageProvider struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalStorageProvider creates the provider and its base directory.
func NewLocalStorageProvider(config *LocalConfig) (*LocalStorageProvider, error) {
	if config == nil {
		return nil, NewValidationError("local storage configuration is required", nil)
	}
	if config.BasePath == "" {
		return nil, NewValidationError("local storage base path is required", nil)
	}

	permissions := config.Permissions
	if permissions == 0 {
		permissions = 0755
	}

	provider := &LocalStorageProvider{
		basePath:    config.BasePath,
		permissions: permissions,
	}
	if err := os.MkdirAll(provider.basePath, permissions); err != nil {
		return nil, NewStorageError("failed to create storage base directory", err)
	}
	return provider, nil
}

// Store copies the archive into the store and writes its metadata.
func (lsp *LocalStorageProvider) Store(ctx context.Context, archivePath string, metadata *ArtifactMetadata) error {
	if metadata == nil {
		return NewValidationError("artifact metadata is required", nil)
	}
	if err := metadata.Validate(); err != nil {
		return err
	}

	artifactDir := lsp.artifactDirectory(metadata.ID)
	if err := os.MkdirAll(artifactDir, lsp.permissions); err != nil {
		return NewStorageError("failed to create artifact directory", err)
	}

	target := filepath.Join(artifactDir, archiveObjectName(metadata))
	if err := copyArchiveFile(archivePath, target); err != nil {
		os.RemoveAll(artifactDir)
		return NewStorageError("failed to copy archive into store", err)
	}

	metadata.StorageLocation = artifactDir

	data, err := metadata.ToJSON()
	if err != nil {
		os.RemoveAll(artifactDir)
		return NewStorageError("failed to serialize artifact metadata", err)
	}
	if err := os.WriteFile(filepath.Join(artifactDir, metadataObjectName), data, 0644); err != nil {
		os.RemoveAll(artifactDir)
		return NewStorageError("failed to write artifact metadata", err)
	}
	return nil
}

// Retrieve copies the stored archive to destPath after verifying its
// checksum against the metadata.
func (lsp *LocalStorageProvider) Retrieve(ctx context.Context, artifactID, destPath string) (*ArtifactMetadata, error) {
	metadata, err := lsp.GetMetadata(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	stored := filepath.Join(lsp.artifactDirectory(artifactID), archiveObjectName(metadata))
	if _, err := os.Stat(stored); err != nil {
		return nil, NewStorageError("stored archive is missing", err)
	}

	ok, err := metadata.VerifyChecksum(stored)
	if err != nil {
		return nil, NewStorageError("failed to verify archive checksum", err)
	}
	if !ok {
		return nil, NewCorruptionError("stored archive checksum mismatch", nil)
	}

	if err := copyArchiveFile(stored, destPath); err != nil {
		return nil, NewStorageError("failed to copy archive out of store", err)
	}
	return metadata, nil
}

// GetMetadata loads an artifact's metadata file.
func (lsp *LocalStorageProvider) GetMetadata(ctx context.Context, artifactID string) (*ArtifactMetadata, error) {
	if artifactID == "" {
		return nil, NewValidationError("artifact ID cannot be empty", nil)
	}

	metadataPath := filepath.Join(lsp.artifactDirectory(artifactID), metadataObjectName)
	data, err := os.ReadFile(metadataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewNotFoundError("artifact "+artifactID+" not found", err)
		}
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

// List walks the store and returns matching artifacts, newest first.
func (lsp *LocalStorageProvider) List(ctx context.Context, filter StorageFilter) ([]*ArtifactMetadata, error) {
	var artifacts []*ArtifactMetadata

	err := filepath.WalkDir(lsp.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || path == lsp.basePath {
			return nil
		}

		metadataPath := filepath.Join(path, metadataObjectName)
		if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
			return nil
		}

		data, err := os.ReadFile(metadataPath)
		if err != nil {
			return nil
		}
		metadata, err := MetadataFromJSON(data)
		if err != nil {
			// A malformed entry must not hide the rest of the store.
			return filepath.SkipDir
		}

		if filter.Matches(metadata) {
			artifacts = append(artifacts, metadata)
		}
		return filepath.SkipDir
	})
	if err != nil {
		return nil, NewStorageError("failed to list artifacts", err)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
	})
	if filter.MaxItems > 0 && len(artifacts) > filter.MaxItems {
		artifacts = artifacts[:filter.MaxItems]
	}
	return artifacts, nil
}

// Delete removes an artifact directory.
func (lsp *LocalStorageProvider) Delete(ctx context.Context, artifactID string) error {
	if artifactID == "" {
		return NewValidationError("artifact ID cannot be empty", nil)
	}

	artifactDir := lsp.artifactDirectory(artifactID)
	if _, err := os.Stat(artifactDir); os.IsNotExist(err) {
		return NewNotFoundError("artifact "+artifactID+" not found", err)
	}
	if err := os.RemoveAll(artifactDir); err != nil {
		return NewStorageError("failed to delete artifact", err)
	}
	return nil
}

// HealthCheck verifies the base directory is writable.
func (lsp *LocalStorageProvider) HealthCheck(ctx context.Context) error {
	testFile := filepath.Join(lsp.basePath, ".health_check")
	if err := os.WriteFile(testFile, []byte("health_check"), 0644); err != nil {
		return NewStorageError("storage health check failed: base directory not writable", err)
	}
	os.Remove(testFile)
	return nil
}

// BasePath returns the store's root directory.
func (lsp *LocalStorageProvider) BasePath() string {
	return lsp.basePath
}

func (lsp *LocalStorageProvider) artifactDirectory(artifactID string) string {
	return filepath.Join(lsp.basePath, sanitizeArtifactID(artifactID))
}

func copyArchiveFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
