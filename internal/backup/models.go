package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/user"
	"time"

	"github.com/google/uuid"
)

// ArtifactMetadata describes one stored backup archive.
type ArtifactMetadata struct {
	ID              string            `json:"id"`
	Database        string            `json:"database"`
	Mode            Mode              `json:"mode"`
	CreatedAt       time.Time         `json:"created_at"`
	CreatedBy       string            `json:"created_by"`
	Description     string            `json:"description"`
	Tags            map[string]string `json:"tags,omitempty"`
	Size            int64             `json:"size"`
	Compression     string            `json:"compression"`
	Encrypted       bool              `json:"encrypted"`
	ShardCount      int               `json:"shard_count"`
	FileCount       int               `json:"file_count"`
	StorageLocation string            `json:"storage_location"`
	Checksum        string            `json:"checksum"`
	Status          ArtifactStatus    `json:"status"`
}

// GenerateArtifactID creates a unique, sortable artifact identifier.
func GenerateArtifactID() string {
	timestamp := time.Now().Format("20060102-150405")
	suffix := uuid.New().String()[:8]
	return fmt.Sprintf("backup-%s-%s", timestamp, suffix)
}

// CurrentUser returns the invoking OS user, for the created_by field.
func CurrentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

// Validate checks that the metadata is complete enough to store.
func (m *ArtifactMetadata) Validate() error {
	var errs ValidationErrors
	if m.ID == "" {
		errs.Add("id", "artifact ID is required", nil)
	}
	if m.Database == "" {
		errs.Add("database", "database name is required", nil)
	}
	if m.CreatedAt.IsZero() {
		errs.Add("created_at", "creation timestamp is required", nil)
	}
	switch m.Mode {
	case ModeFull, ModeDatabaseOnly, ModeFilestoreOnly:
	default:
		errs.Add("mode", "unknown backup mode", m.Mode)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ToJSON serializes the metadata.
func (m *ArtifactMetadata) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// MetadataFromJSON deserializes artifact metadata.
func MetadataFromJSON(data []byte) (*ArtifactMetadata, error) {
	var meta ArtifactMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, NewValidationError("failed to parse artifact metadata", err)
	}
	return &meta, nil
}

// ChecksumFile computes the SHA-256 of an archive file.
func ChecksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum recomputes the archive checksum and compares.
func (m *ArtifactMetadata) VerifyChecksum(archivePath string) (bool, error) {
	if m.Checksum == "" {
		return false, NewValidationError("artifact has no recorded checksum", nil)
	}
	actual, err := ChecksumFile(archivePath)
	if err != nil {
		return false, err
	}
	return actual == m.Checksum, nil
}
