// Package archive packs a database dump and a filestore tree into a
// single compressed tar file and unpacks it again. The layout is:
//
//	metadata.json          manifest, always the first entry
//	dump.sql               plain-format database dump, if present
//	filestore/<shard>/...  content-addressed attachment tree, if present
package archive

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"odoo-backup-tool/internal/filestore"
	"odoo-backup-tool/internal/logging"
)

// CurrentFormatVersion is the archive layout version this build writes
// and accepts.
const CurrentFormatVersion = 1

const (
	manifestName  = "metadata.json"
	dumpName      = "dump.sql"
	filestorePref = "filestore/"
)

// Metadata is the archive manifest.
type Metadata struct {
	FormatVersion int       `json:"format_version"`
	BackupID      string    `json:"backup_id"`
	Database      string    `json:"database"`
	CreatedAt     time.Time `json:"created_at"`
	HasDatabase   bool      `json:"has_database"`
	HasFilestore  bool      `json:"has_filestore"`
	ShardCount    int       `json:"shard_count"`
	FileCount     int       `json:"file_count"`
	Compression   string    `json:"compression"`
	ToolVersion   string    `json:"tool_version"`
}

// PackOptions describes one archive to write.
type PackOptions struct {
	OutputPath    string
	Metadata      Metadata
	DumpPath      string // empty when the backup is filestore-only
	FilestoreRoot string // empty when the backup is database-only
	Format        Format
	Level         int
}

// UnpackResult reports what an archive contained and where it landed.
type UnpackResult struct {
	Metadata      *Metadata
	DumpPath      string // empty if the archive had no database
	FilestoreRoot string // empty if the archive had no filestore
}

// Codec packs and unpacks instance archives.
type Codec struct {
	logger *logging.Logger
}

// NewCodec creates an archive codec.
func NewCodec(logger *logging.Logger) *Codec {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Codec{logger: logger}
}

// Pack writes the archive described by opts. The manifest is always the
// first tar entry so readers can validate before extracting payload.
func (c *Codec) Pack(ctx context.Context, opts PackOptions) error {
	start := time.Now()

	opts.Metadata.FormatVersion = CurrentFormatVersion
	opts.Metadata.Compression = string(opts.Format)
	opts.Metadata.HasDatabase = opts.DumpPath != ""
	opts.Metadata.HasFilestore = opts.FilestoreRoot != ""

	out, err := os.Create(opts.OutputPath)
	if err != nil {
		return fmt.Errorf("creating archive %s: %w", opts.OutputPath, err)
	}

	err = c.packInto(ctx, out, opts)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(opts.OutputPath)
	}

	size := int64(0)
	if info, statErr := os.Stat(opts.OutputPath); statErr == nil {
		size = info.Size()
	}
	c.logger.LogArchiveOperation("pack", opts.OutputPath, size, string(opts.Format), time.Since(start), err)
	return err
}

func (c *Codec) packInto(ctx context.Context, out io.Writer, opts PackOptions) error {
	cw, err := compressWriter(out, opts.Format, opts.Level)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(cw)

	manifest, err := json.MarshalIndent(opts.Metadata, "", "  ")
	if err != nil {
		return err
	}
	if err := writeTarFile(tw, manifestName, manifest, 0644); err != nil {
		return err
	}

	if opts.DumpPath != "" {
		if err := addFileEntry(ctx, tw, opts.DumpPath, dumpName); err != nil {
			return fmt.Errorf("adding database dump: %w", err)
		}
	}

	if opts.FilestoreRoot != "" {
		if err := addFilestoreEntries(ctx, tw, opts.FilestoreRoot); err != nil {
			return fmt.Errorf("adding filestore: %w", err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return cw.Close()
}

// Inspect reads just the manifest of an archive.
func (c *Codec) Inspect(archivePath string) (*Metadata, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, &FormatError{Path: archivePath, Reason: "cannot open", Cause: err}
	}
	defer f.Close()

	_, meta, _, cleanup, err := c.openArchive(archivePath, f)
	if cleanup != nil {
		defer cleanup()
	}
	return meta, err
}

// Unpack extracts an archive into destDir. The dump lands at
// destDir/dump.sql and the filestore under destDir/filestore/. The
// manifest is validated before any payload is written, so a malformed
// archive leaves destDir untouched.
func (c *Codec) Unpack(ctx context.Context, archivePath, destDir string) (*UnpackResult, error) {
	start := time.Now()

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, &FormatError{Path: archivePath, Reason: "cannot open", Cause: err}
	}
	defer f.Close()

	format, meta, tr, cleanup, err := c.openArchive(archivePath, f)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, err
	}

	result := &UnpackResult{Metadata: meta}
	fileCount := 0

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &FormatError{Path: archivePath, Reason: "truncated or corrupt tar stream", Cause: err}
		}

		name := filepath.Clean(header.Name)
		if strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			return nil, &FormatError{Path: archivePath, Reason: fmt.Sprintf("entry escapes destination: %s", header.Name)}
		}

		switch {
		case name == dumpName:
			target := filepath.Join(destDir, dumpName)
			if err := extractRegular(tr, header, target); err != nil {
				return nil, &FormatError{Path: archivePath, Reason: "extracting database dump", Cause: err}
			}
			result.DumpPath = target
		case strings.HasPrefix(name, filestorePref):
			rel := strings.TrimPrefix(name, filestorePref)
			if rel == "" {
				continue
			}
			target := filepath.Join(destDir, "filestore", rel)
			switch header.Typeflag {
			case tar.TypeDir:
				if err := os.MkdirAll(target, os.FileMode(header.Mode).Perm()); err != nil {
					return nil, err
				}
			case tar.TypeReg:
				if err := extractRegular(tr, header, target); err != nil {
					return nil, &FormatError{Path: archivePath, Reason: "extracting filestore entry", Cause: err}
				}
				fileCount++
			}
			result.FilestoreRoot = filepath.Join(destDir, "filestore")
		default:
			// Unknown entries are tolerated for forward compatibility.
		}
	}

	if meta.HasDatabase && result.DumpPath == "" {
		return nil, &FormatError{Path: archivePath, Reason: "manifest promises a database dump but none was found"}
	}
	if meta.HasFilestore && result.FilestoreRoot == "" {
		return nil, &FormatError{Path: archivePath, Reason: "manifest promises a filestore but none was found"}
	}

	c.logger.LogArchiveOperation("unpack", archivePath, int64(fileCount), string(format), time.Since(start), nil)
	return result, nil
}

// openArchive detects compression, opens the tar stream, and reads the
// manifest, which must be the first entry.
func (c *Codec) openArchive(archivePath string, f io.Reader) (Format, *Metadata, *tar.Reader, func(), error) {
	format, reader, err := DetectFormat(f)
	if err != nil {
		return "", nil, nil, nil, &FormatError{Path: archivePath, Reason: "cannot read header", Cause: err}
	}

	plain, cleanup, err := decompressReader(reader, format)
	if err != nil {
		return "", nil, nil, nil, &FormatError{Path: archivePath, Reason: "cannot open compressed stream", Cause: err}
	}

	tr := tar.NewReader(plain)
	header, err := tr.Next()
	if err != nil {
		return "", nil, nil, cleanup, &FormatError{Path: archivePath, Reason: "not a tar archive", Cause: err}
	}
	if filepath.Clean(header.Name) != manifestName {
		return "", nil, nil, cleanup, &FormatError{Path: archivePath, Reason: "manifest is not the first entry"}
	}

	raw, err := io.ReadAll(io.LimitReader(tr, 1<<20))
	if err != nil {
		return "", nil, nil, cleanup, &FormatError{Path: archivePath, Reason: "truncated manifest", Cause: err}
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", nil, nil, cleanup, &FormatError{Path: archivePath, Reason: "malformed manifest", Cause: err}
	}
	if meta.FormatVersion != CurrentFormatVersion {
		return "", nil, nil, cleanup, &FormatError{
			Path:   archivePath,
			Reason: fmt.Sprintf("unsupported layout version %d (want %d)", meta.FormatVersion, CurrentFormatVersion),
		}
	}

	return format, &meta, tr, cleanup, nil
}

func writeTarFile(tw *tar.Writer, name string, content []byte, mode int64) error {
	if err := tw.WriteHeader(&tar.Header{
		Name:    name,
		Mode:    mode,
		Size:    int64(len(content)),
		ModTime: time.Now(),
	}); err != nil {
		return err
	}
	_, err := tw.Write(content)
	return err
}

func addFileEntry(ctx context.Context, tw *tar.Writer, path, name string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    name,
		Mode:    int64(info.Mode().Perm()),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// addFilestoreEntries walks the shard directories only; stray files at
// the root of the tree are not part of the backup contract.
func addFilestoreEntries(ctx context.Context, tw *tar.Writer, root string) error {
	tree, err := filestore.Open(root)
	if err != nil {
		return err
	}
	shards, err := tree.Shards()
	if err != nil {
		return err
	}

	for _, shard := range shards {
		shardDir := filepath.Join(root, shard)
		err := filepath.WalkDir(shardDir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			name := filestorePref + filepath.ToSlash(rel)

			info, err := d.Info()
			if err != nil {
				return err
			}

			if d.IsDir() {
				return tw.WriteHeader(&tar.Header{
					Name:     name + "/",
					Typeflag: tar.TypeDir,
					Mode:     int64(info.Mode().Perm()),
					ModTime:  info.ModTime(),
				})
			}
			if !d.Type().IsRegular() {
				return nil
			}
			return addFileEntry(ctx, tw, path, name)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func extractRegular(tr *tar.Reader, header *tar.Header, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode).Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, tr); err != nil {
		f.Close()
		os.Remove(target)
		return err
	}
	return f.Close()
}
