// Package filestore handles the content-addressable attachment tree that
// accompanies a database. Files live under two-hex-digit shard
// directories named by the leading byte of their content hash; the root
// directory is named after the owning database.
package filestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// shardPattern matches the shard directory names the application writes.
var shardPattern = regexp.MustCompile(`^[0-9a-f]{2}$`)

// Tree represents a filestore root on the local filesystem.
type Tree struct {
	Root string
}

// ResolveRoot locates the filestore root for a database under a base
// path, following the layout conventions deployments actually use:
// the base may already point at the database's root, at the shared
// "filestore" directory, or at the data directory above it.
func ResolveRoot(base, database string) string {
	base = filepath.Clean(base)
	if filepath.Base(base) == database {
		return base
	}
	if strings.Contains(filepath.Base(base), "filestore") {
		return filepath.Join(base, database)
	}
	return filepath.Join(base, "filestore", database)
}

// Open returns a Tree for an existing filestore root.
func Open(root string) (*Tree, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("filestore root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("filestore root %s is not a directory", root)
	}
	return &Tree{Root: root}, nil
}

// Exists reports whether a filestore root is present.
func Exists(root string) bool {
	info, err := os.Stat(root)
	return err == nil && info.IsDir()
}

// IsShardName reports whether name is a valid shard directory name.
func IsShardName(name string) bool {
	return shardPattern.MatchString(name)
}

// Shards returns the sorted shard directory names under the root. The
// enumeration is exhaustive: every directory matching the shard pattern
// is included, and nothing else.
func (t *Tree) Shards() ([]string, error) {
	entries, err := os.ReadDir(t.Root)
	if err != nil {
		return nil, fmt.Errorf("reading filestore root %s: %w", t.Root, err)
	}

	var shards []string
	for _, entry := range entries {
		if entry.IsDir() && IsShardName(entry.Name()) {
			shards = append(shards, entry.Name())
		}
	}
	sort.Strings(shards)
	return shards, nil
}

// FileCount walks the shard directories and counts regular files.
func (t *Tree) FileCount() (int, error) {
	shards, err := t.Shards()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, shard := range shards {
		err := filepath.WalkDir(filepath.Join(t.Root, shard), func(_ string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				count++
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return count, nil
}

// Size walks the shard directories and sums regular file sizes.
func (t *Tree) Size() (int64, error) {
	shards, err := t.Shards()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, shard := range shards {
		err := filepath.WalkDir(filepath.Join(t.Root, shard), func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				info, err := d.Info()
				if err != nil {
					return err
				}
				total += info.Size()
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// SnapshotTo copies every shard directory into destRoot, creating it if
// needed. The copy is complete or it fails; shard enumeration happens
// once up front so concurrent writers cannot shrink the set mid-copy.
func (t *Tree) SnapshotTo(destRoot string) error {
	shards, err := t.Shards()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(destRoot, 0755); err != nil {
		return fmt.Errorf("creating snapshot root %s: %w", destRoot, err)
	}

	for _, shard := range shards {
		src := filepath.Join(t.Root, shard)
		dst := filepath.Join(destRoot, shard)
		if err := CopyDir(src, dst); err != nil {
			return fmt.Errorf("copying shard %s: %w", shard, err)
		}
	}
	return nil
}

// RenameRoot renames a detached filestore root in place, remapping its
// database identity. Callers must only pass staging copies; the live
// tree is never renamed.
func RenameRoot(stagingRoot, newDatabase string) (string, error) {
	parent := filepath.Dir(stagingRoot)
	newRoot := filepath.Join(parent, newDatabase)
	if stagingRoot == newRoot {
		return newRoot, nil
	}
	if err := os.Rename(stagingRoot, newRoot); err != nil {
		return "", fmt.Errorf("renaming staged filestore for %s: %w", newDatabase, err)
	}
	return newRoot, nil
}

// MoveAside renames an existing live root out of the way before a new
// tree is promoted into its place. Returns the backup path.
func MoveAside(root string) (string, error) {
	bak := fmt.Sprintf("%s.bak.%s", root, time.Now().Format("20060102150405"))
	if err := os.Rename(root, bak); err != nil {
		return "", fmt.Errorf("moving aside existing filestore %s: %w", root, err)
	}
	return bak, nil
}

// CopyDir recursively copies a directory tree, preserving file modes.
func CopyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		}
		if !d.Type().IsRegular() {
			// Symlinks and specials do not occur in content-addressed
			// trees; skip rather than fail.
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
