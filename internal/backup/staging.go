package backup

import (
	"fmt"
	"os"
	"path/filepath"
)

// StagingArea is the scratch directory a restore extracts into before
// anything touches the live instance. It is destroyed on every exit
// path, success or failure.
type StagingArea struct {
	Dir       string
	destroyed bool
}

// NewStagingArea creates a fresh staging directory under baseDir, or
// under the system temp directory when baseDir is empty.
func NewStagingArea(baseDir string) (*StagingArea, error) {
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, 0755); err != nil {
			return nil, NewFilestoreError("creating staging base directory", err)
		}
	}
	dir, err := os.MkdirTemp(baseDir, "restore-staging-")
	if err != nil {
		return nil, NewFilestoreError("creating staging directory", err)
	}
	return &StagingArea{Dir: dir}, nil
}

// Path joins elements onto the staging directory.
func (s *StagingArea) Path(elem ...string) string {
	return filepath.Join(append([]string{s.Dir}, elem...)...)
}

// Destroy removes the staging directory and everything in it. Calling
// it more than once is harmless.
func (s *StagingArea) Destroy() error {
	if s.destroyed {
		return nil
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		return fmt.Errorf("removing staging directory %s: %w", s.Dir, err)
	}
	s.destroyed = true
	return nil
}
