package transport

import (
	"context"
	"os"

	"odoo-backup-tool/internal/filestore"
)

// LocalTransport serves instances living on the same host as the
// orchestrator. Tree copies merge into existing destinations.
type LocalTransport struct{}

// NewLocal returns a transport for same-host instances.
func NewLocal() *LocalTransport {
	return &LocalTransport{}
}

func (l *LocalTransport) Kind() string {
	return "local"
}

func (l *LocalTransport) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &IOError{Op: "stat", Path: path, Cause: err}
}

func (l *LocalTransport) ListDir(_ context.Context, path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, &IOError{Op: "list", Path: path, Cause: err}
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

func (l *LocalTransport) PullTree(_ context.Context, remotePath, localPath string) error {
	if err := filestore.CopyDir(remotePath, localPath); err != nil {
		return &IOError{Op: "pull", Path: remotePath, Cause: err}
	}
	return nil
}

func (l *LocalTransport) PushTree(_ context.Context, localPath, remotePath string) error {
	if err := filestore.CopyDir(localPath, remotePath); err != nil {
		return &IOError{Op: "push", Path: remotePath, Cause: err}
	}
	return nil
}

func (l *LocalTransport) RemoveTree(_ context.Context, path string) error {
	if err := os.RemoveAll(path); err != nil {
		return &IOError{Op: "remove", Path: path, Cause: err}
	}
	return nil
}

func (l *LocalTransport) Rename(_ context.Context, oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return &IOError{Op: "rename", Path: oldPath, Cause: err}
	}
	return nil
}

func (l *LocalTransport) Close() error {
	return nil
}
