// Package transport abstracts file tree movement between the local host
// and the machine holding an application instance. The database is never
// moved through a transport; PostgreSQL client tools connect directly.
package transport

import (
	"context"
	"fmt"
	"time"
)

// Transport moves directory trees between the orchestrator host and an
// instance host.
type Transport interface {
	// Kind identifies the implementation ("local" or "ssh").
	Kind() string
	// Exists reports whether a path exists on the instance host.
	Exists(ctx context.Context, path string) (bool, error)
	// ListDir returns the entry names of a directory on the instance host.
	ListDir(ctx context.Context, path string) ([]string, error)
	// PullTree copies a directory tree from the instance host to a local path.
	PullTree(ctx context.Context, remotePath, localPath string) error
	// PushTree copies a local directory tree to a path on the instance host.
	PushTree(ctx context.Context, localPath, remotePath string) error
	// RemoveTree deletes a directory tree on the instance host.
	RemoveTree(ctx context.Context, path string) error
	// Rename moves a path on the instance host.
	Rename(ctx context.Context, oldPath, newPath string) error
	// Close releases any held connections.
	Close() error
}

// AuthError indicates the transport could not authenticate.
type AuthError struct {
	Host  string
	Cause error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("transport authentication failed for %s: %v", e.Host, e.Cause)
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

// TimeoutError indicates a transfer or connection attempt timed out.
type TimeoutError struct {
	Op    string
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transport timeout during %s: %v", e.Op, e.Cause)
}

func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// IOError covers transfer failures that are neither auth nor timeout.
type IOError struct {
	Op    string
	Path  string
	Cause error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("transport %s failed for %s: %v", e.Op, e.Path, e.Cause)
}

func (e *IOError) Unwrap() error {
	return e.Cause
}

// shardRetryAttempts bounds per-shard transfer retries on transient errors.
const shardRetryAttempts = 3

// PullShards copies the named shard directories one at a time, retrying
// each a bounded number of times on transient failures. Auth errors are
// never retried.
func PullShards(ctx context.Context, t Transport, remoteRoot, localRoot string, shards []string) error {
	for _, shard := range shards {
		remote := remoteRoot + "/" + shard
		local := localRoot + "/" + shard

		var lastErr error
		for attempt := 1; attempt <= shardRetryAttempts; attempt++ {
			lastErr = t.PullTree(ctx, remote, local)
			if lastErr == nil {
				break
			}
			if _, ok := lastErr.(*AuthError); ok {
				return lastErr
			}
			if attempt < shardRetryAttempts {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(attempt) * time.Second):
				}
			}
		}
		if lastErr != nil {
			return fmt.Errorf("shard %s failed after %d attempts: %w", shard, shardRetryAttempts, lastErr)
		}
	}
	return nil
}
