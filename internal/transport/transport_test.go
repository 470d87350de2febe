package transport

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalTransportPullMergesIntoExisting(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(src, "aa"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "aa", "new"), []byte("new"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "preexisting"), []byte("keep"), 0644))

	local := NewLocal()
	require.NoError(t, local.PullTree(context.Background(), src, dst))

	content, err := os.ReadFile(filepath.Join(dst, "aa", "new"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))

	kept, err := os.ReadFile(filepath.Join(dst, "preexisting"))
	require.NoError(t, err)
	assert.Equal(t, "keep", string(kept), "existing destination entries survive a merge copy")
}

func TestLocalTransportExistsAndList(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x"), nil, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "y"), 0755))

	local := NewLocal()
	ctx := context.Background()

	ok, err := local.Exists(ctx, dir)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = local.Exists(ctx, filepath.Join(dir, "absent"))
	require.NoError(t, err)
	assert.False(t, ok)

	names, err := local.ListDir(ctx, dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x", "y"}, names)
}

func TestLocalTransportRemoveAndRename(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "tree")
	require.NoError(t, os.MkdirAll(filepath.Join(sub, "aa"), 0755))

	local := NewLocal()
	ctx := context.Background()

	moved := filepath.Join(dir, "tree2")
	require.NoError(t, local.Rename(ctx, sub, moved))
	ok, _ := local.Exists(ctx, moved)
	assert.True(t, ok)

	require.NoError(t, local.RemoveTree(ctx, moved))
	ok, _ = local.Exists(ctx, moved)
	assert.False(t, ok)
}

// flakyTransport fails the first N pulls of each shard.
type flakyTransport struct {
	*LocalTransport
	failuresLeft map[string]int
	authFail     bool
	attempts     int
}

func (f *flakyTransport) PullTree(ctx context.Context, remotePath, localPath string) error {
	f.attempts++
	if f.authFail {
		return &AuthError{Host: "remote", Cause: errors.New("ssh: unable to authenticate")}
	}
	shard := filepath.Base(remotePath)
	if f.failuresLeft[shard] > 0 {
		f.failuresLeft[shard]--
		return &IOError{Op: "pull", Path: remotePath, Cause: errors.New("connection reset")}
	}
	return f.LocalTransport.PullTree(ctx, remotePath, localPath)
}

func TestPullShardsRetriesTransientErrors(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	for _, shard := range []string{"aa", "ab"} {
		require.NoError(t, os.MkdirAll(filepath.Join(src, shard), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(src, shard, "f"), []byte(shard), 0644))
	}

	flaky := &flakyTransport{
		LocalTransport: NewLocal(),
		failuresLeft:   map[string]int{"aa": 2},
	}

	err := PullShards(context.Background(), flaky, src, dst, []string{"aa", "ab"})
	require.NoError(t, err)

	for _, shard := range []string{"aa", "ab"} {
		content, err := os.ReadFile(filepath.Join(dst, shard, "f"))
		require.NoError(t, err)
		assert.Equal(t, shard, string(content))
	}
	assert.Equal(t, 4, flaky.attempts, "two failures, one success for aa, one for ab")
}

func TestPullShardsGivesUpAfterBoundedRetries(t *testing.T) {
	flaky := &flakyTransport{
		LocalTransport: NewLocal(),
		failuresLeft:   map[string]int{"aa": 10},
	}

	err := PullShards(context.Background(), flaky, t.TempDir(), t.TempDir(), []string{"aa"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, flaky.attempts)
}

func TestPullShardsNeverRetriesAuthErrors(t *testing.T) {
	flaky := &flakyTransport{
		LocalTransport: NewLocal(),
		authFail:       true,
	}

	err := PullShards(context.Background(), flaky, t.TempDir(), t.TempDir(), []string{"aa"})
	require.Error(t, err)

	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
	assert.Equal(t, 1, flaky.attempts)
}

func TestBuildRsyncArgs(t *testing.T) {
	args := buildRsyncArgs("ssh -p 2222 -o StrictHostKeyChecking=no -i /k", "user@host:/src/", "/dst/")
	assert.Equal(t, []string{
		"-az", "--delete-after",
		"-e", "ssh -p 2222 -o StrictHostKeyChecking=no -i /k",
		"user@host:/src/", "/dst/",
	}, args)
}

func TestRemoteTarCommands(t *testing.T) {
	assert.Equal(t, "tar -C '/var/lib/odoo/filestore/demo' -cf - .",
		remoteTarCreateCommand("/var/lib/odoo/filestore/demo"))
	assert.Equal(t, "mkdir -p '/tmp/stage' && tar -C '/tmp/stage' -xf -",
		remoteTarExtractCommand("/tmp/stage"))
}

func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'/tmp/o'\''brien'`, shellQuote("/tmp/o'brien"))
}

func TestTarStreamRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "aa"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "aa", "blob"), []byte("payload"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(src, "top"), []byte("root file"), 0644))

	var buf bytes.Buffer
	require.NoError(t, writeTarStream(context.Background(), src, &buf))

	dst := t.TempDir()
	require.NoError(t, extractTarStream(context.Background(), &buf, dst))

	content, err := os.ReadFile(filepath.Join(dst, "aa", "blob"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))

	info, err := os.Stat(filepath.Join(dst, "aa", "blob"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	content, err = os.ReadFile(filepath.Join(dst, "top"))
	require.NoError(t, err)
	assert.Equal(t, "root file", string(content))
}

func TestExtractTarStreamRejectsEscapes(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../evil", Mode: 0644, Size: 1}))
	_, err := tw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	err = extractTarStream(context.Background(), &buf, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes destination")
}
