package vault

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martijn/vmvault/internal/core/domain"
)

func newMemTarget(t *testing.T) (*FilesystemTarget, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/vault/a", 0o755))
	return NewLocalTarget("a", "/vault/a", 1000, fs), fs
}

func TestFilesystemTargetPutGetList(t *testing.T) {
	ctx := context.Background()
	target, _ := newMemTarget(t)

	require.NoError(t, target.Put(ctx, "workload_w1/workload_db", strings.NewReader(`{"id":"w1"}`)))
	require.NoError(t, target.Put(ctx, "workload_w1/snapshot_s1/snapshot_db", strings.NewReader(`{}`)))
	require.NoError(t, target.Put(ctx, "workload_w10/workload_db", strings.NewReader(`{}`)))

	data, err := target.Get(ctx, "workload_w1/workload_db")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"w1"}`, string(data))

	keys, err := target.List(ctx, "workload_w1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"workload_w1/snapshot_s1/snapshot_db", "workload_w1/workload_db"}, keys)

	keys, err = target.List(ctx, "workload_")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	info, err := target.Stat(ctx, "workload_w1/workload_db")
	require.NoError(t, err)
	assert.Equal(t, int64(len(`{"id":"w1"}`)), info.Size)

	_, err = target.Get(ctx, "workload_w2/workload_db")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFilesystemTargetDeletePrefix(t *testing.T) {
	ctx := context.Background()
	target, _ := newMemTarget(t)

	require.NoError(t, target.Put(ctx, "workload_w1/snapshot_s1/snapshot_db", strings.NewReader("x")))
	require.NoError(t, target.Put(ctx, "workload_w1/snapshot_s2/snapshot_db", strings.NewReader("y")))

	require.NoError(t, target.Delete(ctx, "workload_w1/snapshot_s1"))

	keys, err := target.List(ctx, "workload_w1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"workload_w1/snapshot_s2/snapshot_db"}, keys)

	// Deleting something absent is not an error
	assert.NoError(t, target.Delete(ctx, "workload_w9"))
}

func TestFilesystemTargetRefusesEscapes(t *testing.T) {
	ctx := context.Background()
	target, fs := newMemTarget(t)
	require.NoError(t, afero.WriteFile(fs, "/vault/secret", []byte("s"), 0o644))

	// Cleaned against the root, so this stays inside the share
	require.NoError(t, target.Put(ctx, "../secret", strings.NewReader("inside")))
	outside, err := afero.ReadFile(fs, "/vault/secret")
	require.NoError(t, err)
	assert.Equal(t, "s", string(outside))

	assert.Error(t, target.Delete(ctx, ""))
	assert.Error(t, target.Delete(ctx, "/"))
}

func TestFilesystemTargetCapacity(t *testing.T) {
	ctx := context.Background()
	target, _ := newMemTarget(t)
	require.NoError(t, target.Put(ctx, "workload_w1/workload_db", strings.NewReader(strings.Repeat("a", 100))))

	c, err := target.Capacity(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), c.Total)
	assert.Equal(t, int64(100), c.Used)
	assert.Equal(t, int64(900), c.Free())

	offline := NewNFSTarget("b", "server:/export", "/mnt", 1000, afero.NewMemMapFs())
	_, err = offline.Capacity(ctx)
	assert.Error(t, err)
}

func TestMountPath(t *testing.T) {
	assert.Equal(t, "/var/lib/vmvault/mounts/c2VydmVyOi9leHBvcnQ=", MountPath("/var/lib/vmvault/mounts", "server:/export"))
}
