package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, criticalPaths []string, maxSnapshots int) *ManualStore {
	t.Helper()
	root := t.TempDir()
	s := NewManualStore(root, maxSnapshots, false, nil)
	s.CriticalPaths = criticalPaths
	return s
}

// TestRoundTrip is scenario 5 / property P3: contents and mode bits
// survive create -> mutate -> restore exactly.
func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	sshd := filepath.Join(dir, "sshd_config")
	hosts := filepath.Join(dir, "hosts")

	require.NoError(t, os.WriteFile(sshd, []byte("PermitRootLogin yes\n"), 0o640))
	require.NoError(t, os.WriteFile(hosts, []byte("127.0.0.1 localhost\n"), 0o644))

	s := newTestStore(t, []string{sshd, hosts}, 10)
	id, err := s.Create(ctx, "pre-change")
	require.NoError(t, err)

	// Mutate and delete.
	require.NoError(t, os.WriteFile(sshd, []byte("PermitRootLogin no\n"), 0o600))
	require.NoError(t, os.Remove(hosts))

	require.NoError(t, s.Restore(ctx, id))

	gotSshd, err := os.ReadFile(sshd)
	require.NoError(t, err)
	require.Equal(t, "PermitRootLogin yes\n", string(gotSshd))

	info, err := os.Stat(sshd)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	gotHosts, err := os.ReadFile(hosts)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1 localhost\n", string(gotHosts))

	hostsInfo, err := os.Stat(hosts)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), hostsInfo.Mode().Perm())
}

func TestCreateSkipsMissingPaths(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, []string{"/does/not/exist/anywhere"}, 10)
	id, err := s.Create(ctx, "empty")
	require.NoError(t, err)

	meta, ok, err := s.Info(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, meta.Manifest)
}

func TestListIgnoresIncompleteSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil, 10)

	id, err := s.Create(ctx, "complete")
	require.NoError(t, err)

	// Simulate a crash mid-create: a directory with no metadata.json.
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root, "manual_999999999"), 0o755))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, id, all[0].ID)
}

// TestCleanupKeepsNewest is scenario 6.
func TestCleanupKeepsNewest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil, 5)

	var ids []ID
	for i := 0; i < 7; i++ {
		// Force distinct timestamps for deterministic ordering since
		// snapshot ids are timestamped to the second.
		s.nowOverrideForTest = time.Unix(int64(1_700_000_000+i), 0)
		id, err := s.Create(ctx, "snap")
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.NoError(t, s.Cleanup(ctx))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)

	kept := make(map[ID]bool)
	for _, m := range all {
		kept[m.ID] = true
	}
	for i, id := range ids {
		if i < 2 {
			require.False(t, kept[id], "oldest snapshots should have been deleted")
		} else {
			require.True(t, kept[id], "newest snapshots should survive cleanup")
		}
	}
}

func TestCompressedRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	sshd := filepath.Join(dir, "sshd_config")
	require.NoError(t, os.WriteFile(sshd, []byte("original\n"), 0o640))

	s := newTestStore(t, []string{sshd}, 10)
	s.Compress = true

	id, err := s.Create(ctx, "compressed")
	require.NoError(t, err)

	// The staging directory should be gone; only the archive remains.
	_, err = os.Stat(filepath.Join(s.Root, id.Value))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(s.Root, id.Value+".tar.gz"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(sshd, []byte("changed\n"), 0o600))
	require.NoError(t, s.Restore(ctx, id))

	got, err := os.ReadFile(sshd)
	require.NoError(t, err)
	require.Equal(t, "original\n", string(got))
}
