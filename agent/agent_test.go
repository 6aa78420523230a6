package agent

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lockguard/lockguard/capability"
	"github.com/lockguard/lockguard/snapshot"
	"github.com/lockguard/lockguard/timer"
	"github.com/lockguard/lockguard/watcher"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	n int
}

func (f *fakeStore) Create(ctx context.Context, description string) (snapshot.ID, error) {
	f.n++
	return snapshot.ID{Kind: snapshot.Manual, Value: description}, nil
}
func (f *fakeStore) List(ctx context.Context) ([]snapshot.Metadata, error) { return nil, nil }
func (f *fakeStore) Restore(ctx context.Context, id snapshot.ID) error     { return nil }
func (f *fakeStore) Delete(ctx context.Context, id snapshot.ID) error      { return nil }
func (f *fakeStore) Info(ctx context.Context, id snapshot.ID) (*snapshot.Metadata, bool, error) {
	return nil, false, nil
}
func (f *fakeStore) Cleanup(ctx context.Context) error { return nil }

func testCapabilityMap() *capability.Map {
	return &capability.Map{
		ServiceCommands: map[capability.Category]capability.Commands{
			capability.SSH: {Restart: "true", Test: "true"},
		},
	}
}

func newTestAgent(t *testing.T, store *fakeStore) *Agent {
	t.Helper()
	dir := t.TempDir()
	target := filepath.Join(dir, "sshd_config")
	require.NoError(t, os.WriteFile(target, []byte("a"), 0o644))

	conf := Config{
		Watcher:     watcher.Config{SSHConfigs: []string{target}},
		GracePeriod: 5 * time.Millisecond,
	}
	a, err := New(conf, store, testCapabilityMap(), io.Discard)
	require.NoError(t, err)
	return a
}

func TestOnFileEventArmsATimer(t *testing.T) {
	store := &fakeStore{}
	a := newTestAgent(t, store)

	a.onFileEvent("/etc/ssh/sshd_config", watcher.SSH, watcher.Modified)

	entries := a.List()
	require.Len(t, entries, 1)
	require.Equal(t, "/etc/ssh/sshd_config", entries[0].Path)
	require.Equal(t, 1, store.n, "a pre-change snapshot must be taken before arming the timer")
	require.NotNil(t, entries[0].SnapshotID)
}

func TestConfirmRemovesTheArmedTimer(t *testing.T) {
	store := &fakeStore{}
	a := newTestAgent(t, store)

	a.onFileEvent("/etc/ssh/sshd_config", watcher.SSH, watcher.Modified)
	entries := a.List()
	require.Len(t, entries, 1)

	require.True(t, a.Confirm(entries[0].ChangeID))
	require.Empty(t, a.List())
}

// TestConfirmDuringGracePeriodAbortsRevert exercises the path the CLI's
// confirm command drives once a timer has already expired: onExpiry has
// handed the entry to the Revert Engine and entered its grace-period
// sleep, and Confirm still needs to be able to reach that specific,
// in-flight Revert call even though processExpired has already removed
// the entry from the timer registry.
func TestConfirmDuringGracePeriodAbortsRevert(t *testing.T) {
	var buf bytes.Buffer
	dir := t.TempDir()
	target := filepath.Join(dir, "sshd_config")
	require.NoError(t, os.WriteFile(target, []byte("a"), 0o644))

	conf := Config{
		Watcher:     watcher.Config{SSHConfigs: []string{target}},
		GracePeriod: 100 * time.Millisecond,
	}
	store := &fakeStore{}
	a, err := New(conf, store, testCapabilityMap(), &buf)
	require.NoError(t, err)

	const changeID = "ssh_1700000000"
	done := make(chan struct{})
	go func() {
		a.onExpiry(context.Background(), timer.Entry{
			ChangeID: changeID,
			Path:     target,
			Category: watcher.SSH,
		})
		close(done)
	}()

	// Give onExpiry a moment to register its cancel func before confirming,
	// so the confirm genuinely lands mid-grace-period rather than before
	// the pending entry exists.
	time.Sleep(20 * time.Millisecond)
	require.True(t, a.Confirm(changeID), "confirm during the grace period must succeed")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onExpiry did not return promptly after a late confirm")
	}

	require.Contains(t, buf.String(), "late confirm honoured")
	require.Equal(t, 0, store.n, "a cancelled revert must never take a safety snapshot")
}

func TestConfirmUnknownChangeIDFails(t *testing.T) {
	a := newTestAgent(t, &fakeStore{})
	require.False(t, a.Confirm("does-not-exist"))
}

func TestStartAndShutdownLifecycle(t *testing.T) {
	a := newTestAgent(t, &fakeStore{})

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Shutdown())

	select {
	case <-a.ShutdownCh():
	default:
		t.Fatal("ShutdownCh should be closed after Shutdown")
	}

	// A second Shutdown must be a no-op, matching the teacher's
	// shutdownLock-guarded idempotence.
	require.NoError(t, a.Shutdown())
}
