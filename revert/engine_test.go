package revert

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lockguard/lockguard/capability"
	"github.com/lockguard/lockguard/snapshot"
	"github.com/lockguard/lockguard/watcher"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu        sync.Mutex
	created   int
	restored  []snapshot.ID
	failCreate bool
}

func (f *fakeStore) Create(ctx context.Context, description string) (snapshot.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return snapshot.ID{}, errTestCreateFailed
	}
	f.created++
	return snapshot.ID{Kind: snapshot.Manual, Value: "safety-" + description}, nil
}

func (f *fakeStore) List(ctx context.Context) ([]snapshot.Metadata, error) { return nil, nil }

func (f *fakeStore) Restore(ctx context.Context, id snapshot.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, id)
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id snapshot.ID) error { return nil }

func (f *fakeStore) Info(ctx context.Context, id snapshot.ID) (*snapshot.Metadata, bool, error) {
	return nil, false, nil
}

func (f *fakeStore) Cleanup(ctx context.Context) error { return nil }

type errString string

func (e errString) Error() string { return string(e) }

const errTestCreateFailed = errString("safety snapshot creation failed")

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(event, path, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) has(event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

func testEngine(t *testing.T, store snapshot.Store, caps *capability.Map, notifier Notifier) *Engine {
	t.Helper()
	e := New(store, caps, notifier, nil)
	e.ConnectivityCheck = false
	e.GracePeriod = 10 * time.Millisecond
	return e
}

func baseCapabilityMap() *capability.Map {
	return &capability.Map{
		Platform:   "test",
		HasSystemd: true,
		ServiceCommands: map[capability.Category]capability.Commands{
			capability.Network:  {Restart: "true", Test: "true"},
			capability.SSH:      {Restart: "true", Test: "true"},
			capability.Firewall: {Restart: "true", Test: "true"},
			capability.Service:  {Restart: "true", Test: ""},
			capability.System:   {Restart: "true", Test: ""},
		},
	}
}

// TestRevertHappyPath is scenario 1: restore from snapshot, restart and
// verify both succeed, a single "reverted" notification is emitted, and no
// emergency rollback occurs.
func TestRevertHappyPath(t *testing.T) {
	store := &fakeStore{}
	notifier := &recordingNotifier{}
	e := testEngine(t, store, baseCapabilityMap(), notifier)

	origID := snapshot.ID{Kind: snapshot.Manual, Value: "orig"}
	err := e.Revert(context.Background(), Request{
		Path:       "/etc/ssh/sshd_config",
		Category:   watcher.SSH,
		SnapshotID: &origID,
	})

	require.NoError(t, err)
	require.True(t, notifier.has("reverted"))
	require.False(t, notifier.has("revert_failed"))
	require.Equal(t, 1, store.created, "a safety snapshot is always taken before restoring")
	require.Equal(t, []snapshot.ID{origID}, store.restored, "verify succeeded, so only the original restore should have happened — no emergency rollback")
}

// TestEmergencyRollbackOnVerifyFailure is scenario 4: the post-restart test
// command fails, so the engine must fall back to the pre-revert safety
// snapshot and emit revert_failed rather than reverted.
func TestEmergencyRollbackOnVerifyFailure(t *testing.T) {
	store := &fakeStore{}
	notifier := &recordingNotifier{}
	caps := baseCapabilityMap()
	caps.ServiceCommands[capability.Network] = capability.Commands{Restart: "true", Test: "false"}
	e := testEngine(t, store, caps, notifier)

	origID := snapshot.ID{Kind: snapshot.Manual, Value: "orig"}
	err := e.Revert(context.Background(), Request{
		Path:       "/etc/network/interfaces",
		Category:   watcher.Network,
		SnapshotID: &origID,
	})

	require.Error(t, err)
	require.True(t, notifier.has("revert_failed"))
	require.False(t, notifier.has("reverted"))

	require.Len(t, store.restored, 2, "both the original snapshot and the safety snapshot must be restored")
	require.Equal(t, origID, store.restored[0])
	require.Equal(t, snapshot.Manual, store.restored[1].Kind)
	require.Contains(t, store.restored[1].Value, "safety-")
}

// TestRevertDegradesWhenSafetySnapshotFails is OQ1: a failed safety snapshot
// only warns and continues — it never blocks the revert attempt itself.
func TestRevertDegradesWhenSafetySnapshotFails(t *testing.T) {
	store := &fakeStore{failCreate: true}
	notifier := &recordingNotifier{}
	e := testEngine(t, store, baseCapabilityMap(), notifier)

	origID := snapshot.ID{Kind: snapshot.Manual, Value: "orig"}
	err := e.Revert(context.Background(), Request{
		Path:       "/etc/ssh/sshd_config",
		Category:   watcher.SSH,
		SnapshotID: &origID,
	})

	require.NoError(t, err)
	require.True(t, notifier.has("revert_error"))
	require.True(t, notifier.has("reverted"))
}

// TestGracePeriodLateConfirmIsHonoured: cancelling ctx during the grace
// period must short-circuit the whole revert — no restore, no restart, no
// snapshot ever taken.
func TestGracePeriodLateConfirmIsHonoured(t *testing.T) {
	store := &fakeStore{}
	notifier := &recordingNotifier{}
	e := testEngine(t, store, baseCapabilityMap(), notifier)
	e.GracePeriod = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	origID := snapshot.ID{Kind: snapshot.Manual, Value: "orig"}
	err := e.Revert(ctx, Request{
		Path:       "/etc/ssh/sshd_config",
		Category:   watcher.SSH,
		SnapshotID: &origID,
	})

	require.NoError(t, err)
	require.Zero(t, store.created)
	require.Empty(t, store.restored)
	require.False(t, notifier.has("reverted"))
	require.False(t, notifier.has("revert_failed"))
}

// TestApplyNetworkTemplateWritesInterfacesFile exercises the
// netplan-absent, interfaces-dir-present branch against a redirected Paths.
func TestApplyNetworkTemplateWritesInterfacesFile(t *testing.T) {
	dir := t.TempDir()
	e := New(&fakeStore{}, baseCapabilityMap(), &recordingNotifier{}, nil)
	e.Paths.NetplanDir = filepath.Join(dir, "no-such-netplan-dir")
	e.Paths.NetworkInterfaces = filepath.Join(dir, "interfaces")

	require.NoError(t, e.applyNetworkTemplate())

	got, err := os.ReadFile(e.Paths.NetworkInterfaces)
	require.NoError(t, err)
	require.Equal(t, NetworkInterfacesTemplate, string(got))
}

// TestApplyNetworkTemplatePrefersNetplan exercises the netplan branch: every
// existing *.yaml file is removed and replaced with the single DHCP file.
func TestApplyNetworkTemplatePrefersNetplan(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01-netcfg.yaml"), []byte("stale"), 0o644))

	e := New(&fakeStore{}, baseCapabilityMap(), &recordingNotifier{}, nil)
	e.Paths.NetplanDir = dir

	require.NoError(t, e.applyNetworkTemplate())

	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	got, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	require.Equal(t, NetplanDHCPTemplate, string(got))
}

// TestApplySSHTemplateFallsBackToLiteral exercises the no-fallback-files
// branch: the literal SSHDConfigTemplate is written byte for byte.
func TestApplySSHTemplateFallsBackToLiteral(t *testing.T) {
	dir := t.TempDir()
	e := New(&fakeStore{}, baseCapabilityMap(), &recordingNotifier{}, nil)
	e.Paths.SSHDConfig = filepath.Join(dir, "sshd_config")
	e.Paths.SSHDConfigFallbacks = []string{filepath.Join(dir, "does-not-exist")}

	require.NoError(t, e.applySSHTemplate())

	got, err := os.ReadFile(e.Paths.SSHDConfig)
	require.NoError(t, err)
	require.Equal(t, SSHDConfigTemplate, string(got))
}

// TestApplySSHTemplatePrefersDistroFallback: when one of the fallback files
// exists, its contents are copied verbatim instead of the literal template.
func TestApplySSHTemplatePrefersDistroFallback(t *testing.T) {
	dir := t.TempDir()
	fallback := filepath.Join(dir, "sshd_config.orig")
	require.NoError(t, os.WriteFile(fallback, []byte("# distro default\n"), 0o644))

	e := New(&fakeStore{}, baseCapabilityMap(), &recordingNotifier{}, nil)
	e.Paths.SSHDConfig = filepath.Join(dir, "sshd_config")
	e.Paths.SSHDConfigFallbacks = []string{filepath.Join(dir, "missing"), fallback}

	require.NoError(t, e.applySSHTemplate())

	got, err := os.ReadFile(e.Paths.SSHDConfig)
	require.NoError(t, err)
	require.Equal(t, "# distro default\n", string(got))
}
