package agent

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/lockguard/lockguard/watcher"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, sockPath string, req IPCRequest) IPCResponse {
	t.Helper()
	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, json.NewEncoder(conn).Encode(req))

	var resp IPCResponse
	require.NoError(t, json.NewDecoder(bufio.NewReader(conn)).Decode(&resp))
	return resp
}

func TestIPCStatusAndConfirmRoundTrip(t *testing.T) {
	a := newTestAgent(t, &fakeStore{})
	sockPath := filepath.Join(t.TempDir(), "lockguardd.sock")

	ipc, err := NewIPC(a, sockPath)
	require.NoError(t, err)
	go ipc.Serve()
	defer ipc.Shutdown()

	a.onFileEvent("/etc/ssh/sshd_config", watcher.SSH, watcher.Modified)

	time.Sleep(10 * time.Millisecond)

	statusResp := roundTrip(t, sockPath, IPCRequest{Command: ipcStatus})
	require.Empty(t, statusResp.Error)
	require.Len(t, statusResp.Entries, 1)
	changeID := statusResp.Entries[0].ChangeID

	confirmResp := roundTrip(t, sockPath, IPCRequest{Command: ipcConfirm, ChangeID: changeID})
	require.True(t, confirmResp.Confirmed)

	statusResp = roundTrip(t, sockPath, IPCRequest{Command: ipcStatus})
	require.Empty(t, statusResp.Entries)
}

func TestIPCUnsupportedCommand(t *testing.T) {
	a := newTestAgent(t, &fakeStore{})
	sockPath := filepath.Join(t.TempDir(), "lockguardd.sock")

	ipc, err := NewIPC(a, sockPath)
	require.NoError(t, err)
	go ipc.Serve()
	defer ipc.Shutdown()

	resp := roundTrip(t, sockPath, IPCRequest{Command: "bogus"})
	require.Contains(t, resp.Error, "unsupported command")
}
