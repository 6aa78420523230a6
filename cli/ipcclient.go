// Package cli implements the lockguardd command-line subcommands, using
// mitchellh/cli's Command interface and ryanuber/columnize for tabular
// output, grounded on cmd/serf/command's RPCClient-backed commands —
// generalized from Serf's TCP+msgpack RPC to a Unix-socket+JSON control
// connection, since lockguardd has no cluster to address.
package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/lockguard/lockguard/agent"
)

// IPCClient dials lockguardd's control socket for a single request/response
// round trip per call, mirroring RPCClient's one-call-per-connection
// simplicity rather than Serf's long-lived streaming connection.
type IPCClient struct {
	sockPath string
	timeout  time.Duration
}

// NewIPCClient constructs a client for the control socket at sockPath.
func NewIPCClient(sockPath string) *IPCClient {
	return &IPCClient{sockPath: sockPath, timeout: 5 * time.Second}
}

func (c *IPCClient) call(req agent.IPCRequest) (agent.IPCResponse, error) {
	conn, err := net.DialTimeout("unix", c.sockPath, c.timeout)
	if err != nil {
		return agent.IPCResponse{}, fmt.Errorf("failed to connect to lockguardd at %s: %w (is the agent running?)", c.sockPath, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return agent.IPCResponse{}, err
	}

	var resp agent.IPCResponse
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		return agent.IPCResponse{}, err
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

// Confirm acknowledges an in-flight change.
func (c *IPCClient) Confirm(changeID string) (bool, error) {
	resp, err := c.call(agent.IPCRequest{Command: "confirm", ChangeID: changeID})
	if err != nil {
		return false, err
	}
	return resp.Confirmed, nil
}

// Status lists every currently armed timer entry.
func (c *IPCClient) Status() ([]agent.EntryDTO, error) {
	resp, err := c.call(agent.IPCRequest{Command: "status"})
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// SnapshotCreate takes a manual snapshot with the given description.
func (c *IPCClient) SnapshotCreate(description string) (agent.SnapshotDTO, error) {
	resp, err := c.call(agent.IPCRequest{Command: "snapshot-create", Description: description})
	if err != nil {
		return agent.SnapshotDTO{}, err
	}
	return *resp.Snapshot, nil
}

// SnapshotList lists every snapshot known to the running agent's store.
func (c *IPCClient) SnapshotList() ([]agent.SnapshotDTO, error) {
	resp, err := c.call(agent.IPCRequest{Command: "snapshot-list"})
	if err != nil {
		return nil, err
	}
	return resp.Snapshots, nil
}

// SnapshotRestore restores the named snapshot.
func (c *IPCClient) SnapshotRestore(kind int, id string) error {
	_, err := c.call(agent.IPCRequest{Command: "snapshot-restore", SnapshotKind: kind, SnapshotID: id})
	return err
}

// SnapshotDelete deletes the named snapshot.
func (c *IPCClient) SnapshotDelete(kind int, id string) error {
	_, err := c.call(agent.IPCRequest{Command: "snapshot-delete", SnapshotKind: kind, SnapshotID: id})
	return err
}
