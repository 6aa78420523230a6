package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/lockguard/lockguard/snapshot"
)

// IPC exposes a running Agent to the lockguardd CLI over a Unix domain
// socket: one newline-delimited JSON request per connection, one response,
// grounded on command/agent/ipc.go's request/response shape but
// simplified to plain JSON since there is no event-streaming mode to
// support here.
type IPC struct {
	agent    *Agent
	listener net.Listener
	sockPath string

	wg sync.WaitGroup
}

// IPCRequest is the single flat envelope every CLI subcommand sends.
// Only the fields relevant to Command are populated.
type IPCRequest struct {
	Command string `json:"command"`

	ChangeID string `json:"change_id,omitempty"`

	Description  string `json:"description,omitempty"`
	SnapshotKind int    `json:"snapshot_kind,omitempty"`
	SnapshotID   string `json:"snapshot_id,omitempty"`
}

// IPCResponse is the single flat envelope every IPC call returns.
type IPCResponse struct {
	Error string `json:"error,omitempty"`

	Confirmed bool              `json:"confirmed,omitempty"`
	Entries   []EntryDTO        `json:"entries,omitempty"`
	Snapshots []SnapshotDTO     `json:"snapshots,omitempty"`
	Snapshot  *SnapshotDTO      `json:"snapshot,omitempty"`
}

// EntryDTO is the wire representation of a timer.Entry.
type EntryDTO struct {
	ChangeID         string `json:"change_id"`
	Path             string `json:"path"`
	Category         string `json:"category"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// SnapshotDTO is the wire representation of a snapshot.Metadata.
type SnapshotDTO struct {
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	Created     string `json:"created"`
	Description string `json:"description"`
}

const (
	ipcConfirm        = "confirm"
	ipcStatus         = "status"
	ipcSnapshotCreate = "snapshot-create"
	ipcSnapshotList   = "snapshot-list"
	ipcSnapshotRestore = "snapshot-restore"
	ipcSnapshotDelete = "snapshot-delete"
)

// NewIPC binds a Unix domain socket at sockPath. Any stale socket file left
// behind by a prior unclean shutdown is removed first.
func NewIPC(a *Agent, sockPath string) (*IPC, error) {
	_ = os.Remove(sockPath)

	l, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("agent: failed to listen on %s: %w", sockPath, err)
	}

	return &IPC{agent: a, listener: l, sockPath: sockPath}, nil
}

// Serve accepts connections until the listener is closed.
func (i *IPC) Serve() {
	for {
		conn, err := i.listener.Accept()
		if err != nil {
			return
		}
		i.wg.Add(1)
		go func() {
			defer i.wg.Done()
			i.handle(conn)
		}()
	}
}

// Shutdown closes the listener, waits for in-flight connections, and
// removes the socket file.
func (i *IPC) Shutdown() {
	i.listener.Close()
	i.wg.Wait()
	os.Remove(i.sockPath)
}

func (i *IPC) handle(conn net.Conn) {
	defer conn.Close()

	var req IPCRequest
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&req); err != nil {
		json.NewEncoder(conn).Encode(IPCResponse{Error: "malformed request: " + err.Error()})
		return
	}

	resp := i.dispatch(req)
	json.NewEncoder(conn).Encode(resp)
}

func (i *IPC) dispatch(req IPCRequest) IPCResponse {
	ctx := i.agent.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	switch req.Command {
	case ipcConfirm:
		ok := i.agent.Confirm(req.ChangeID)
		return IPCResponse{Confirmed: ok}

	case ipcStatus:
		entries := i.agent.List()
		out := make([]EntryDTO, 0, len(entries))
		for _, e := range entries {
			out = append(out, EntryDTO{
				ChangeID:         e.ChangeID,
				Path:             e.Path,
				Category:         string(e.Category),
				RemainingSeconds: e.RemainingSeconds(time.Now()),
			})
		}
		return IPCResponse{Entries: out}

	case ipcSnapshotCreate:
		id, err := i.agent.store.Create(ctx, req.Description)
		if err != nil {
			return IPCResponse{Error: err.Error()}
		}
		return IPCResponse{Snapshot: &SnapshotDTO{Kind: id.Kind.String(), ID: id.Value}}

	case ipcSnapshotList:
		metas, err := i.agent.store.List(ctx)
		if err != nil {
			return IPCResponse{Error: err.Error()}
		}
		out := make([]SnapshotDTO, 0, len(metas))
		for _, m := range metas {
			out = append(out, SnapshotDTO{
				Kind:        m.ID.Kind.String(),
				ID:          m.ID.Value,
				Created:     m.Created.Format("2006-01-02T15:04:05Z07:00"),
				Description: m.Description,
			})
		}
		return IPCResponse{Snapshots: out}

	case ipcSnapshotRestore:
		id := snapshot.ID{Kind: snapshot.Kind(req.SnapshotKind), Value: req.SnapshotID}
		if err := i.agent.store.Restore(ctx, id); err != nil {
			return IPCResponse{Error: err.Error()}
		}
		return IPCResponse{}

	case ipcSnapshotDelete:
		id := snapshot.ID{Kind: snapshot.Kind(req.SnapshotKind), Value: req.SnapshotID}
		if err := i.agent.store.Delete(ctx, id); err != nil {
			return IPCResponse{Error: err.Error()}
		}
		return IPCResponse{}

	default:
		return IPCResponse{Error: "unsupported command: " + req.Command}
	}
}
