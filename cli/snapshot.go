package cli

import (
	"flag"
	"fmt"
	"strings"

	"github.com/lockguard/lockguard/snapshot"
	"github.com/mitchellh/cli"
	"github.com/ryanuber/columnize"
)

// SnapshotCommand dispatches to the create/list/restore/delete actions
// against the running agent's Snapshot Store, mirroring the teacher's
// single-verb-with-subcommand shape used by command/keys.go for
// install/use/remove.
type SnapshotCommand struct {
	Ui       cli.Ui
	SockPath string
}

func (c *SnapshotCommand) Run(args []string) int {
	if len(args) < 1 {
		c.Ui.Error(c.Help())
		return 1
	}

	action, rest := args[0], args[1:]
	client := NewIPCClient(c.SockPath)

	switch action {
	case "create":
		return c.create(client, rest)
	case "list":
		return c.list(client, rest)
	case "restore":
		return c.restore(client, rest)
	case "delete":
		return c.delete(client, rest)
	default:
		c.Ui.Error(fmt.Sprintf("Unknown snapshot action %q.", action))
		c.Ui.Error(c.Help())
		return 1
	}
}

func (c *SnapshotCommand) create(client *IPCClient, args []string) int {
	cmdFlags := flag.NewFlagSet("snapshot create", flag.ContinueOnError)
	description := cmdFlags.String("description", "manual snapshot", "description to store with the snapshot")
	if err := cmdFlags.Parse(args); err != nil {
		return 1
	}

	snap, err := client.SnapshotCreate(*description)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error creating snapshot: %s", err))
		return 1
	}
	c.Ui.Output(fmt.Sprintf("Created snapshot %s:%s", snap.Kind, snap.ID))
	return 0
}

func (c *SnapshotCommand) list(client *IPCClient, args []string) int {
	snaps, err := client.SnapshotList()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error listing snapshots: %s", err))
		return 1
	}
	if len(snaps) == 0 {
		c.Ui.Output("No snapshots found.")
		return 0
	}

	lines := []string{"KIND | ID | CREATED | DESCRIPTION"}
	for _, s := range snaps {
		lines = append(lines, fmt.Sprintf("%s | %s | %s | %s", s.Kind, s.ID, s.Created, s.Description))
	}
	out, _ := columnize.SimpleFormat(lines)
	c.Ui.Output(out)
	return 0
}

func (c *SnapshotCommand) restore(client *IPCClient, args []string) int {
	kind, id, ok := c.parseSnapshotRef(args)
	if !ok {
		return 1
	}
	if err := client.SnapshotRestore(kind, id); err != nil {
		c.Ui.Error(fmt.Sprintf("Error restoring snapshot: %s", err))
		return 1
	}
	c.Ui.Output(fmt.Sprintf("Restored snapshot %s.", id))
	return 0
}

func (c *SnapshotCommand) delete(client *IPCClient, args []string) int {
	kind, id, ok := c.parseSnapshotRef(args)
	if !ok {
		return 1
	}
	if err := client.SnapshotDelete(kind, id); err != nil {
		c.Ui.Error(fmt.Sprintf("Error deleting snapshot: %s", err))
		return 1
	}
	c.Ui.Output(fmt.Sprintf("Deleted snapshot %s.", id))
	return 0
}

// parseSnapshotRef accepts either "manual:<id>" or "timeshift:<id>",
// defaulting to manual when no prefix is given.
func (c *SnapshotCommand) parseSnapshotRef(args []string) (kind int, id string, ok bool) {
	if len(args) != 1 {
		c.Ui.Error("A single snapshot id must be specified, e.g. manual:1700000000 or timeshift:2026-01-01_00-00-00")
		return 0, "", false
	}

	ref := args[0]
	parts := strings.SplitN(ref, ":", 2)
	if len(parts) != 2 {
		return int(snapshot.Manual), ref, true
	}
	switch parts[0] {
	case "manual":
		return int(snapshot.Manual), parts[1], true
	case "timeshift":
		return int(snapshot.Timeshift), parts[1], true
	default:
		c.Ui.Error(fmt.Sprintf("Unknown snapshot kind %q, expected \"manual\" or \"timeshift\".", parts[0]))
		return 0, "", false
	}
}

func (c *SnapshotCommand) Synopsis() string {
	return "Manages snapshots: create, list, restore, delete"
}

func (c *SnapshotCommand) Help() string {
	helpText := `
Usage: lockguardd snapshot <action> [args]

  Manages the Snapshot Store.

Actions:

  create [-description=STRING]   Creates a manual snapshot.
  list                           Lists every known snapshot.
  restore <kind:id>               Restores a snapshot by id.
  delete <kind:id>                 Deletes a snapshot by id.
`
	return strings.TrimSpace(helpText)
}
