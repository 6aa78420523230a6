package cli

import (
	"flag"
	"fmt"
	"strings"

	"github.com/mitchellh/cli"
)

// ConfirmCommand acknowledges an in-flight configuration change, cancelling
// its armed revert timer before it expires.
type ConfirmCommand struct {
	Ui       cli.Ui
	SockPath string
}

func (c *ConfirmCommand) Run(args []string) int {
	cmdFlags := flag.NewFlagSet("confirm", flag.ContinueOnError)
	cmdFlags.Usage = func() { c.Ui.Output(c.Help()) }
	if err := cmdFlags.Parse(args); err != nil {
		return 1
	}

	changeIDs := cmdFlags.Args()
	if len(changeIDs) != 1 {
		c.Ui.Error("A single change id must be specified.")
		c.Ui.Error("")
		c.Ui.Error(c.Help())
		return 1
	}

	client := NewIPCClient(c.SockPath)
	ok, err := client.Confirm(changeIDs[0])
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error confirming change: %s", err))
		return 1
	}
	if !ok {
		c.Ui.Error(fmt.Sprintf("No pending change with id %q (it may have already expired or been confirmed).", changeIDs[0]))
		return 1
	}

	c.Ui.Output(fmt.Sprintf("Change %s confirmed.", changeIDs[0]))
	return 0
}

func (c *ConfirmCommand) Synopsis() string {
	return "Confirms a configuration change, cancelling its revert timer"
}

func (c *ConfirmCommand) Help() string {
	helpText := `
Usage: lockguardd confirm <change-id>

  Acknowledges an in-flight configuration change, identified by the
  change id shown by "lockguardd status", cancelling its armed revert
  timer.
`
	return strings.TrimSpace(helpText)
}
