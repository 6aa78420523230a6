package cli

import (
	"flag"
	"fmt"
	"strings"

	"github.com/mitchellh/cli"
	"github.com/ryanuber/columnize"
)

// StatusCommand lists every change currently under an armed countdown.
type StatusCommand struct {
	Ui       cli.Ui
	SockPath string
}

func (c *StatusCommand) Run(args []string) int {
	cmdFlags := flag.NewFlagSet("status", flag.ContinueOnError)
	cmdFlags.Usage = func() { c.Ui.Output(c.Help()) }
	if err := cmdFlags.Parse(args); err != nil {
		return 1
	}

	client := NewIPCClient(c.SockPath)
	entries, err := client.Status()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error retrieving status: %s", err))
		return 1
	}

	if len(entries) == 0 {
		c.Ui.Output("No configuration changes are currently pending confirmation.")
		return 0
	}

	lines := []string{"CHANGE ID | PATH | CATEGORY | REMAINING"}
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s | %s | %s | %ds", e.ChangeID, e.Path, e.Category, e.RemainingSeconds))
	}
	out, _ := columnize.SimpleFormat(lines)
	c.Ui.Output(out)
	return 0
}

func (c *StatusCommand) Synopsis() string {
	return "Lists configuration changes awaiting confirmation"
}

func (c *StatusCommand) Help() string {
	helpText := `
Usage: lockguardd status

  Lists every configuration change currently under an armed revert
  countdown, along with the seconds remaining before it reverts.
`
	return strings.TrimSpace(helpText)
}
