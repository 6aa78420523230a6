package cli

import "github.com/mitchellh/cli"

// VersionCommand prints the lockguardd version.
type VersionCommand struct {
	Version string
	Ui      cli.Ui
}

func (c *VersionCommand) Run(_ []string) int {
	c.Ui.Output(c.Version)
	return 0
}

func (c *VersionCommand) Synopsis() string {
	return "Prints the lockguardd version"
}

func (c *VersionCommand) Help() string {
	return ""
}
