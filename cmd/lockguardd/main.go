package main

import (
	"fmt"
	"os"

	"github.com/mitchellh/cli"
)

// Version is the lockguardd release version.
const Version = "0.1.0"

func main() {
	os.Exit(realMain())
}

func realMain() int {
	c := cli.NewCLI("lockguardd", Version)
	c.Args = os.Args[1:]
	c.Commands = Commands
	c.HelpFunc = cli.BasicHelpFunc("lockguardd")

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %s\n", err)
		return 1
	}
	return exitCode
}
