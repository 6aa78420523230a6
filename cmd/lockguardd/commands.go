package main

import (
	"os"
	"os/signal"

	"github.com/lockguard/lockguard/cli"
	mcli "github.com/mitchellh/cli"
)

const defaultSockPath = "/var/run/lockguardd.sock"

// Commands is the mapping of every lockguardd subcommand, grounded on the
// teacher's top-level commands.go Commands map.
var Commands map[string]mcli.CommandFactory

func init() {
	ui := &mcli.BasicUi{Writer: os.Stdout, ErrorWriter: os.Stderr}

	Commands = map[string]mcli.CommandFactory{
		"agent": func() (mcli.Command, error) {
			return &cli.AgentCommand{
				Ui:         ui,
				ShutdownCh: makeShutdownCh(),
			}, nil
		},

		"confirm": func() (mcli.Command, error) {
			return &cli.ConfirmCommand{Ui: ui, SockPath: defaultSockPath}, nil
		},

		"status": func() (mcli.Command, error) {
			return &cli.StatusCommand{Ui: ui, SockPath: defaultSockPath}, nil
		},

		"snapshot": func() (mcli.Command, error) {
			return &cli.SnapshotCommand{Ui: ui, SockPath: defaultSockPath}, nil
		},

		"version": func() (mcli.Command, error) {
			return &cli.VersionCommand{Ui: ui, Version: Version}, nil
		},
	}
}

// makeShutdownCh returns a channel that relays every interrupt the process
// receives, matching the teacher's top-level commands.go helper.
func makeShutdownCh() <-chan struct{} {
	resultCh := make(chan struct{})

	signalCh := make(chan os.Signal, 4)
	signal.Notify(signalCh, os.Interrupt)
	go func() {
		for {
			<-signalCh
			resultCh <- struct{}{}
		}
	}()

	return resultCh
}
