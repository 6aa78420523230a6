package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lockguard/lockguard/agent"
	"github.com/lockguard/lockguard/capability"
	"github.com/lockguard/lockguard/config"
	"github.com/lockguard/lockguard/internal/pidfile"
	"github.com/lockguard/lockguard/logging"
	"github.com/lockguard/lockguard/snapshot"
	"github.com/lockguard/lockguard/watcher"
	"github.com/mitchellh/cli"
)

// AgentCommand runs lockguardd in the foreground: it reads its config,
// detects platform capabilities, builds the Snapshot Store, and wires the
// watcher, timer registry, and revert engine together, then blocks until a
// terminating signal arrives — grounded on command/agent/command.go's
// readConfig -> setupLoggers -> setupAgent -> startAgent -> handleSignals
// pipeline.
type AgentCommand struct {
	Ui         cli.Ui
	ShutdownCh <-chan struct{}
}

type configFileFlags []string

func (f *configFileFlags) String() string { return strings.Join(*f, ",") }
func (f *configFileFlags) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func (c *AgentCommand) Run(args []string) int {
	var configFiles configFileFlags
	var sockPath string

	cmdFlags := flag.NewFlagSet("agent", flag.ContinueOnError)
	cmdFlags.Usage = func() { c.Ui.Output(c.Help()) }
	cmdFlags.Var(&configFiles, "config-file", "path to a config file or directory; may be given multiple times")
	cmdFlags.StringVar(&sockPath, "sock", "/var/run/lockguardd.sock", "control socket path")
	if err := cmdFlags.Parse(args); err != nil {
		return 1
	}

	conf, err := config.Load(configFiles)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error loading config: %s", err))
		return 1
	}

	logger, err := logging.New(logging.Config{
		MinLevel:       conf.LogLevel,
		Syslog:         conf.Syslog,
		SyslogFacility: conf.SyslogFacility,
		Tag:            "lockguardd",
	}, os.Stderr)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error setting up logging: %s", err))
		return 1
	}

	pf, err := pidfile.Acquire(conf.PIDFile)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error acquiring PID file %s: %s (is another instance already running?)", conf.PIDFile, err))
		return 1
	}
	defer pf.Release()

	ctx := context.Background()
	caps := capability.Detect(ctx)
	c.Ui.Output(fmt.Sprintf("Detected platform: %s (systemd: %v)", caps.Platform, caps.HasSystemd))

	manual := snapshot.NewManualStore(conf.SnapshotDir, conf.MaxSnapshots, conf.CompressSnapshots, logger)
	var store snapshot.Store = manual
	if conf.PreferTimeshift {
		if ts, ok := snapshot.DetectTimeshift(manual, logger); ok {
			store = ts
			c.Ui.Output("Using timeshift as the snapshot backend")
		}
	}

	requestedTimeout := make(map[watcher.Category]time.Duration, len(conf.Timeouts))
	for category, seconds := range conf.Timeouts {
		requestedTimeout[watcher.Category(category)] = time.Duration(seconds) * time.Second
	}

	a, err := agent.New(agent.Config{
		Watcher: watcher.Config{
			NetworkConfigs:  conf.Watcher.NetworkConfigs,
			SSHConfigs:      conf.Watcher.SSHConfigs,
			FirewallConfigs: conf.Watcher.FirewallConfigs,
			ServiceConfigs:  conf.Watcher.ServiceConfigs,
			CustomPaths:     conf.Watcher.CustomPaths,
		},
		ConnectivityCheck:     conf.ConnectivityCheck,
		ConnectivityEndpoints: conf.ConnectivityEndpoints,
		GracePeriod:           conf.GracePeriod(),
		RequestedTimeout:      requestedTimeout,
	}, store, caps, os.Stderr)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error constructing agent: %s", err))
		return 1
	}

	if err := a.Start(ctx); err != nil {
		c.Ui.Error(fmt.Sprintf("Error starting agent: %s", err))
		return 1
	}
	defer a.Shutdown()

	ipc, err := agent.NewIPC(a, sockPath)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error starting control socket: %s", err))
		return 1
	}
	go ipc.Serve()
	defer ipc.Shutdown()

	c.Ui.Output("lockguardd agent running!")
	c.Ui.Info(fmt.Sprintf("  Snapshot backend: %T", store))
	c.Ui.Info(fmt.Sprintf("      Control sock: %s", sockPath))
	c.Ui.Info(fmt.Sprintf("       Grace period: %s", conf.GracePeriod()))

	return c.handleSignals(a)
}

func (c *AgentCommand) handleSignals(a *agent.Agent) int {
	signalCh := make(chan os.Signal, 4)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-signalCh:
		c.Ui.Output(fmt.Sprintf("Caught signal: %v", sig))
	case <-c.ShutdownCh:
		c.Ui.Output("Caught shutdown request")
	case <-a.ShutdownCh():
		return 0
	}

	return 0
}

func (c *AgentCommand) Synopsis() string {
	return "Runs the lockguardd agent"
}

func (c *AgentCommand) Help() string {
	helpText := `
Usage: lockguardd agent [options]

  Runs the lockguardd agent in the foreground: watches the configured
  critical paths, arms a revert timer on every change, and reverts plus
  restarts the affected subsystem if the change isn't confirmed in time.

Options:

  -config-file=FILE   Path to a config file or directory; may be repeated.
  -sock=PATH           Control socket path (default /var/run/lockguardd.sock).
`
	return strings.TrimSpace(helpText)
}
