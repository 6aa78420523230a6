// Package revert implements the Revert Engine: the timeout-expiry recovery
// procedure of safety snapshot -> restore -> subsystem restart ->
// verification -> emergency rollback on failure.
package revert

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/armon/go-metrics"
	"github.com/lockguard/lockguard/capability"
	"github.com/lockguard/lockguard/internal/execx"
	"github.com/lockguard/lockguard/snapshot"
	"github.com/lockguard/lockguard/watcher"
)

// Category re-exports watcher.Category, matching the timer package's
// re-export so all three core packages agree on the one type.
type Category = watcher.Category

const (
	restartTimeout = 30 * time.Second
	verifyTimeout  = 10 * time.Second
)

// DefaultConnectivityEndpoints are probed, in order, during the optional
// pre-revert connectivity check; success on any one is sufficient.
var DefaultConnectivityEndpoints = []string{"8.8.8.8", "1.1.1.1"}

// Notifier receives the engine's lifecycle notifications.
type Notifier interface {
	Notify(event, path, message string)
}

// Request describes one expired timer entry for the engine to act on.
type Request struct {
	Path       string
	Category   Category
	SnapshotID *snapshot.ID // nil means "use the default template"
}

// TemplatePaths names the filesystem locations the default templates
// write to. Defaulted to the real /etc locations; overridable so tests
// never touch the real host filesystem.
type TemplatePaths struct {
	NetworkInterfaces string
	NetplanDir        string
	SSHDConfig        string
	SSHDConfigFallbacks []string
}

// DefaultTemplatePaths are the real on-host locations.
func DefaultTemplatePaths() TemplatePaths {
	return TemplatePaths{
		NetworkInterfaces:   "/etc/network/interfaces",
		NetplanDir:          "/etc/netplan",
		SSHDConfig:          "/etc/ssh/sshd_config",
		SSHDConfigFallbacks: SSHDConfigFallbacks,
	}
}

// Engine is the Revert Engine.
type Engine struct {
	Store      snapshot.Store
	Capability *capability.Map
	Notifier   Notifier
	Logger     *log.Logger

	// ConnectivityCheck enables the optional pre-grace-period reachability
	// probe. Its outcome is only logged; it never inhibits the revert.
	ConnectivityCheck     bool
	ConnectivityEndpoints []string
	ConnectivityTimeout   time.Duration

	// GracePeriod is the final wait after timer expiry during which a late
	// confirm (via ctx cancellation) is still honoured.
	GracePeriod time.Duration

	Paths TemplatePaths
}

// New constructs an Engine with the base spec's defaults (30s grace
// period, default connectivity endpoints, 3s connectivity timeout).
func New(store snapshot.Store, caps *capability.Map, notifier Notifier, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		Store:                 store,
		Capability:            caps,
		Notifier:              notifier,
		Logger:                logger,
		ConnectivityCheck:     true,
		ConnectivityEndpoints: DefaultConnectivityEndpoints,
		ConnectivityTimeout:   3 * time.Second,
		GracePeriod:           30 * time.Second,
		Paths:                 DefaultTemplatePaths(),
	}
}

// Revert executes the full recovery procedure for req. ctx is honoured as
// the "late confirm" cancellation channel: if ctx is cancelled during the
// grace period sleep, Revert returns nil immediately without touching the
// host, matching the "a late confirm is still honoured" contract.
func (e *Engine) Revert(ctx context.Context, req Request) error {
	defer metrics.MeasureSince([]string{"lockguard", "revert", string(req.Category)}, time.Now())

	e.Notifier.Notify("grace_period", req.Path, fmt.Sprintf("Configuration change entering grace period: %s (%s timeout)", req.Path, e.GracePeriod))

	if e.ConnectivityCheck {
		e.checkConnectivity(ctx)
	}

	select {
	case <-time.After(e.GracePeriod):
	case <-ctx.Done():
		e.Logger.Printf("[INFO] revert: late confirm honoured during grace period for %s", req.Path)
		return nil
	}

	return e.recover(ctx, req)
}

func (e *Engine) recover(ctx context.Context, req Request) error {
	safetyID, err := e.Store.Create(ctx, "pre-revert safety snapshot: "+req.Path)
	var safetyIDPtr *snapshot.ID
	if err != nil {
		e.Logger.Printf("[WARN] revert: safety snapshot failed, continuing without emergency rollback option: %s", err)
		e.Notifier.Notify("revert_error", req.Path, "Pre-revert safety snapshot failed, continuing without emergency rollback option: "+req.Path)
	} else {
		safetyIDPtr = &safetyID
	}

	restoreOK := e.restore(ctx, req)
	restartOK := e.restart(ctx, req.Category)
	verifyOK := e.verify(ctx, req.Category)

	if restoreOK && verifyOK {
		e.Notifier.Notify("reverted", req.Path, "Configuration change reverted: "+req.Path)
		return nil
	}

	e.Notifier.Notify("revert_failed", req.Path, "Configuration change revert failed: "+req.Path)
	if safetyIDPtr != nil {
		if err := e.Store.Restore(ctx, *safetyIDPtr); err != nil {
			e.Logger.Printf("[CRIT] revert: emergency rollback to safety snapshot failed for %s: %s", req.Path, err)
		}
	}
	return fmt.Errorf("revert failed for %s (restore_ok=%v restart_ok=%v verify_ok=%v)", req.Path, restoreOK, restartOK, verifyOK)
}

func (e *Engine) restore(ctx context.Context, req Request) bool {
	if req.SnapshotID != nil {
		if err := e.Store.Restore(ctx, *req.SnapshotID); err != nil {
			e.Logger.Printf("[ERR] revert: restore from snapshot failed for %s: %s", req.Path, err)
			return false
		}
		return true
	}
	if err := e.applyDefaultTemplate(req.Category); err != nil {
		e.Logger.Printf("[ERR] revert: default template restore failed for category %s: %s", req.Category, err)
		return false
	}
	return true
}

func (e *Engine) restart(ctx context.Context, category Category) bool {
	cmds, ok := e.Capability.ServiceCommands[capability.Category(category)]
	if !ok || cmds.Restart == "" {
		return true
	}
	_, err := execx.Run(ctx, restartTimeout, cmds.Restart, nil)
	if err != nil {
		e.Logger.Printf("[ERR] revert: subsystem restart failed for %s: %s", category, err)
		return false
	}
	return true
}

func (e *Engine) verify(ctx context.Context, category Category) bool {
	cmds, ok := e.Capability.ServiceCommands[capability.Category(category)]
	if !ok || cmds.Test == "" {
		return true // absent test command = assume ok, per the base spec
	}
	_, err := execx.Run(ctx, verifyTimeout, cmds.Test, nil)
	return err == nil
}

// checkConnectivity tests reachability to the configured endpoints,
// DNS-resolving hostnames first. Its outcome is only logged.
func (e *Engine) checkConnectivity(ctx context.Context) {
	for _, endpoint := range e.ConnectivityEndpoints {
		if e.pingOnce(ctx, endpoint) {
			e.Logger.Printf("[DEBUG] revert: connectivity check succeeded against %s", endpoint)
			return
		}
	}
	e.Logger.Printf("[WARN] revert: connectivity check failed against all endpoints")
}

func (e *Engine) pingOnce(ctx context.Context, endpoint string) bool {
	target := endpoint
	if net.ParseIP(endpoint) == nil {
		addrs, err := net.DefaultResolver.LookupHost(ctx, endpoint)
		if err != nil || len(addrs) == 0 {
			return false
		}
		target = addrs[0]
	}

	timeout := e.ConnectivityTimeout
	cmd := fmt.Sprintf("ping -c 1 -W %d %s", int(timeout/time.Second), target)
	_, err := execx.Run(ctx, timeout+5*time.Second, cmd, nil)
	return err == nil
}

func (e *Engine) applyDefaultTemplate(category Category) error {
	switch category {
	case watcher.Network:
		return e.applyNetworkTemplate()
	case watcher.SSH:
		return e.applySSHTemplate()
	case watcher.Firewall:
		return e.applyFirewallTemplate()
	case watcher.Service, watcher.System:
		_, err := execx.Run(context.Background(), restartTimeout, ServiceDaemonReloadCmd, nil)
		return err
	default:
		return nil
	}
}

func (e *Engine) applyNetworkTemplate() error {
	if _, err := os.Stat(e.Paths.NetplanDir); err == nil {
		entries, _ := filepath.Glob(filepath.Join(e.Paths.NetplanDir, "*.yaml"))
		for _, f := range entries {
			os.Remove(f)
		}
		dhcpFile := filepath.Join(e.Paths.NetplanDir, "00-lockguard-dhcp.yaml")
		if err := os.WriteFile(dhcpFile, []byte(NetplanDHCPTemplate), 0o644); err != nil {
			return err
		}
		_, err := execx.Run(context.Background(), restartTimeout, "netplan apply", nil)
		return err
	}

	if _, err := os.Stat(filepath.Dir(e.Paths.NetworkInterfaces)); err == nil {
		return os.WriteFile(e.Paths.NetworkInterfaces, []byte(NetworkInterfacesTemplate), 0o644)
	}

	_, err := execx.Run(context.Background(), restartTimeout, NetworkManagerRestartCmd, nil)
	return err
}

func (e *Engine) applySSHTemplate() error {
	for _, candidate := range e.Paths.SSHDConfigFallbacks {
		data, err := os.ReadFile(candidate)
		if err == nil {
			return os.WriteFile(e.Paths.SSHDConfig, data, 0o644)
		}
	}
	return os.WriteFile(e.Paths.SSHDConfig, []byte(SSHDConfigTemplate), 0o644)
}

func (e *Engine) applyFirewallTemplate() error {
	switch {
	case e.Capability.FirewallTool == "ufw" || commandExists("ufw"):
		for _, c := range []string{UFWResetCmd, UFWAllowSSHCmd, UFWEnableCmd} {
			if _, err := execx.Run(context.Background(), restartTimeout, c, nil); err != nil {
				return err
			}
		}
		return nil
	case commandExists("firewall-cmd"):
		_, err := execx.Run(context.Background(), restartTimeout, FirewalldReloadCmd, nil)
		return err
	default:
		for _, c := range []string{IPTablesFlushCmd, IPTablesAcceptCmd} {
			if _, err := execx.Run(context.Background(), restartTimeout, c, nil); err != nil {
				return err
			}
		}
		return nil
	}
}

func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
