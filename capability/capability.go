// Package capability builds the read-only record naming the primary
// commands for restarting networking, SSH, the firewall, and systemd
// services on the detected platform. It is produced once at startup and
// never mutated afterward.
package capability

import (
	"bufio"
	"context"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Category mirrors the change categories a command set is keyed by.
type Category string

const (
	Network Category = "network"
	SSH     Category = "ssh"
	Firewall Category = "firewall"
	Service Category = "service"
	System  Category = "system"
)

// Commands names the restart/reload/test commands for one category.
type Commands struct {
	Restart string
	Reload  string
	Test    string
}

// Map is the immutable capability record. Construct it with Detect; there
// are no setters.
type Map struct {
	Platform          string
	HasSystemd        bool
	ServiceCommands   map[Category]Commands
	NetworkRestartCmd string
	SSHServiceName    string
	FirewallTool      string
	PackageManager    string
}

// family classifies a platform id/id_like string into one of the command
// template families, in the documented priority order.
type family int

const (
	familyUnknown family = iota
	familyDebian
	familyRHEL
	familySUSE
	familyArch
)

// Detect reads /etc/os-release and probes for a live systemd D-Bus
// connection to build the capability record. Every failure degrades to a
// conservative default rather than propagating: this is startup-time best
// effort, not a hard dependency.
func Detect(ctx context.Context) *Map {
	platform, fam := detectPlatform()
	hasSystemd := detectSystemd(ctx)

	m := &Map{
		Platform:        platform,
		HasSystemd:      hasSystemd,
		ServiceCommands: commandsForFamily(fam, hasSystemd),
	}
	applyDefaults(m, fam, hasSystemd)
	return m
}

func detectPlatform() (string, family) {
	f, err := os.Open("/etc/os-release")
	if err != nil {
		return "unknown", familyUnknown
	}
	defer f.Close()

	var id, idLike string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "ID="):
			id = unquote(strings.TrimPrefix(line, "ID="))
		case strings.HasPrefix(line, "ID_LIKE="):
			idLike = unquote(strings.TrimPrefix(line, "ID_LIKE="))
		}
	}

	hay := strings.ToLower(id + " " + idLike)
	switch {
	case strings.Contains(hay, "debian") || strings.Contains(hay, "ubuntu"):
		return id, familyDebian
	case strings.Contains(hay, "rhel") || strings.Contains(hay, "fedora") || strings.Contains(hay, "centos"):
		return id, familyRHEL
	case strings.Contains(hay, "suse"):
		return id, familySUSE
	case strings.Contains(hay, "arch"):
		return id, familyArch
	default:
		if id == "" {
			id = "unknown"
		}
		return id, familyUnknown
	}
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}

// detectSystemd probes for a live systemd D-Bus connection. Any error
// (including "no such file", routine in containers) degrades to false and
// is never fatal; only the caller's revert path ever shells out to
// systemctl directly.
func detectSystemd(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	conn, err := dbus.NewSystemdConnectionContext(probeCtx)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func commandsForFamily(fam family, hasSystemd bool) map[Category]Commands {
	svc := func(unit string) Commands {
		if hasSystemd {
			return Commands{
				Restart: "systemctl restart " + unit,
				Reload:  "systemctl reload " + unit,
				Test:    "systemctl is-active " + unit,
			}
		}
		return Commands{
			Restart: "service " + unit + " restart",
			Reload:  "service " + unit + " reload",
			Test:    "service " + unit + " status",
		}
	}

	switch fam {
	case familyRHEL:
		return map[Category]Commands{
			Network:  svc("NetworkManager"),
			SSH:      svc("sshd"),
			Firewall: svc("firewalld"),
			Service:  {Restart: "systemctl daemon-reload", Reload: "systemctl daemon-reload", Test: ""},
			System:   {Restart: "systemctl daemon-reload", Reload: "systemctl daemon-reload", Test: ""},
		}
	case familySUSE:
		return map[Category]Commands{
			Network:  svc("network"),
			SSH:      svc("sshd"),
			Firewall: svc("firewalld"),
			Service:  {Restart: "systemctl daemon-reload", Reload: "systemctl daemon-reload", Test: ""},
			System:   {Restart: "systemctl daemon-reload", Reload: "systemctl daemon-reload", Test: ""},
		}
	case familyArch:
		return map[Category]Commands{
			Network:  svc("NetworkManager"),
			SSH:      svc("sshd"),
			Firewall: svc("iptables"),
			Service:  {Restart: "systemctl daemon-reload", Reload: "systemctl daemon-reload", Test: ""},
			System:   {Restart: "systemctl daemon-reload", Reload: "systemctl daemon-reload", Test: ""},
		}
	case familyDebian, familyUnknown:
		fallthrough
	default:
		// Conservative systemd-based Debian-family fallback, per the base
		// spec's unknown-platform rule.
		return map[Category]Commands{
			Network:  svc("networking"),
			SSH:      svc("ssh"),
			Firewall: svc("ufw"),
			Service:  {Restart: "systemctl daemon-reload", Reload: "systemctl daemon-reload", Test: ""},
			System:   {Restart: "systemctl daemon-reload", Reload: "systemctl daemon-reload", Test: ""},
		}
	}
}

func applyDefaults(m *Map, fam family, hasSystemd bool) {
	switch fam {
	case familyRHEL:
		m.NetworkRestartCmd = "systemctl restart NetworkManager"
		m.SSHServiceName = "sshd"
		m.FirewallTool = "firewalld"
		m.PackageManager = "dnf"
	case familySUSE:
		m.NetworkRestartCmd = "systemctl restart network"
		m.SSHServiceName = "sshd"
		m.FirewallTool = "firewalld"
		m.PackageManager = "zypper"
	case familyArch:
		m.NetworkRestartCmd = "systemctl restart NetworkManager"
		m.SSHServiceName = "sshd"
		m.FirewallTool = "iptables"
		m.PackageManager = "pacman"
	default:
		m.NetworkRestartCmd = "systemctl restart networking"
		m.SSHServiceName = "ssh"
		m.FirewallTool = "ufw"
		m.PackageManager = "apt"
	}
	_ = hasSystemd
}
