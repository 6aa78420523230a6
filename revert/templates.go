package revert

// Default templates used when a timer entry has no snapshot id to restore
// from. These are reproduced byte-for-byte per the base spec's contract —
// do not reformat or "clean up" the literal command text below.

// NetworkInterfacesTemplate rewrites /etc/network/interfaces to a minimal DHCP
// loopback+eth0 configuration.
const NetworkInterfacesTemplate = `auto lo
iface lo inet loopback

auto eth0
iface eth0 inet dhcp
`

// NetworkManagerRestartCmd is used when the host has no
// /etc/network/interfaces and no netplan to fall back to.
const NetworkManagerRestartCmd = "systemctl restart NetworkManager"

// NetplanDHCPTemplate replaces every netplan file with a single DHCP file.
const NetplanDHCPTemplate = `network:
  version: 2
  ethernets:
    eth0:
      dhcp4: true
`

// SSHDConfigTemplate is the literal minimal-safe sshd_config written when
// none of /usr/share/openssh/sshd_config, ...orig, or ...default exist.
const SSHDConfigTemplate = `Port 22
PermitRootLogin yes
PasswordAuthentication yes
PubkeyAuthentication yes
ChallengeResponseAuthentication no
UsePAM yes
Subsystem sftp /usr/lib/openssh/sftp-server
`

var SSHDConfigFallbacks = []string{
	"/usr/share/openssh/sshd_config",
	"/usr/share/openssh/sshd_config.orig",
	"/usr/share/openssh/sshd_config.default",
}

// Firewall recovery commands, one per detected tool.
const (
	UFWResetCmd   = "ufw --force reset"
	UFWAllowSSHCmd = "ufw allow ssh"
	UFWEnableCmd  = "ufw --force enable"

	IPTablesFlushCmd  = "iptables -F && iptables -X && iptables -t nat -F && iptables -t nat -X && iptables -t mangle -F && iptables -t mangle -X"
	IPTablesAcceptCmd = "iptables -P INPUT ACCEPT && iptables -P FORWARD ACCEPT && iptables -P OUTPUT ACCEPT"

	FirewalldReloadCmd = "firewall-cmd --reload"
)

// ServiceDaemonReloadCmd is the default template for the Service category.
const ServiceDaemonReloadCmd = "systemctl daemon-reload"
