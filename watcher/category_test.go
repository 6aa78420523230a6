package watcher

import "testing"

// TestCategoryTotality is property P4: every path maps to exactly one
// category, in the documented priority order.
func TestCategoryTotality(t *testing.T) {
	cases := []struct {
		path string
		want Category
	}{
		{"/etc/network/interfaces", Network},
		{"/etc/netplan/01-netcfg.yaml", Network},
		{"/etc/ssh/sshd_config", SSH},
		{"/etc/ufw/user.rules", Firewall},
		{"/etc/iptables/rules.v4", Firewall},
		{"/etc/firewalld/zones/public.xml", Firewall},
		{"/etc/systemd/system/nginx.service", Service},
		{"/lib/systemd/system/cron.service", Service},
		{"/etc/hostname", System},
		{"/etc/hosts", System},
		// Priority: a path containing both "network" and "ssh" substrings
		// resolves to network because network is checked first.
		{"/etc/network/ssh-tunnel.conf", Network},
	}
	for _, c := range cases {
		if got := categorize(c.path); got != c.want {
			t.Errorf("categorize(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}
