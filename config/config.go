// Package config loads lockguardd's on-disk configuration: a base set of
// defaults overridden by zero or more YAML or JSON config files, merged in
// the order given — grounded on command/agent/config.go's
// mapstructure-tagged Config and command.go's readConfig "DefaultConfig,
// then merge every configured file in order" shape.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// WatcherConfig lists the literal paths and glob patterns lockguardd
// watches, grouped the way the base spec's external-interfaces section
// groups them.
type WatcherConfig struct {
	NetworkConfigs  []string `mapstructure:"network_configs" yaml:"network_configs"`
	SSHConfigs      []string `mapstructure:"ssh_configs" yaml:"ssh_configs"`
	FirewallConfigs []string `mapstructure:"firewall_configs" yaml:"firewall_configs"`
	ServiceConfigs  []string `mapstructure:"service_configs" yaml:"service_configs"`
	CustomPaths     []string `mapstructure:"custom_paths" yaml:"custom_paths"`
}

// Config is lockguardd's full on-disk configuration.
type Config struct {
	LogLevel       string `mapstructure:"log_level" yaml:"log_level"`
	LogFile        string `mapstructure:"log_file" yaml:"log_file"`
	Syslog         bool   `mapstructure:"syslog" yaml:"syslog"`
	SyslogFacility string `mapstructure:"syslog_facility" yaml:"syslog_facility"`

	PIDFile string `mapstructure:"pid_file" yaml:"pid_file"`

	SnapshotDir      string `mapstructure:"snapshot_dir" yaml:"snapshot_dir"`
	MaxSnapshots     int    `mapstructure:"max_snapshots" yaml:"max_snapshots"`
	PreferTimeshift  bool   `mapstructure:"prefer_timeshift" yaml:"prefer_timeshift"`
	CompressSnapshots bool  `mapstructure:"compress_snapshots" yaml:"compress_snapshots"`

	ConnectivityCheck     bool     `mapstructure:"connectivity_check" yaml:"connectivity_check"`
	ConnectivityEndpoints []string `mapstructure:"connectivity_endpoints" yaml:"connectivity_endpoints"`
	GracePeriodSeconds    int      `mapstructure:"grace_period_seconds" yaml:"grace_period_seconds"`

	// Timeouts overrides the per-category default timeout, in seconds,
	// keyed by category name ("network", "ssh", "firewall", "service",
	// "system").
	Timeouts map[string]int `mapstructure:"timeouts" yaml:"timeouts"`

	Watcher WatcherConfig `mapstructure:"watcher" yaml:"watcher"`
}

// DefaultConfig returns lockguardd's baseline configuration: the base
// spec's default grace period and per-category timeouts, manual-snapshot
// storage under /var/lib/lockguardd/snapshots, and watched paths split
// across its watcher groups (a subset of the snapshot store's critical-path
// set: interfaces, netplan, sshd_config, firewall and systemd unit
// directories).
func DefaultConfig() *Config {
	return &Config{
		LogLevel:          "INFO",
		SnapshotDir:       "/var/lib/lockguardd/snapshots",
		MaxSnapshots:      10,
		PreferTimeshift:   true,
		CompressSnapshots: false,
		ConnectivityCheck: true,
		ConnectivityEndpoints: []string{
			"8.8.8.8",
			"1.1.1.1",
		},
		GracePeriodSeconds: 30,
		PIDFile:            "/var/run/lockguardd.pid",
		Watcher: WatcherConfig{
			NetworkConfigs:  []string{"/etc/network/interfaces", "/etc/netplan/*.yaml"},
			SSHConfigs:      []string{"/etc/ssh/sshd_config"},
			FirewallConfigs: []string{"/etc/ufw", "/etc/iptables", "/etc/firewalld"},
			ServiceConfigs:  []string{"/etc/systemd/system"},
		},
	}
}

// GracePeriod is GracePeriodSeconds as a time.Duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// Load builds a Config by starting from DefaultConfig and merging every
// file in paths, in order — a later file's non-zero fields win, matching
// the teacher's "DefaultConfig, then MergeConfig per file" sequencing. A
// path naming a directory has every *.yaml/*.yml/*.json file within it
// merged in lexical order.
func Load(paths []string) (*Config, error) {
	config := DefaultConfig()

	files, err := expandConfigPaths(paths)
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		fileConfig, err := readConfigFile(f)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", f, err)
		}
		config = MergeConfig(config, fileConfig)
	}

	return config, nil
}

func expandConfigPaths(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}

		var matches []string
		for _, pattern := range []string{"*.yaml", "*.yml", "*.json"} {
			more, err := filepath.Glob(filepath.Join(p, pattern))
			if err != nil {
				return nil, err
			}
			matches = append(matches, more...)
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return files, nil
}

func readConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]interface{}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var parsed Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &parsed,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// MergeConfig overlays every non-zero field of b onto a copy of a.
func MergeConfig(a, b *Config) *Config {
	result := *a

	if b.LogLevel != "" {
		result.LogLevel = b.LogLevel
	}
	if b.LogFile != "" {
		result.LogFile = b.LogFile
	}
	if b.Syslog {
		result.Syslog = true
	}
	if b.SyslogFacility != "" {
		result.SyslogFacility = b.SyslogFacility
	}
	if b.PIDFile != "" {
		result.PIDFile = b.PIDFile
	}
	if b.SnapshotDir != "" {
		result.SnapshotDir = b.SnapshotDir
	}
	if b.MaxSnapshots != 0 {
		result.MaxSnapshots = b.MaxSnapshots
	}
	if b.PreferTimeshift {
		result.PreferTimeshift = true
	}
	if b.CompressSnapshots {
		result.CompressSnapshots = true
	}
	if b.ConnectivityCheck {
		result.ConnectivityCheck = true
	}
	if b.GracePeriodSeconds != 0 {
		result.GracePeriodSeconds = b.GracePeriodSeconds
	}
	if len(b.ConnectivityEndpoints) > 0 {
		result.ConnectivityEndpoints = b.ConnectivityEndpoints
	}
	if len(b.Timeouts) > 0 {
		merged := make(map[string]int, len(result.Timeouts)+len(b.Timeouts))
		for k, v := range result.Timeouts {
			merged[k] = v
		}
		for k, v := range b.Timeouts {
			merged[k] = v
		}
		result.Timeouts = merged
	}

	if len(b.Watcher.NetworkConfigs) > 0 {
		result.Watcher.NetworkConfigs = b.Watcher.NetworkConfigs
	}
	if len(b.Watcher.SSHConfigs) > 0 {
		result.Watcher.SSHConfigs = b.Watcher.SSHConfigs
	}
	if len(b.Watcher.FirewallConfigs) > 0 {
		result.Watcher.FirewallConfigs = b.Watcher.FirewallConfigs
	}
	if len(b.Watcher.ServiceConfigs) > 0 {
		result.Watcher.ServiceConfigs = b.Watcher.ServiceConfigs
	}
	if len(b.Watcher.CustomPaths) > 0 {
		result.Watcher.CustomPaths = b.Watcher.CustomPaths
	}

	return &result
}
