// Package snapshot implements the Snapshot Store: creation, listing,
// restoration, and garbage collection of file-tree snapshots of a fixed
// critical path set, addressed by opaque snapshot ids.
package snapshot

import (
	"context"
	"time"
)

// Kind discriminates the two snapshot backends so the correct restore path
// is always used, end to end.
type Kind int

const (
	Manual Kind = iota
	Timeshift
)

func (k Kind) String() string {
	if k == Timeshift {
		return "timeshift"
	}
	return "manual"
}

// ID is the opaque, stable identifier the base spec calls SnapshotId. The
// discriminator travels with the value so callers never have to guess
// which backend produced it.
type ID struct {
	Kind  Kind
	Value string
}

func (id ID) String() string {
	return id.Kind.String() + ":" + id.Value
}

// EntryKind distinguishes a file from a directory in a snapshot manifest.
type EntryKind int

const (
	FileEntry EntryKind = iota
	DirEntry
)

// ManifestEntry is one (path, kind, mode) triple a snapshot can restore.
// Restoration never touches a path absent from the manifest.
type ManifestEntry struct {
	Path string
	Kind EntryKind
	Mode uint32 // octal file mode bits, e.g. 0644
	Size int64  // only meaningful for FileEntry
}

// Metadata describes one snapshot: when it was taken, what it contains,
// and which backend produced it.
type Metadata struct {
	ID          ID
	Created     time.Time
	Description string
	Manifest    []ManifestEntry
}

// Store is the Snapshot Store interface the Timer Registry and Revert
// Engine depend on.
type Store interface {
	Create(ctx context.Context, description string) (ID, error)
	List(ctx context.Context) ([]Metadata, error)
	Restore(ctx context.Context, id ID) error
	Delete(ctx context.Context, id ID) error
	Info(ctx context.Context, id ID) (*Metadata, bool, error)
	Cleanup(ctx context.Context) error
}

// CriticalPaths is the fixed set of absolute paths the manual backend
// mirrors into every snapshot.
var CriticalPaths = []string{
	"/etc/network/interfaces",
	"/etc/netplan",
	"/etc/NetworkManager/system-connections",
	"/etc/systemd/network",
	"/etc/ssh/sshd_config",
	"/etc/ssh/ssh_config.d",
	"/etc/iptables",
	"/etc/ufw",
	"/etc/firewalld",
	"/etc/systemd/system",
	"/etc/hosts",
	"/etc/resolv.conf",
	"/etc/hostname",
}
