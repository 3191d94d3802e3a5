package data

import (
	"io/fs"
	"time"
)

// NodeKind distinguishes the two node types the guest runtime understands.
type NodeKind int

const (
	KindFile NodeKind = iota
	KindDirectory
)

func (k NodeKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// VNode represents one entry of a mounted read-only filesystem.
//
// Nodes are immutable after the mounting code has populated them. A node
// never carries write permission, and it never carries its own read
// capability: byte reads are resolved through the trusted read registry,
// keyed by the node's ID, so guest code holding a node reference cannot
// forge reads of other files.
type VNode struct {
	// ID uniquely identifies the node within the process. The mounting
	// code derives it from the mount path and the backend key.
	ID string

	// Key is the opaque backend-specific key for this entry, relative to
	// the backend's own namespace.
	Key string

	// Base name of the entry.
	Name string

	Kind NodeKind
	Mode fs.FileMode

	// Size in bytes (0 for directories).
	Size int64

	ModifyTime time.Time
}

// IsDir reports whether the node is a directory.
func (n *VNode) IsDir() bool {
	return n.Kind == KindDirectory
}
