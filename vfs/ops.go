package vfs

import (
	"io/fs"

	"github.com/mwantia/isopod/data"
)

// FSOps is the contract every read-only backend implements. The mounting
// code turns backend lookups into VNode objects the guest runtime
// understands.
//
// All five operations are synchronous and must never mutate backend
// state; a mounted filesystem is immutable for the lifetime of the
// mount. Backend keys are opaque strings in the backend's own namespace;
// the empty key addresses the backend root.
type FSOps interface {
	// GetNodeMode returns the permission bits and directory flag for the
	// entry addressed by key. Pure function, no I/O. Directories carry
	// traverse+list permission, files carry read permission; nothing ever
	// carries write permission.
	GetNodeMode(parentKey, name, key string) (fs.FileMode, bool)

	// SetNodeAttributes populates modification time and byte size on the
	// generic node from backend-specific data.
	SetNodeAttributes(node *data.VNode, key string, isDir bool) error

	// Readdir returns the child names of a directory node. Returns
	// ErrNotDirectory when called on a file node. Callers must not assume
	// any particular order.
	Readdir(node *data.VNode) ([]string, error)

	// Lookup resolves name under the parent node to a backend key.
	// Returns ErrNotExist if the name does not exist.
	Lookup(parent *data.VNode, name string) (string, error)

	// Read copies bytes from the file at the given position into buf and
	// returns the number of bytes copied. A read at or past end-of-file
	// returns 0 bytes, never an error. Must be a pure function of
	// (node, position, len(buf)).
	//
	// Guest-facing reads never call this directly off the node; they are
	// resolved through the TrustedReadRegistry.
	Read(node *data.VNode, position int64, buf []byte) (int, error)
}
