package vfs

import (
	"fmt"
	"sync"

	"github.com/mwantia/isopod/data"
)

// ReadFunc is the privileged byte-range read capability of one file node.
type ReadFunc func(node *data.VNode, position int64, buf []byte) (int, error)

// TrustedReadRegistry maps filesystem node identity to its privileged
// read function. It is populated only by the mounting code; entries are
// never removed (mounts are permanent for the process lifetime). The
// registry is held by the host, never reachable from a node object, so
// guest code holding a node reference cannot forge reads of other files.
type TrustedReadRegistry struct {
	mu    sync.RWMutex
	reads map[string]ReadFunc
}

func NewTrustedReadRegistry() *TrustedReadRegistry {
	return &TrustedReadRegistry{
		reads: make(map[string]ReadFunc),
	}
}

// register adds a node's read capability. Only callable from the mounting
// code in this package.
func (r *TrustedReadRegistry) register(id string, fn ReadFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reads[id] = fn
}

// Read resolves the node's read capability and performs the read. An
// unknown node identity fails closed.
func (r *TrustedReadRegistry) Read(node *data.VNode, position int64, buf []byte) (int, error) {
	r.mu.RLock()
	fn, exists := r.reads[node.ID]
	r.mu.RUnlock()

	if !exists {
		return 0, fmt.Errorf("%w: no trusted read for node %s", data.ErrCapability, node.ID)
	}

	return fn(node, position, buf)
}

// Len returns the number of registered read capabilities.
func (r *TrustedReadRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.reads)
}
