// Package engine declares the boundary to the guest interpreter. The
// interpreter itself is an external, versioned artifact; the bootstrap
// only inspects its build identity, owns its linear memory, and fills
// the callback slots of its configuration record.
package engine

import (
	"github.com/mwantia/isopod/data"
)

// RandomFunc fills buf with random bytes on behalf of the guest.
type RandomFunc func(buf []byte) error

// ModuleLoaderFunc materializes a native module from raw bytes. Installed
// by the bootstrap, wrapped in the capability gate.
type ModuleLoaderFunc func(raw []byte) error

// Config is the engine's mutable configuration record. The bootstrap
// fills the callback slots before any guest code can run; the guest's
// own setup later reads the search paths.
type Config struct {
	// SearchPaths the guest's import system consults, in order. The
	// guest's own path setup decides how these interleave with its
	// standard library paths.
	SearchPaths []string

	// ObjectTableSize is the initial size of the guest's object-identity
	// table.
	ObjectTableSize int

	// Random is the secure-random callback slot.
	Random RandomFunc

	// ModuleLoader is the native-module-construction callback slot.
	ModuleLoader ModuleLoaderFunc

	// Signal is the shared interrupt buffer guest native code polls on
	// long-running operations.
	Signal *data.SignalState
}

// Engine is one guest interpreter instance.
type Engine interface {
	// BuildVersion returns the engine's build identity. Snapshot images
	// are only valid for the exact build they were captured under.
	BuildVersion() string

	// Config returns the mutable configuration record.
	Config() *Config

	// Memory returns the engine's linear memory.
	Memory() []byte

	// SetMemory replaces the linear memory wholesale, as done when
	// restoring a snapshot image.
	SetMemory(memory []byte) error
}

// Factory instantiates an engine. Provided by the host; the bootstrap
// treats it as an opaque collaborator.
type Factory func() (Engine, error)
