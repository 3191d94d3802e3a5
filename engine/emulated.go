package engine

import (
	"fmt"

	"github.com/mwantia/isopod/data"
)

// Emulated is an in-process stand-in for a real guest engine, used by
// tests and the inspector CLI. It models exactly the surface the
// bootstrap touches: build identity, linear memory, and the callback
// slots.
type Emulated struct {
	build  string
	memory []byte
	config Config

	// RandomSource backs the engine-side secure-random primitive. When
	// nil, the primitive reports the global-scope restriction, matching
	// a real engine before a request context exists.
	RandomSource RandomFunc
}

func NewEmulated(build string, memorySize int) *Emulated {
	e := &Emulated{
		build:  build,
		memory: make([]byte, memorySize),
	}

	e.config.ObjectTableSize = 1024
	return e
}

func (e *Emulated) BuildVersion() string {
	return e.build
}

func (e *Emulated) Config() *Config {
	return &e.config
}

func (e *Emulated) Memory() []byte {
	return e.memory
}

func (e *Emulated) SetMemory(memory []byte) error {
	if len(memory) != len(e.memory) {
		return fmt.Errorf("memory size mismatch: image %d bytes, engine %d bytes",
			len(memory), len(e.memory))
	}

	copy(e.memory, memory)
	return nil
}

// SecureRandom is the engine-side primitive the bridge wraps.
func (e *Emulated) SecureRandom(buf []byte) error {
	if e.RandomSource == nil {
		return fmt.Errorf("%w: secure random disallowed at global scope", data.ErrEntropyBlocked)
	}

	return e.RandomSource(buf)
}
