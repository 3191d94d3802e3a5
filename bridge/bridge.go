package bridge

import (
	"errors"
	"strings"
	"sync"

	"github.com/mwantia/isopod/data"
	"github.com/mwantia/isopod/log"
)

// RandomSource fills buf with random bytes. The engine's secure-random
// primitive has this shape, and so does any host-side replacement.
type RandomSource func(buf []byte) error

// globalScopeMessage is the message the engine surfaces when secure
// randomness is requested before a request context exists. Matched by
// substring because the engine reports it as a plain error string.
const globalScopeMessage = "disallowed at global scope"

// Bridge carries the process-wide state the bootstrap hooks into the
// guest engine: the entropy fallback, the shared interrupt buffer, and
// the monotonic clock. It is constructor-injected rather than a package
// global so multiple instances can coexist in one process.
type Bridge struct {
	mu sync.Mutex

	log    *log.Logger
	source RandomSource
	armed  bool

	signal *data.SignalState
	clock  *Clock
}

func New(source RandomSource, signal *data.SignalState, clock *Clock, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.Discard()
	}
	if clock == nil {
		clock = NewClock()
	}
	if signal == nil {
		signal = &data.SignalState{}
	}

	return &Bridge{
		log:    logger,
		source: source,
		signal: signal,
		clock:  clock,
	}
}

// GetRandom wraps the engine's secure-random call. During global-scope
// initialization the engine rejects the call; that specific failure is
// absorbed and buf is returned untouched (zero entropy), so one-time
// non-security-relevant initialization does not crash boot. Every other
// failure propagates.
//
// Callers must Rearm the bridge with a real entropy source once a request
// context exists, before any security-sensitive use of randomness.
func (b *Bridge) GetRandom(buf []byte) error {
	b.mu.Lock()
	source := b.source
	b.mu.Unlock()

	if source == nil {
		return nil
	}

	err := source(buf)
	if err == nil {
		return nil
	}

	if errors.Is(err, data.ErrEntropyBlocked) || strings.Contains(err.Error(), globalScopeMessage) {
		b.log.Debug("entropy blocked at global scope, returning zero entropy")
		return nil
	}

	return err
}

// Rearm replaces the random source. Must be called with a real entropy
// source once a request-scoped execution context exists, and again after
// every snapshot restore: a restored memory image encodes callback
// pointers from the snapshotting process, not this one.
func (b *Bridge) Rearm(source RandomSource) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.source = source
	b.armed = true
}

// Armed reports whether a request-scoped entropy source has been
// installed.
func (b *Bridge) Armed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.armed
}

// Signal returns the shared interrupt buffer.
func (b *Bridge) Signal() *data.SignalState {
	return b.signal
}

// Clock returns the monotonic clock.
func (b *Bridge) Clock() *Clock {
	return b.clock
}

// BeginRequest resets the interrupt buffer at the boundary between the
// previous request and a new one. Ordering invariant: this happens before
// the first guest instruction of the new request, guarding against a
// CPU-limit notification for the outgoing request landing just as the
// incoming one begins.
func (b *Bridge) BeginRequest() {
	b.signal.Reset()
}

// NotifyCPULimit marks the interrupt pending and enables handling. Guest
// native code observes it at its next poll point and voluntarily unwinds;
// there is no forced preemption.
func (b *Bridge) NotifyCPULimit() {
	b.log.Debug("cpu limit nearly exceeded, arming interrupt")
	b.signal.Interrupt()
}
