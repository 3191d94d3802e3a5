package data

// Signal values stored in the pending cell.
const (
	SignalNone      byte = 0
	SignalInterrupt byte = 2
)

// SignalBufferSize is the size of the shared region guest native code
// polls on potentially-long-running operations.
const SignalBufferSize = 32

// SignalState is the shared buffer used to request cooperative
// interruption of long-running guest execution. The host mutates it from
// outside guest execution; guest native code only reads it at poll
// points. Execution is cooperative and single-threaded per instance, so
// no lock is required, only the strict reset-before-reuse ordering the
// orchestrator enforces between requests.
type SignalState struct {
	// Buffer is the fixed-size region mapped into the guest's view.
	Buffer [SignalBufferSize]byte

	pending byte
	enabled bool
}

// Interrupt records a pending interrupt and enables handling. Called only
// in direct response to a CPU-limit-nearly-exceeded notification, never
// speculatively.
func (s *SignalState) Interrupt() {
	s.pending = SignalInterrupt
	s.enabled = true
	s.Buffer[0] = SignalInterrupt
}

// Reset drops any stale pending signal and disables handling. Must happen
// before the first instruction of a new request so a late interrupt from
// the previous request cannot misfire into the new one.
func (s *SignalState) Reset() {
	s.pending = SignalNone
	s.enabled = false
	s.Buffer[0] = SignalNone
}

// Pending returns the current pending signal value.
func (s *SignalState) Pending() byte {
	return s.pending
}

// Enabled reports whether signal handling is currently armed.
func (s *SignalState) Enabled() bool {
	return s.enabled
}
