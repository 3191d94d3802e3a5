// Package gate restricts the privileged "construct a native module from
// raw bytes" primitive to a fixed set of trusted call sites.
//
// Two boundaries are enforced. Host-authored code passes a compile-time
// Token that only this package can mint. Calls arriving through the
// engine's own generated code cannot carry a token, so they fall back to
// a runtime call-stack inspection: a weaker, best-effort boundary, kept
// because the engine's generated code is compiler-produced and not
// manually auditable, and trust attributed to the calling function at
// the moment of the call is harder to forge than any value the guest
// could have captured earlier.
package gate

import (
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/mwantia/isopod/data"
	"github.com/mwantia/isopod/log"
)

// Token authorizes privileged instantiation from host-authored code.
// Only New can mint a valid token; the zero value always fails.
type Token struct {
	valid bool
}

// Primitive is the underlying privileged module constructor.
type Primitive func(raw []byte) error

// Config declares which call sites the gate trusts on the runtime path.
type Config struct {
	// TrustedPackage is the fully qualified package path of the engine's
	// generated-code module.
	TrustedPackage string

	// TrustedFuncs is the whitelist of trampoline/loader function names
	// within TrustedPackage.
	TrustedFuncs []string
}

type Gate struct {
	log       *log.Logger
	primitive Primitive

	trustedPackage string
	trustedFuncs   map[string]bool

	// tracing guards the stack-trace formatter against reentrancy: the
	// formatter disables itself on entry so a bug triggering a nested
	// capability check fails instead of recursing.
	tracing atomic.Bool
}

// New builds a gate around the privileged primitive and mints the single
// token handed to the host's trusted internal entry points at wiring
// time.
func New(primitive Primitive, cfg Config, logger *log.Logger) (*Gate, Token) {
	if logger == nil {
		logger = log.Discard()
	}

	funcs := make(map[string]bool, len(cfg.TrustedFuncs))
	for _, name := range cfg.TrustedFuncs {
		funcs[name] = true
	}

	g := &Gate{
		log:            logger,
		primitive:      primitive,
		trustedPackage: cfg.TrustedPackage,
		trustedFuncs:   funcs,
	}

	return g, Token{valid: true}
}

// InstantiateTrusted materializes a native module on behalf of a
// host-authored trampoline holding the minted token.
func (g *Gate) InstantiateTrusted(tok Token, raw []byte) error {
	if !tok.valid {
		g.log.Warn("native module instantiation with invalid token")
		return fmt.Errorf("%w: invalid token", data.ErrCapability)
	}

	return g.primitive(raw)
}

// Instantiate materializes a native module on behalf of engine-owned
// code. The immediate caller must be one of the whitelisted loader
// functions inside the engine's generated-code package; any failure to
// obtain a trace, a short stack, or a non-matching caller aborts without
// invoking the primitive. Gate failure is fatal to the operation; it is
// never retried.
func (g *Gate) Instantiate(raw []byte) error {
	if err := g.checkCaller(); err != nil {
		g.log.Warn("native module instantiation denied: %v", err)
		return err
	}

	return g.primitive(raw)
}

// checkCaller inspects the frame of Instantiate's caller. The skip count
// is fixed by the Instantiate -> checkCaller nesting and must be
// re-derived if that nesting changes.
func (g *Gate) checkCaller() error {
	if !g.tracing.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: stack trace formatter reentered", data.ErrCapability)
	}
	defer g.tracing.Store(false)

	// 0 = runtime.Callers, 1 = checkCaller, 2 = Instantiate.
	pc := make([]uintptr, 1)
	if n := runtime.Callers(3, pc); n == 0 {
		return fmt.Errorf("%w: unable to capture call stack", data.ErrCapability)
	}

	frame, _ := runtime.CallersFrames(pc).Next()
	if frame.Function == "" {
		return fmt.Errorf("%w: caller frame has no symbol", data.ErrCapability)
	}

	pkg, fn := splitFunction(frame.Function)
	if pkg != g.trustedPackage {
		return fmt.Errorf("%w: caller package %q not trusted", data.ErrCapability, pkg)
	}
	if !g.trustedFuncs[fn] {
		return fmt.Errorf("%w: caller %q not in whitelist", data.ErrCapability, fn)
	}

	return nil
}

// splitFunction splits a runtime symbol like
// "example.com/pkg/sub.(*Type).Method" into package path and function
// name.
func splitFunction(symbol string) (string, string) {
	slash := strings.LastIndex(symbol, "/")
	dot := strings.Index(symbol[slash+1:], ".")
	if dot < 0 {
		return symbol, ""
	}

	split := slash + 1 + dot
	return symbol[:split], symbol[split+1:]
}
