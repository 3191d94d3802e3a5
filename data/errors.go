package data

import "errors"

// Standard errors shared across the bootstrap runtime. Backends and the
// orchestrator wrap these with fmt.Errorf("%w: ...") so callers can match
// with errors.Is.
var (
	// Filesystem contract errors
	ErrNotExist     = errors.New("isopod: no such file or directory")
	ErrNotDirectory = errors.New("isopod: not a directory")
	ErrIsDirectory  = errors.New("isopod: is a directory")
	ErrReadOnly     = errors.New("isopod: read-only filesystem")

	// Mount table errors
	ErrNotMounted     = errors.New("isopod: path not mounted")
	ErrAlreadyMounted = errors.New("isopod: path already mounted")
	ErrInvalidPath    = errors.New("isopod: invalid path")

	// Capability gate errors
	ErrCapability = errors.New("isopod: capability check failed")

	// Entropy errors. ErrEntropyBlocked is the single recoverable entropy
	// condition: secure randomness requested before a request-scoped
	// execution context exists. Every other entropy failure propagates.
	ErrEntropyBlocked = errors.New("isopod: entropy disallowed at global scope")

	// Bootstrap errors
	ErrBuildMismatch = errors.New("isopod: engine build mismatch")
	ErrNotReady      = errors.New("isopod: instance not ready")
	ErrNoSnapshot    = errors.New("isopod: no snapshot available")
)
