// Package isopod boots a guest interpreter instance: it instantiates
// the engine, installs the capability and entropy hooks, mounts the
// read-only filesystems, and either restores a memory snapshot or runs
// the first-time initialization, optionally capturing a fresh snapshot
// for future process starts.
package isopod

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mwantia/isopod/bridge"
	"github.com/mwantia/isopod/data"
	"github.com/mwantia/isopod/engine"
	"github.com/mwantia/isopod/gate"
	"github.com/mwantia/isopod/log"
	"github.com/mwantia/isopod/snapshot"
	"github.com/mwantia/isopod/snapshot/store"
	"github.com/mwantia/isopod/vfs"
)

// State is the bootstrap phase an instance is in. Transitions only move
// forward; a failed phase leaves the instance stuck in its last state.
type State int

const (
	StateCreated State = iota
	StateEngineInstantiated
	StateFilesystemsMounted
	StateRestoring
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateEngineInstantiated:
		return "engine-instantiated"
	case StateFilesystemsMounted:
		return "filesystems-mounted"
	case StateRestoring:
		return "restoring"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Instance is one bootstrapped guest interpreter with its private
// collaborator set: registry, filesystem, bridge and gate. Nothing here
// is process-global, so multiple instances coexist in one process.
type Instance struct {
	id   uuid.UUID
	log  *log.Logger
	opts *Options

	state    State
	restored bool

	engine   engine.Engine
	registry *vfs.TrustedReadRegistry
	fs       *vfs.FileSystem
	clock    *bridge.Clock
	signal   *data.SignalState
	bridge   *bridge.Bridge
	gate     *gate.Gate
	token    gate.Token
}

// New assembles an instance in StateCreated. Nothing touches the engine
// or the stores until Boot.
func New(options ...Option) (*Instance, error) {
	opts := newDefaultOptions()
	for _, option := range options {
		if err := option(opts); err != nil {
			return nil, err
		}
	}

	if opts.Factory == nil {
		return nil, fmt.Errorf("isopod: no engine factory configured")
	}

	id := uuid.New()
	logger := opts.Logger.Named(id.String()[:8])

	registry := vfs.NewTrustedReadRegistry()
	signal := &data.SignalState{}
	clock := bridge.NewClock()

	return &Instance{
		id:       id,
		log:      logger,
		opts:     opts,
		state:    StateCreated,
		registry: registry,
		fs:       vfs.New(registry, logger),
		clock:    clock,
		signal:   signal,
		bridge:   bridge.New(opts.Entropy, signal, clock, logger),
	}, nil
}

// Boot drives the state machine to StateReady. Ordering is load-bearing:
// hooks are installed before any guest code can run, filesystems are
// mounted before a restore, and the interrupt buffer is cleared before
// the instance is handed out.
func (in *Instance) Boot(ctx context.Context) (err error) {
	if in.state != StateCreated {
		return fmt.Errorf("isopod: boot from state %q", in.state)
	}

	defer func() {
		if err != nil {
			in.log.Error("bootstrap aborted in state %q: %v", in.state, err)
		}
	}()

	in.log.Info("booting instance %s", in.id)

	if err := in.span("engine/instantiate", in.instantiateEngine); err != nil {
		return fmt.Errorf("instantiating engine: %w", err)
	}
	in.state = StateEngineInstantiated

	if err := in.span("vfs/mount", in.mountFilesystems); err != nil {
		return fmt.Errorf("mounting filesystems: %w", err)
	}
	in.state = StateFilesystemsMounted

	img, err := in.loadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}

	if img != nil {
		in.state = StateRestoring
		if err := in.span("snapshot/restore", func() error {
			return in.Restore(img)
		}); err != nil {
			return fmt.Errorf("restoring snapshot: %w", err)
		}
		in.restored = true
	} else {
		in.state = StateInitializing
		if err := in.span("bootstrap/initialize", func() error {
			return in.initialize(ctx)
		}); err != nil {
			return fmt.Errorf("initializing: %w", err)
		}
	}

	if in.opts.ExpectedBuild != "" && in.engine.BuildVersion() != in.opts.ExpectedBuild {
		return fmt.Errorf("%w: engine reports %q, expected %q",
			data.ErrBuildMismatch, in.engine.BuildVersion(), in.opts.ExpectedBuild)
	}

	in.signal.Reset()
	in.state = StateReady
	in.log.Info("instance ready (restored: %t)", in.restored)

	return nil
}

// instantiateEngine creates the engine and fills its callback slots. If
// any step fails after the factory succeeded, the slots are cleared
// again so a half-wired engine never leaks out.
func (in *Instance) instantiateEngine() (err error) {
	eng, ferr := in.opts.Factory()
	if ferr != nil {
		return ferr
	}

	cfg := eng.Config()
	defer func() {
		if err != nil {
			cfg.Random = nil
			cfg.ModuleLoader = nil
			cfg.Signal = nil
		}
	}()

	cfg.Random = in.bridge.GetRandom
	cfg.Signal = in.signal

	primitive := in.opts.Primitive
	if primitive == nil {
		primitive = func(raw []byte) error {
			return fmt.Errorf("%w: no native module primitive configured", data.ErrCapability)
		}
	}

	g, tok := gate.New(primitive, in.opts.Gate, in.log)
	in.gate = g
	in.token = tok
	cfg.ModuleLoader = g.Instantiate

	in.engine = eng
	return nil
}

func (in *Instance) mountFilesystems() error {
	for _, spec := range in.opts.mounts {
		ops := spec.ops
		if spec.factory != nil {
			built, err := spec.factory(in.clock)
			if err != nil {
				return fmt.Errorf("building backend for %s: %w", spec.path, err)
			}
			ops = built
		}
		if ops == nil {
			return fmt.Errorf("%w: no backend for %s", data.ErrInvalidPath, spec.path)
		}
		if err := in.fs.Mount(spec.path, ops); err != nil {
			return err
		}
	}
	return nil
}

// loadSnapshot fetches and decodes the image for this engine build, or
// returns nil when the instance should take the initialization path
// instead. A corrupt or build-incompatible stored image downgrades to
// initialization rather than failing the boot.
func (in *Instance) loadSnapshot(ctx context.Context) (*snapshot.Image, error) {
	if in.opts.SnapshotStore == nil {
		return nil, nil
	}

	build := in.engine.BuildVersion()
	key := store.SnapshotKey(build)

	raw, err := in.opts.SnapshotStore.Get(ctx, key)
	if err != nil {
		if errors.Is(err, data.ErrNotExist) {
			in.log.Debug("no snapshot for build %q", build)
			return nil, nil
		}
		return nil, err
	}

	img, err := snapshot.Decode(raw)
	if err != nil {
		in.log.Warn("discarding stored snapshot %q: %v", key, err)
		return nil, nil
	}
	if err := img.CompatibleWith(build); err != nil {
		in.log.Warn("discarding stored snapshot %q: %v", key, err)
		return nil, nil
	}

	return img, nil
}

// Restore replaces the engine's linear memory with the image. The build
// identity check happens before any memory side effect; a mismatched
// image leaves the engine untouched. After the memory swap the host
// object side table is relinked and the post-restore fixups run
// unconditionally.
func (in *Instance) Restore(img *snapshot.Image) error {
	if err := img.CompatibleWith(in.engine.BuildVersion()); err != nil {
		return err
	}

	if err := in.engine.SetMemory(img.Memory); err != nil {
		return fmt.Errorf("restoring memory: %w", err)
	}

	if in.opts.Relink != nil {
		if err := in.opts.Relink(img.Objects); err != nil {
			return fmt.Errorf("relinking host objects: %w", err)
		}
	}

	in.fixup()
	return nil
}

// fixup reattaches the restored image to this process. The captured
// memory encodes the snapshotting process's callback pointers and signal
// bytes; the entropy bridge is re-armed and the interrupt buffer
// re-pointed and cleared regardless of what the image contains.
func (in *Instance) fixup() {
	if in.opts.Entropy != nil {
		in.bridge.Rearm(in.opts.Entropy)
	}
	in.engine.Config().Signal = in.signal
	in.signal.Reset()
}

// initialize runs the guest-side first-time bootstrap and optionally
// captures a snapshot of the result.
func (in *Instance) initialize(ctx context.Context) error {
	cfg := in.engine.Config()
	for _, mount := range in.fs.Mounts() {
		cfg.SearchPaths = append(cfg.SearchPaths, mount.Path)
	}

	if in.opts.Initialize != nil {
		if err := in.opts.Initialize(ctx, in.engine); err != nil {
			return err
		}
	}

	if !in.opts.CaptureSnapshot || in.opts.SnapshotStore == nil {
		return nil
	}
	return in.span("snapshot/capture", func() error {
		return in.capture(ctx)
	})
}

func (in *Instance) capture(ctx context.Context) error {
	var objects []snapshot.HostObject
	if in.opts.Capture != nil {
		captured, err := in.opts.Capture(in.engine)
		if err != nil {
			return fmt.Errorf("capturing host objects: %w", err)
		}
		objects = captured
	}

	build := in.engine.BuildVersion()
	img := &snapshot.Image{
		Build:   build,
		Memory:  append([]byte(nil), in.engine.Memory()...),
		Objects: objects,
	}

	key := store.SnapshotKey(build)
	if err := in.opts.SnapshotStore.Put(ctx, key, snapshot.Encode(img)); err != nil {
		return fmt.Errorf("storing snapshot %q: %w", key, err)
	}

	in.log.Info("captured snapshot %q (%d bytes memory, %d host objects)",
		key, len(img.Memory), len(img.Objects))
	return nil
}

func (in *Instance) span(name string, fn func() error) error {
	if in.opts.Span == nil {
		return fn()
	}
	return in.opts.Span(name, fn)
}

// BeginRequest clears the interrupt buffer before the first guest
// instruction of a new request runs, so a CPU-limit notification for the
// outgoing request cannot terminate the incoming one.
func (in *Instance) BeginRequest() error {
	if in.state != StateReady {
		return fmt.Errorf("%w: instance in state %q", data.ErrNotReady, in.state)
	}
	in.bridge.BeginRequest()
	return nil
}

// NotifyCPULimit arms the interrupt; guest native code observes it at
// its next poll point.
func (in *Instance) NotifyCPULimit() {
	in.bridge.NotifyCPULimit()
}

// LoadNativeModule is the trusted entry point for native module
// construction, authorized by the token minted at gate creation.
func (in *Instance) LoadNativeModule(raw []byte) error {
	return in.gate.InstantiateTrusted(in.token, raw)
}

// Engine returns the live engine once the instance is ready.
func (in *Instance) Engine() (engine.Engine, error) {
	if in.state != StateReady {
		return nil, fmt.Errorf("%w: instance in state %q", data.ErrNotReady, in.state)
	}
	return in.engine, nil
}

// FileSystem returns the instance's mounted filesystem tree.
func (in *Instance) FileSystem() *vfs.FileSystem {
	return in.fs
}

// Bridge returns the entropy/interrupt/clock bridge.
func (in *Instance) Bridge() *bridge.Bridge {
	return in.bridge
}

func (in *Instance) ID() uuid.UUID {
	return in.id
}

func (in *Instance) State() State {
	return in.state
}

// Restored reports whether this instance came up from a snapshot rather
// than first-time initialization.
func (in *Instance) Restored() bool {
	return in.restored
}
