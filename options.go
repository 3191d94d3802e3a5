package isopod

import (
	"context"

	"github.com/mwantia/isopod/bridge"
	"github.com/mwantia/isopod/engine"
	"github.com/mwantia/isopod/gate"
	"github.com/mwantia/isopod/log"
	"github.com/mwantia/isopod/snapshot"
	"github.com/mwantia/isopod/snapshot/store"
	"github.com/mwantia/isopod/vfs"
)

// SpanFunc wraps one bootstrap phase in an observability span. The
// bootstrap calls every major phase through it but attaches no meaning
// to the name; when tracing is disabled the wrapper must behave as a
// plain call of fn.
type SpanFunc func(name string, fn func() error) error

// RelinkFunc replays the custom-serialized host object side table after
// a restore. The mapping is supplied at capture time and replayed here;
// its internals are the collaborator's concern.
type RelinkFunc func(objects []snapshot.HostObject) error

// InitializeFunc runs the guest-side first-time bootstrap once the
// engine and filesystems are in place.
type InitializeFunc func(ctx context.Context, eng engine.Engine) error

// CaptureFunc produces the host object side table recorded alongside a
// freshly captured snapshot.
type CaptureFunc func(eng engine.Engine) ([]snapshot.HostObject, error)

// MountFactory builds a backend that needs the instance clock, such as
// the metadata bundle with its construction-time stamp.
type MountFactory func(clock *bridge.Clock) (vfs.FSOps, error)

type mountSpec struct {
	path    string
	ops     vfs.FSOps
	factory MountFactory
}

type Options struct {
	Logger *log.Logger

	// Factory instantiates the guest engine.
	Factory engine.Factory

	// ExpectedBuild, when set, is verified against the live engine
	// before the instance is handed out. Mismatch is fatal.
	ExpectedBuild string

	// SnapshotStore holds captured images, keyed by engine build.
	SnapshotStore store.Store

	// CaptureSnapshot captures a fresh image after first-time
	// initialization, for future process starts.
	CaptureSnapshot bool

	// Primitive is the privileged native module constructor the
	// capability gate guards.
	Primitive gate.Primitive

	// Gate declares the trusted call sites for the runtime-checked path.
	Gate gate.Config

	// Entropy is the request-scoped entropy source the bridge is
	// re-armed with during post-restore fixups.
	Entropy bridge.RandomSource

	Span       SpanFunc
	Relink     RelinkFunc
	Initialize InitializeFunc
	Capture    CaptureFunc

	mounts []mountSpec
}

type Option func(*Options) error

func newDefaultOptions() *Options {
	return &Options{
		Logger: log.Discard(),
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(opts *Options) error {
		opts.Logger = logger
		return nil
	}
}

func WithEngineFactory(factory engine.Factory) Option {
	return func(opts *Options) error {
		opts.Factory = factory
		return nil
	}
}

func WithExpectedBuild(build string) Option {
	return func(opts *Options) error {
		opts.ExpectedBuild = build
		return nil
	}
}

// WithMount mounts a prebuilt backend at the given absolute path.
func WithMount(path string, ops vfs.FSOps) Option {
	return func(opts *Options) error {
		opts.mounts = append(opts.mounts, mountSpec{path: path, ops: ops})
		return nil
	}
}

// WithMountFactory mounts a backend built at bootstrap time with the
// instance clock.
func WithMountFactory(path string, factory MountFactory) Option {
	return func(opts *Options) error {
		opts.mounts = append(opts.mounts, mountSpec{path: path, factory: factory})
		return nil
	}
}

func WithSnapshotStore(s store.Store) Option {
	return func(opts *Options) error {
		opts.SnapshotStore = s
		return nil
	}
}

func WithSnapshotCapture() Option {
	return func(opts *Options) error {
		opts.CaptureSnapshot = true
		return nil
	}
}

func WithPrimitive(primitive gate.Primitive, cfg gate.Config) Option {
	return func(opts *Options) error {
		opts.Primitive = primitive
		opts.Gate = cfg
		return nil
	}
}

func WithEntropySource(source bridge.RandomSource) Option {
	return func(opts *Options) error {
		opts.Entropy = source
		return nil
	}
}

func WithSpan(span SpanFunc) Option {
	return func(opts *Options) error {
		opts.Span = span
		return nil
	}
}

func WithRelinker(relink RelinkFunc) Option {
	return func(opts *Options) error {
		opts.Relink = relink
		return nil
	}
}

func WithInitializer(initialize InitializeFunc) Option {
	return func(opts *Options) error {
		opts.Initialize = initialize
		return nil
	}
}

func WithCapturer(capture CaptureFunc) Option {
	return func(opts *Options) error {
		opts.Capture = capture
		return nil
	}
}
