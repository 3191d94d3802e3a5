package isopod

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mwantia/isopod/data"
	"github.com/mwantia/isopod/engine"
	"github.com/mwantia/isopod/fetch"
	"github.com/mwantia/isopod/log"
	"github.com/mwantia/isopod/snapshot"
	"github.com/mwantia/isopod/snapshot/store"
	"github.com/mwantia/isopod/snapshot/store/memory"
	"github.com/mwantia/isopod/vfs/archive"
)

func testArchive(t *testing.T) *archive.Archive {
	t.Helper()

	content := "import json\nVERSION = '2.0'\n"
	root := &archive.Entry{
		Children: map[string]*archive.Entry{
			"pkg": {
				Children: map[string]*archive.Entry{
					"mod.py":  {Offset: 0, Size: 12, ModTime: time.Unix(1700000000, 0)},
					"meta.py": {Offset: 12, Size: 16, ModTime: time.Unix(1700000000, 0)},
				},
			},
		},
	}

	a, err := archive.New(root, bytes.NewReader([]byte(content)))
	if err != nil {
		t.Fatalf("failed to build archive: %v", err)
	}
	return a
}

func testInstance(t *testing.T, options ...Option) *Instance {
	t.Helper()

	base := []Option{
		WithEngineFactory(func() (engine.Engine, error) {
			return engine.NewEmulated("2.0", 64), nil
		}),
		WithMount("/lib", testArchive(t)),
	}

	in, err := New(append(base, options...)...)
	if err != nil {
		t.Fatalf("failed to create instance: %v", err)
	}
	return in
}

func TestBootColdStart(t *testing.T) {
	in := testInstance(t)

	if in.State() != StateCreated {
		t.Errorf("expected state created, got %q", in.State())
	}

	if err := in.Boot(context.Background()); err != nil {
		t.Fatalf("boot failed: %v", err)
	}

	if in.State() != StateReady {
		t.Errorf("expected state ready, got %q", in.State())
	}
	if in.Restored() {
		t.Error("cold start must not report restored")
	}

	// Initialization wires the mount paths into the import system.
	eng, err := in.Engine()
	if err != nil {
		t.Fatalf("failed to get engine: %v", err)
	}
	if len(eng.Config().SearchPaths) != 1 || eng.Config().SearchPaths[0] != "/lib" {
		t.Errorf("unexpected search paths: %v", eng.Config().SearchPaths)
	}
}

func TestBootRejectsDoubleBoot(t *testing.T) {
	in := testInstance(t)

	if err := in.Boot(context.Background()); err != nil {
		t.Fatalf("boot failed: %v", err)
	}
	if err := in.Boot(context.Background()); err == nil {
		t.Error("expected second boot to fail")
	}
}

func TestEngineGatedOnReady(t *testing.T) {
	in := testInstance(t)

	if _, err := in.Engine(); !errors.Is(err, data.ErrNotReady) {
		t.Errorf("expected ErrNotReady before boot, got %v", err)
	}
	if err := in.BeginRequest(); !errors.Is(err, data.ErrNotReady) {
		t.Errorf("expected ErrNotReady before boot, got %v", err)
	}
}

// Scenario: cold start, readdir and read through the mounted archive.
func TestColdStartArchiveRoundTrip(t *testing.T) {
	in := testInstance(t)

	if err := in.Boot(context.Background()); err != nil {
		t.Fatalf("boot failed: %v", err)
	}

	fs := in.FileSystem()

	names, err := fs.Readdir("/lib/pkg")
	if err != nil {
		t.Fatalf("failed to readdir: %v", err)
	}
	if len(names) != 2 || names[0] != "meta.py" || names[1] != "mod.py" {
		t.Errorf("unexpected directory listing: %v", names)
	}

	raw, err := fs.ReadFile("/lib/pkg/mod.py")
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if string(raw) != "import json\n" {
		t.Errorf("unexpected file content: %q", raw)
	}
}

// Scenario: a CPU-limit notification for the outgoing request must not
// leak into the next one.
func TestSignalClearedBetweenRequests(t *testing.T) {
	in := testInstance(t)

	if err := in.Boot(context.Background()); err != nil {
		t.Fatalf("boot failed: %v", err)
	}

	if err := in.BeginRequest(); err != nil {
		t.Fatalf("failed to begin request: %v", err)
	}
	in.NotifyCPULimit()

	signal := in.Bridge().Signal()
	if signal.Pending() != data.SignalInterrupt || !signal.Enabled() {
		t.Fatal("expected interrupt pending after cpu limit notification")
	}

	if err := in.BeginRequest(); err != nil {
		t.Fatalf("failed to begin second request: %v", err)
	}
	if signal.Pending() != data.SignalNone || signal.Enabled() {
		t.Error("interrupt from previous request leaked into new request")
	}
}

// Scenario: an image captured under one build must be rejected before
// the target engine's memory is touched.
func TestRestoreBuildMismatchBeforeMemory(t *testing.T) {
	captured := engine.NewEmulated("1.0", 64)
	copy(captured.Memory(), []byte("state from build 1.0"))

	img := &snapshot.Image{
		Build:  captured.BuildVersion(),
		Memory: append([]byte(nil), captured.Memory()...),
	}

	in := testInstance(t, WithEngineFactory(func() (engine.Engine, error) {
		return engine.NewEmulated("1.1", 64), nil
	}))
	if err := in.Boot(context.Background()); err != nil {
		t.Fatalf("boot failed: %v", err)
	}

	eng, err := in.Engine()
	if err != nil {
		t.Fatalf("failed to get engine: %v", err)
	}
	before := append([]byte(nil), eng.Memory()...)

	if err := in.Restore(img); !errors.Is(err, data.ErrBuildMismatch) {
		t.Fatalf("expected ErrBuildMismatch, got %v", err)
	}
	if !bytes.Equal(eng.Memory(), before) {
		t.Error("mismatched restore modified engine memory")
	}
}

func TestCaptureThenRestore(t *testing.T) {
	snapshots := memory.New()

	initialized := false
	first := testInstance(t,
		WithSnapshotStore(snapshots),
		WithSnapshotCapture(),
		WithInitializer(func(ctx context.Context, eng engine.Engine) error {
			initialized = true
			copy(eng.Memory(), []byte("warm interpreter state"))
			return nil
		}),
		WithCapturer(func(eng engine.Engine) ([]snapshot.HostObject, error) {
			return []snapshot.HostObject{{Tag: "module-map", Data: []byte{1, 2}}}, nil
		}),
	)
	if err := first.Boot(context.Background()); err != nil {
		t.Fatalf("first boot failed: %v", err)
	}
	if !initialized {
		t.Fatal("initializer did not run on cold start")
	}

	exists, err := snapshots.Exists(context.Background(), store.SnapshotKey("2.0"))
	if err != nil || !exists {
		t.Fatalf("expected captured snapshot, exists=%t err=%v", exists, err)
	}

	var relinked []snapshot.HostObject
	second := testInstance(t,
		WithSnapshotStore(snapshots),
		WithRelinker(func(objects []snapshot.HostObject) error {
			relinked = objects
			return nil
		}),
		WithInitializer(func(ctx context.Context, eng engine.Engine) error {
			t.Error("initializer ran on restore path")
			return nil
		}),
	)
	if err := second.Boot(context.Background()); err != nil {
		t.Fatalf("second boot failed: %v", err)
	}

	if !second.Restored() {
		t.Error("expected second instance to restore from snapshot")
	}
	eng, err := second.Engine()
	if err != nil {
		t.Fatalf("failed to get engine: %v", err)
	}
	if !bytes.HasPrefix(eng.Memory(), []byte("warm interpreter state")) {
		t.Error("restored memory does not match captured state")
	}
	if len(relinked) != 1 || relinked[0].Tag != "module-map" {
		t.Errorf("unexpected relinked side table: %v", relinked)
	}
}

// A stored image for a different build downgrades to initialization
// instead of failing the boot.
func TestIncompatibleSnapshotFallsBackToInitialize(t *testing.T) {
	snapshots := memory.New()

	stale := &snapshot.Image{Build: "2.0", Memory: make([]byte, 64)}
	if err := snapshots.Put(context.Background(), store.SnapshotKey("3.0"), snapshot.Encode(stale)); err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}

	initialized := false
	in := testInstance(t,
		WithEngineFactory(func() (engine.Engine, error) {
			return engine.NewEmulated("3.0", 64), nil
		}),
		WithSnapshotStore(snapshots),
		WithInitializer(func(ctx context.Context, eng engine.Engine) error {
			initialized = true
			return nil
		}),
	)
	if err := in.Boot(context.Background()); err != nil {
		t.Fatalf("boot failed: %v", err)
	}

	if in.Restored() {
		t.Error("instance restored from an incompatible image")
	}
	if !initialized {
		t.Error("initializer did not run after snapshot was discarded")
	}
}

func TestCorruptSnapshotFallsBackToInitialize(t *testing.T) {
	snapshots := memory.New()
	if err := snapshots.Put(context.Background(), store.SnapshotKey("2.0"), []byte("not an image")); err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}

	in := testInstance(t, WithSnapshotStore(snapshots))
	if err := in.Boot(context.Background()); err != nil {
		t.Fatalf("boot failed: %v", err)
	}
	if in.Restored() {
		t.Error("instance restored from a corrupt image")
	}
}

// A restore clears the interrupt buffer no matter what the captured
// image contained.
func TestRestoreResetsSignalState(t *testing.T) {
	in := testInstance(t)
	if err := in.Boot(context.Background()); err != nil {
		t.Fatalf("boot failed: %v", err)
	}

	in.NotifyCPULimit()

	img := &snapshot.Image{Build: "2.0", Memory: make([]byte, 64)}
	if err := in.Restore(img); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	signal := in.Bridge().Signal()
	if signal.Pending() != data.SignalNone || signal.Enabled() {
		t.Error("expected signal cleared after restore")
	}
}

func TestExpectedBuildMismatchFailsBoot(t *testing.T) {
	in := testInstance(t, WithExpectedBuild("9.9"))

	if err := in.Boot(context.Background()); !errors.Is(err, data.ErrBuildMismatch) {
		t.Errorf("expected ErrBuildMismatch, got %v", err)
	}
}

func TestSpansCoverEveryPhase(t *testing.T) {
	var spans []string
	in := testInstance(t,
		WithSnapshotStore(memory.New()),
		WithSnapshotCapture(),
		WithSpan(func(name string, fn func() error) error {
			spans = append(spans, name)
			return fn()
		}),
	)

	if err := in.Boot(context.Background()); err != nil {
		t.Fatalf("boot failed: %v", err)
	}

	expected := []string{"engine/instantiate", "vfs/mount", "bootstrap/initialize", "snapshot/capture"}
	if len(spans) != len(expected) {
		t.Fatalf("expected spans %v, got %v", expected, spans)
	}
	for i, name := range expected {
		if spans[i] != name {
			t.Errorf("span %d: expected %q, got %q", i, name, spans[i])
		}
	}
}

func TestFactoryFailureLeavesStateCreated(t *testing.T) {
	in := testInstance(t, WithEngineFactory(func() (engine.Engine, error) {
		return nil, fmt.Errorf("out of isolates")
	}))

	if err := in.Boot(context.Background()); err == nil {
		t.Fatal("expected boot to fail")
	}
	if in.State() != StateCreated {
		t.Errorf("expected state created after factory failure, got %q", in.State())
	}
}

func TestEntropyRearmedAfterRestore(t *testing.T) {
	snapshots := memory.New()
	img := &snapshot.Image{Build: "2.0", Memory: make([]byte, 64)}
	if err := snapshots.Put(context.Background(), store.SnapshotKey("2.0"), snapshot.Encode(img)); err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}

	in := testInstance(t,
		WithSnapshotStore(snapshots),
		WithEntropySource(func(buf []byte) error {
			for i := range buf {
				buf[i] = 0x5A
			}
			return nil
		}),
	)
	if err := in.Boot(context.Background()); err != nil {
		t.Fatalf("boot failed: %v", err)
	}

	if !in.Bridge().Armed() {
		t.Error("entropy bridge not re-armed after restore")
	}

	buf := make([]byte, 4)
	if err := in.Bridge().GetRandom(buf); err != nil {
		t.Fatalf("failed to get random: %v", err)
	}
	if !bytes.Equal(buf, []byte{0x5A, 0x5A, 0x5A, 0x5A}) {
		t.Errorf("unexpected entropy output: %v", buf)
	}
}

func TestFetchEngineArtifact(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if !strings.HasSuffix(r.URL.Path, "engine_2.0.bin") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("engine bytes"))
	}))
	defer server.Close()

	cache := memory.New()
	fetcher := fetch.New(log.Discard())

	raw, err := FetchEngineArtifact(context.Background(), fetcher, cache, server.URL, "2.0")
	if err != nil {
		t.Fatalf("failed to fetch artifact: %v", err)
	}
	if string(raw) != "engine bytes" {
		t.Errorf("unexpected artifact content: %q", raw)
	}

	// Second fetch is served from the cache.
	if _, err := FetchEngineArtifact(context.Background(), fetcher, cache, server.URL, "2.0"); err != nil {
		t.Fatalf("failed to fetch cached artifact: %v", err)
	}
	if hits != 1 {
		t.Errorf("expected 1 network hit, got %d", hits)
	}
}

func TestFetchEngineArtifactDevNeverNetworks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("dev artifact request reached the network")
	}))
	defer server.Close()

	fetcher := fetch.New(log.Discard())

	_, err := FetchEngineArtifact(context.Background(), fetcher, memory.New(), server.URL, "dev")
	if !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}

	// With the artifact staged locally, dev resolves from the cache.
	cache := memory.New()
	if err := cache.Put(context.Background(), EngineArtifactKey("dev"), []byte("local dev engine")); err != nil {
		t.Fatalf("failed to stage artifact: %v", err)
	}
	raw, err := FetchEngineArtifact(context.Background(), fetcher, cache, server.URL, "dev")
	if err != nil {
		t.Fatalf("failed to fetch staged dev artifact: %v", err)
	}
	if string(raw) != "local dev engine" {
		t.Errorf("unexpected artifact content: %q", raw)
	}
}
