package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mwantia/isopod"
	"github.com/mwantia/isopod/bridge"
	"github.com/mwantia/isopod/cli/tui"
	"github.com/mwantia/isopod/engine"
	"github.com/mwantia/isopod/snapshot"
	"github.com/mwantia/isopod/snapshot/store"
	"github.com/mwantia/isopod/snapshot/store/memory"
	"github.com/mwantia/isopod/vfs"
	"github.com/mwantia/isopod/vfs/archive"
	"github.com/mwantia/isopod/vfs/bundle"
)

const demoBuild = "0.26.0a2"

// demoArchive builds a small packaged standard library image.
func demoArchive() (*archive.Archive, error) {
	var blob bytes.Buffer
	stamp := time.Now().Add(-24 * time.Hour)

	files := map[string]string{
		"json/__init__.py": "def loads(s):\n    ...\n",
		"json/decoder.py":  "class JSONDecoder:\n    pass\n",
		"os.py":            "sep = '/'\n",
		"sys.py":           "platform = 'emscripten'\n",
	}

	root := &archive.Entry{Children: map[string]*archive.Entry{}}
	for name, content := range files {
		offset := int64(blob.Len())
		blob.WriteString(content)

		dir := root
		parts := splitPath(name)
		for _, part := range parts[:len(parts)-1] {
			child, ok := dir.Children[part]
			if !ok {
				child = &archive.Entry{Children: map[string]*archive.Entry{}, ModTime: stamp}
				dir.Children[part] = child
			}
			dir = child
		}
		dir.Children[parts[len(parts)-1]] = &archive.Entry{
			Offset:  offset,
			Size:    int64(len(content)),
			ModTime: stamp,
		}
	}

	return archive.New(root, bytes.NewReader(blob.Bytes()))
}

func splitPath(p string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				parts = append(parts, p[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

// demoBundle builds a flat metadata bundle the way site packages are
// delivered: named blobs plus a reader over their backing storage.
func demoBundle(clock *bridge.Clock) (vfs.FSOps, error) {
	blobs := [][]byte{
		[]byte("{\"packages\": {\"numpy\": {\"version\": \"2.1.0\"}}}\n"),
		[]byte("numpy\nrequests\n"),
	}
	items := []bundle.Item{
		{Name: "lock.json", Size: int64(len(blobs[0]))},
		{Name: "requirements.txt", Size: int64(len(blobs[1]))},
	}

	read := func(index int, position int64, buf []byte) (int, error) {
		blob := blobs[index]
		if position >= int64(len(blob)) {
			return 0, nil
		}
		return copy(buf, blob[position:]), nil
	}

	return bundle.New(items, read, clock.Now()), nil
}

func run() error {
	ctx := context.Background()
	snapshots := memory.New()

	instance, err := isopod.New(
		isopod.WithEngineFactory(func() (engine.Engine, error) {
			return engine.NewEmulated(demoBuild, 1<<16), nil
		}),
		isopod.WithExpectedBuild(demoBuild),
		isopod.WithMount("/lib", mustArchive()),
		isopod.WithMountFactory("/meta", demoBundle),
		isopod.WithSnapshotStore(snapshots),
		isopod.WithSnapshotCapture(),
		isopod.WithInitializer(func(ctx context.Context, eng engine.Engine) error {
			copy(eng.Memory(), []byte("demo interpreter heap"))
			return nil
		}),
	)
	if err != nil {
		return err
	}

	if err := instance.Boot(ctx); err != nil {
		return fmt.Errorf("failed to boot: %w", err)
	}

	// Show the freshly captured image in the info pane.
	var image *snapshot.Image
	if raw, err := snapshots.Get(ctx, store.SnapshotKey(demoBuild)); err == nil {
		image, _ = snapshot.Decode(raw)
	}

	return tui.Run(instance, image)
}

func mustArchive() *archive.Archive {
	a, err := demoArchive()
	if err != nil {
		panic(err)
	}
	return a
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
