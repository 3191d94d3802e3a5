// Package bundle serves a fixed, embedded set of named byte blobs (for
// example vendored source files) as a single flat read-only directory.
package bundle

import (
	"fmt"
	"io/fs"
	"time"

	"github.com/mwantia/isopod/data"
)

// Item names one blob and its size, known at build time.
type Item struct {
	Name string
	Size int64
}

// Reader copies bytes of the blob at index into buf, starting at
// position, and returns the number of bytes copied.
type Reader func(index int, position int64, buf []byte) (int, error)

// Bundle implements the vfs.FSOps contract over a fixed item list.
// Every entry's modification time is the construction stamp: taken from
// the monotonic clock, it is strictly increasing across process restarts
// even when wall-clock time has not advanced, so the guest's
// directory-changed detection always observes fresh content.
type Bundle struct {
	items []Item
	index map[string]int
	read  Reader
	stamp time.Time
}

// New builds a bundle backend. The stamp should come from the bridge's
// monotonic clock.
func New(items []Item, read Reader, stamp time.Time) *Bundle {
	index := make(map[string]int, len(items))
	for i, item := range items {
		index[item.Name] = i
	}

	return &Bundle{
		items: items,
		index: index,
		read:  read,
		stamp: stamp,
	}
}

// GetNodeMode: the empty key is the single flat directory, every other
// key a file.
func (b *Bundle) GetNodeMode(parentKey, name, key string) (fs.FileMode, bool) {
	if key == "" {
		return fs.ModeDir | 0o555, true
	}

	return 0o555, false
}

// SetNodeAttributes stamps size and the construction-time modification
// time.
func (b *Bundle) SetNodeAttributes(node *data.VNode, key string, isDir bool) error {
	node.ModifyTime = b.stamp

	if isDir {
		return nil
	}

	i, exists := b.index[key]
	if !exists {
		return fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}

	node.Size = b.items[i].Size
	return nil
}

// Readdir lists every item name. Fails on file nodes.
func (b *Bundle) Readdir(node *data.VNode) ([]string, error) {
	if node.Key != "" {
		return nil, fmt.Errorf("%w: %s", data.ErrNotDirectory, node.Key)
	}

	names := make([]string, len(b.items))
	for i, item := range b.items {
		names[i] = item.Name
	}

	return names, nil
}

// Lookup is a pure map lookup from name to the item's key.
func (b *Bundle) Lookup(parent *data.VNode, name string) (string, error) {
	if parent.Key != "" {
		return "", fmt.Errorf("%w: %s", data.ErrNotDirectory, parent.Key)
	}

	if _, exists := b.index[name]; !exists {
		return "", fmt.Errorf("%w: %s", data.ErrNotExist, name)
	}

	return name, nil
}

// Read delegates to the injected reader, keyed by item index and byte
// position. A read at or past end-of-file returns 0 bytes.
func (b *Bundle) Read(node *data.VNode, position int64, buf []byte) (int, error) {
	i, exists := b.index[node.Key]
	if !exists {
		if node.Key == "" {
			return 0, fmt.Errorf("%w: %s", data.ErrIsDirectory, node.Key)
		}
		return 0, fmt.Errorf("%w: %s", data.ErrNotExist, node.Key)
	}

	size := b.items[i].Size
	if position >= size {
		return 0, nil
	}

	limit := int64(len(buf))
	if remaining := size - position; remaining < limit {
		limit = remaining
	}

	return b.read(i, position, buf[:limit])
}
