// Package archive serves files out of an in-memory indexed archive:
// offsets, sizes and children keyed by path, with byte-range reads
// delegated to a pluggable reader. The backend is agnostic to whether
// content lives in a contiguous buffer, a remote object or a multi-chunk
// compressed container.
package archive

import (
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/mwantia/isopod/data"
	"github.com/tidwall/btree"
)

// Entry describes one archive index entry. Directories carry Children;
// files carry a byte offset into the external content stream plus size
// and modification time.
type Entry struct {
	Children map[string]*Entry

	Offset  int64
	Size    int64
	ModTime time.Time
}

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool {
	return e.Children != nil
}

// Archive implements the vfs.FSOps contract over an entry index and a
// byte-range reader. The index is flattened into a B-tree keyed by
// path at construction; the archive is immutable afterwards.
type Archive struct {
	reader io.ReaderAt
	keys   *btree.Map[string, *Entry]
}

// New builds an archive backend from a root directory entry and the
// reader holding the file content.
func New(root *Entry, reader io.ReaderAt) (*Archive, error) {
	if root == nil || !root.IsDir() {
		return nil, fmt.Errorf("%w: archive root must be a directory", data.ErrInvalidPath)
	}

	a := &Archive{
		reader: reader,
		keys:   btree.NewMap[string, *Entry](0),
	}

	a.index("", root)
	return a, nil
}

func (a *Archive) index(key string, entry *Entry) {
	a.keys.Set(key, entry)

	for name, child := range entry.Children {
		childKey := name
		if key != "" {
			childKey = key + "/" + name
		}
		a.index(childKey, child)
	}
}

func (a *Archive) entry(key string) (*Entry, bool) {
	return a.keys.Get(key)
}

// GetNodeMode returns directory traverse+list or file read permission.
// Nothing ever gets write permission.
func (a *Archive) GetNodeMode(parentKey, name, key string) (fs.FileMode, bool) {
	entry, exists := a.entry(key)
	if !exists {
		return 0, false
	}

	if entry.IsDir() {
		return fs.ModeDir | 0o555, true
	}

	return 0o555, false
}

// SetNodeAttributes populates size and modification time from the index.
func (a *Archive) SetNodeAttributes(node *data.VNode, key string, isDir bool) error {
	entry, exists := a.entry(key)
	if !exists {
		return fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}

	node.ModifyTime = entry.ModTime
	if !isDir {
		node.Size = entry.Size
	}

	return nil
}

// Readdir returns the child names of a directory entry.
func (a *Archive) Readdir(node *data.VNode) ([]string, error) {
	entry, exists := a.entry(node.Key)
	if !exists {
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, node.Key)
	}

	if !entry.IsDir() {
		return nil, fmt.Errorf("%w: %s", data.ErrNotDirectory, node.Key)
	}

	names := make([]string, 0, len(entry.Children))
	for name := range entry.Children {
		names = append(names, name)
	}

	return names, nil
}

// Lookup resolves name under the parent directory to its index key.
func (a *Archive) Lookup(parent *data.VNode, name string) (string, error) {
	entry, exists := a.entry(parent.Key)
	if !exists {
		return "", fmt.Errorf("%w: %s", data.ErrNotExist, parent.Key)
	}

	if !entry.IsDir() {
		return "", fmt.Errorf("%w: %s", data.ErrNotDirectory, parent.Key)
	}

	if _, exists := entry.Children[name]; !exists {
		return "", fmt.Errorf("%w: %s", data.ErrNotExist, name)
	}

	if parent.Key == "" {
		return name, nil
	}

	return parent.Key + "/" + name, nil
}

// Read copies bytes from the content stream. A read at or past
// end-of-file returns 0 bytes, never an error.
func (a *Archive) Read(node *data.VNode, position int64, buf []byte) (int, error) {
	entry, exists := a.entry(node.Key)
	if !exists {
		return 0, fmt.Errorf("%w: %s", data.ErrNotExist, node.Key)
	}

	if entry.IsDir() {
		return 0, fmt.Errorf("%w: %s", data.ErrIsDirectory, node.Key)
	}

	if position >= entry.Size {
		return 0, nil
	}

	limit := int64(len(buf))
	if remaining := entry.Size - position; remaining < limit {
		limit = remaining
	}

	n, err := a.reader.ReadAt(buf[:limit], entry.Offset+position)
	if err == io.EOF && n > 0 {
		err = nil
	}

	return n, err
}
