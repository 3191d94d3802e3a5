package vfs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mwantia/isopod/data"
	"github.com/mwantia/isopod/log"
)

// FileSystem is the read-only virtual filesystem presented to the guest's
// import system. Backends are mounted at fixed absolute paths; the whole
// tree is materialized at mount time and immutable afterwards, so any
// number of sequential requests may read it without synchronization.
type FileSystem struct {
	mu sync.RWMutex

	log      *log.Logger
	registry *TrustedReadRegistry

	mounts map[string]*mountEntry
	nodes  map[string]*data.VNode
}

type mountEntry struct {
	ops  FSOps
	info MountInfo
}

// MountInfo provides metadata about a mounted backend.
type MountInfo struct {
	Path      string
	Nodes     int
	MountedAt time.Time
}

func New(registry *TrustedReadRegistry, logger *log.Logger) *FileSystem {
	if registry == nil {
		registry = NewTrustedReadRegistry()
	}
	if logger == nil {
		logger = log.Discard()
	}

	return &FileSystem{
		log:      logger,
		registry: registry,
		mounts:   make(map[string]*mountEntry),
		nodes:    make(map[string]*data.VNode),
	}
}

// Registry returns the trusted read registry backing this filesystem.
func (f *FileSystem) Registry() *TrustedReadRegistry {
	return f.registry
}

// Mount attaches a backend at the given absolute path. The backend's
// whole tree is walked once: every entry becomes an immutable VNode and
// every file's read capability is registered in the trusted read
// registry. Mounts are permanent; there is no unmount.
func (f *FileSystem) Mount(mountPath string, ops FSOps) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	mountPath = cleanPath(mountPath)

	if _, exists := f.mounts[mountPath]; exists {
		return fmt.Errorf("%w: %s", data.ErrAlreadyMounted, mountPath)
	}

	root, err := f.makeNode(mountPath, ops, "", "", "", true)
	if err != nil {
		return fmt.Errorf("mount %s: %w", mountPath, err)
	}

	count := 1
	f.nodes[mountPath] = root

	if err := f.walk(mountPath, ops, root, "", &count); err != nil {
		return fmt.Errorf("mount %s: %w", mountPath, err)
	}

	f.mounts[mountPath] = &mountEntry{
		ops: ops,
		info: MountInfo{
			Path:      mountPath,
			Nodes:     count,
			MountedAt: time.Now(),
		},
	}

	f.log.Debug("mounted %s (%d nodes)", mountPath, count)
	return nil
}

// walk materializes the subtree below dir.
func (f *FileSystem) walk(mountPath string, ops FSOps, dir *data.VNode, rel string, count *int) error {
	names, err := ops.Readdir(dir)
	if err != nil {
		return err
	}

	for _, name := range names {
		key, err := ops.Lookup(dir, name)
		if err != nil {
			return err
		}

		_, isDir := ops.GetNodeMode(dir.Key, name, key)

		childRel := name
		if rel != "" {
			childRel = rel + "/" + name
		}

		child, err := f.makeNode(mountPath, ops, dir.Key, name, key, isDir)
		if err != nil {
			return err
		}

		f.nodes[joinPath(mountPath, childRel)] = child
		*count++

		if isDir {
			if err := f.walk(mountPath, ops, child, childRel, count); err != nil {
				return err
			}
		}
	}

	return nil
}

// makeNode builds one immutable node and, for files, registers its read
// capability.
func (f *FileSystem) makeNode(mountPath string, ops FSOps, parentKey, name, key string, isDir bool) (*data.VNode, error) {
	mode, modeDir := ops.GetNodeMode(parentKey, name, key)
	if modeDir != isDir {
		return nil, fmt.Errorf("%w: backend mode disagrees for %q", data.ErrInvalidPath, key)
	}

	kind := data.KindFile
	if isDir {
		kind = data.KindDirectory
	}

	node := &data.VNode{
		ID:   mountPath + ":" + key,
		Key:  key,
		Name: name,
		Kind: kind,
		Mode: mode,
	}

	if err := ops.SetNodeAttributes(node, key, isDir); err != nil {
		return nil, err
	}

	if !isDir {
		f.registry.register(node.ID, ops.Read)
	}

	return node, nil
}

// Stat returns the node at path, or ErrNotExist.
func (f *FileSystem) Stat(p string) (*data.VNode, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	node, exists := f.nodes[cleanPath(p)]
	if !exists {
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, p)
	}

	return node, nil
}

// Readdir lists the child names of the directory at path.
func (f *FileSystem) Readdir(p string) ([]string, error) {
	node, err := f.Stat(p)
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	entry, err := f.resolveMount(p)
	f.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	names, err := entry.ops.Readdir(node)
	if err != nil {
		return nil, err
	}

	sort.Strings(names)
	return names, nil
}

// Read copies up to len(buf) bytes from the file at path starting at
// position, resolved through the trusted read registry.
func (f *FileSystem) Read(p string, position int64, buf []byte) (int, error) {
	node, err := f.Stat(p)
	if err != nil {
		return 0, err
	}

	if node.IsDir() {
		return 0, fmt.Errorf("%w: %s", data.ErrIsDirectory, p)
	}

	return f.registry.Read(node, position, buf)
}

// ReadFile reads the whole file at path.
func (f *FileSystem) ReadFile(p string) ([]byte, error) {
	node, err := f.Stat(p)
	if err != nil {
		return nil, err
	}

	if node.IsDir() {
		return nil, fmt.Errorf("%w: %s", data.ErrIsDirectory, p)
	}

	buf := make([]byte, node.Size)
	n, err := f.registry.Read(node, 0, buf)
	if err != nil {
		return nil, err
	}

	return buf[:n], nil
}

// Mounts returns the mount table.
func (f *FileSystem) Mounts() []MountInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()

	infos := make([]MountInfo, 0, len(f.mounts))
	for _, entry := range f.mounts {
		infos = append(infos, entry.info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos
}

// resolveMount finds the mount entry owning path via longest-prefix
// match. Callers hold f.mu.
func (f *FileSystem) resolveMount(p string) (*mountEntry, error) {
	p = cleanPath(p)

	var best string
	var found *mountEntry
	for mountPath, entry := range f.mounts {
		if p == mountPath || (len(p) > len(mountPath) && p[:len(mountPath)] == mountPath && (mountPath == "/" || p[len(mountPath)] == '/')) {
			if len(mountPath) > len(best) || found == nil {
				best = mountPath
				found = entry
			}
		}
	}

	if found == nil {
		return nil, fmt.Errorf("%w: %s", data.ErrNotMounted, p)
	}

	return found, nil
}
