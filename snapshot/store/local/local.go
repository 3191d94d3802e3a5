// Package local stores values as files under a root directory, the
// disk-cache layout used for prebuilt engine bundles and captured
// snapshot images.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mwantia/isopod/data"
)

type LocalStore struct {
	root string
}

// New creates a file store rooted at dir, creating it if needed.
func New(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}

	return &LocalStore{root: dir}, nil
}

func (ls *LocalStore) path(key string) string {
	return filepath.Join(ls.root, filepath.FromSlash(key))
}

func (ls *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := os.ReadFile(ls.path(key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}
	if err != nil {
		return nil, err
	}

	return value, nil
}

func (ls *LocalStore) Put(ctx context.Context, key string, value []byte) error {
	target := ls.path(key)

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	// Write-then-rename so a crashed Put never leaves a torn value.
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return err
	}

	return os.Rename(tmp, target)
}

func (ls *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(ls.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}
