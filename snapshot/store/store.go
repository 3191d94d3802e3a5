// Package store defines the key→bytes contract used for snapshot images
// and the fetcher's transparent cache: get-then-put, no eviction.
package store

import (
	"context"
	"fmt"
)

// Store is a pure key→bytes store.
type Store interface {
	// Get returns the value for key, or ErrNotExist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores the value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// SnapshotKey names the image captured under the given engine build,
// mirroring the on-disk bundle naming convention.
func SnapshotKey(build string) string {
	return fmt.Sprintf("snapshot_%s.bin", build)
}
