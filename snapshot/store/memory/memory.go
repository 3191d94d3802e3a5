// Package memory provides an in-process store, mainly for tests and
// single-process setups without a cache directory.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mwantia/isopod/data"
)

type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func New() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
	}
}

func (ms *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	value, exists := ms.values[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, key)
	}

	return append([]byte(nil), value...), nil
}

func (ms *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.values[key] = append([]byte(nil), value...)
	return nil
}

func (ms *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	_, exists := ms.values[key]
	return exists, nil
}
