package isopod

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mwantia/isopod/data"
	"github.com/mwantia/isopod/fetch"
	"github.com/mwantia/isopod/snapshot/store"
)

// EngineArtifactKey names the engine bundle for a build, both in the
// local cache and at the distribution origin.
func EngineArtifactKey(build string) string {
	return fmt.Sprintf("engine_%s.bin", build)
}

// FetchEngineArtifact resolves the engine bundle for a build: cache
// first, then the distribution origin. Development builds are only ever
// served from the cache; they are expected to be placed there by the
// build system and must never be fetched over the network.
func FetchEngineArtifact(ctx context.Context, fetcher *fetch.Fetcher, cache store.Store, baseURL, build string) ([]byte, error) {
	key := EngineArtifactKey(build)

	if cache != nil {
		raw, err := cache.Get(ctx, key)
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, data.ErrNotExist) {
			return nil, err
		}
	}

	if build == "dev" {
		return nil, fmt.Errorf("%w: development engine %q must be provided locally", data.ErrNotExist, key)
	}

	raw, err := fetcher.Fetch(ctx, strings.TrimSuffix(baseURL, "/")+"/"+key)
	if err != nil {
		return nil, fmt.Errorf("fetching engine artifact %q: %w", key, err)
	}

	if cache != nil {
		if err := cache.Put(ctx, key, raw); err != nil {
			return nil, fmt.Errorf("caching engine artifact %q: %w", key, err)
		}
	}

	return raw, nil
}
