// Package fetch downloads engine bundles and guest packages, with a
// transparent key→bytes cache in front of the network.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/mwantia/isopod/log"
	"github.com/mwantia/isopod/snapshot/store"
)

const (
	defaultRetryLimit = 3
	defaultRetryDelay = 5 * time.Second
)

type Fetcher struct {
	log    *log.Logger
	client *http.Client

	// cache is consulted get-then-put; keys are the final path segment
	// of the request URL. Optional.
	cache store.Store

	// origin restricts caching to requests whose scheme+host match the
	// engine's configured content origin. Requests to other origins are
	// fetched but never cached.
	origin string

	retryLimit int
	retryDelay time.Duration
}

type Option func(*Fetcher)

// WithCache installs the transparent cache for same-origin requests.
func WithCache(cache store.Store) Option {
	return func(f *Fetcher) {
		f.cache = cache
	}
}

// WithOrigin sets the content origin eligible for caching, e.g.
// "https://bundles.example.net".
func WithOrigin(origin string) Option {
	return func(f *Fetcher) {
		f.origin = origin
	}
}

// WithRetry overrides the retry policy.
func WithRetry(limit int, delay time.Duration) Option {
	return func(f *Fetcher) {
		f.retryLimit = limit
		f.retryDelay = delay
	}
}

// WithClient overrides the HTTP client.
func WithClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

func New(logger *log.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = log.Discard()
	}

	f := &Fetcher{
		log:        logger,
		client:     http.DefaultClient,
		retryLimit: defaultRetryLimit,
		retryDelay: defaultRetryDelay,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CacheKey is the cache key for a request URL: its final path segment.
func CacheKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return path.Base(rawURL)
	}

	return path.Base(u.Path)
}

func (f *Fetcher) cacheable(rawURL string) bool {
	if f.cache == nil || f.origin == "" {
		return false
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	return u.Scheme+"://"+u.Host == f.origin
}

// Fetch returns the bytes at rawURL, served from the cache when the
// request matches the configured content origin. Downloads are retried
// up to the retry limit with a fixed delay between attempts.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	cacheable := f.cacheable(rawURL)
	key := CacheKey(rawURL)

	if cacheable {
		if value, err := f.cache.Get(ctx, key); err == nil {
			f.log.Debug("cache hit for %s", key)
			return value, nil
		}
	}

	body, err := f.download(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := f.cache.Put(ctx, key, body); err != nil {
			// A failed cache write never fails the fetch.
			f.log.Warn("failed to cache %s: %v", key, err)
		}
	}

	return body, nil
}

func (f *Fetcher) download(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < f.retryLimit; attempt++ {
		if attempt > 0 {
			f.log.Info("retrying download of %s, attempt %d of %d", rawURL, attempt+1, f.retryLimit)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			f.log.Warn("download of %s failed: %v", rawURL, err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("unexpected status %d for %s", resp.StatusCode, rawURL)
			f.log.Warn("download of %s failed with status %d", rawURL, resp.StatusCode)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		return body, nil
	}

	return nil, fmt.Errorf("download of %s failed after %d attempts: %w", rawURL, f.retryLimit, lastErr)
}

// FetchPackage fetches a gzip-compressed guest package and returns the
// decompressed payload. The cache stores the compressed form.
func (f *Fetcher) FetchPackage(ctx context.Context, rawURL string) ([]byte, error) {
	compressed, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	return Decompress(compressed)
}

// Decompress gunzips a package payload.
func Decompress(compressed []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("decompress package: %w", err)
	}
	defer gz.Close()

	payload, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress package: %w", err)
	}

	return payload, nil
}
