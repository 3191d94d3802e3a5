package fetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/mwantia/isopod/snapshot/store/memory"
)

func TestFetcher_CacheKey(t *testing.T) {
	cases := []struct {
		url string
		key string
	}{
		{"https://bundles.example.net/engine_1.0.bin", "engine_1.0.bin"},
		{"https://bundles.example.net/packages/1.0/numpy.tar.gz", "numpy.tar.gz"},
		{"plainkey", "plainkey"},
	}

	for _, c := range cases {
		if got := CacheKey(c.url); got != c.key {
			t.Errorf("CacheKey(%q) = %q, want %q", c.url, got, c.key)
		}
	}
}

func TestFetcher_GetThenPut(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("bundle-bytes"))
	}))
	defer server.Close()

	cache := memory.New()
	f := New(nil, WithCache(cache), WithOrigin(server.URL))

	ctx := context.Background()
	url := server.URL + "/engine_1.0.bin"

	body, err := f.Fetch(ctx, url)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(body) != "bundle-bytes" {
		t.Fatalf("expected 'bundle-bytes', got %q", body)
	}

	// Second fetch must be served from the cache.
	body, err = f.Fetch(ctx, url)
	if err != nil {
		t.Fatalf("second Fetch failed: %v", err)
	}
	if string(body) != "bundle-bytes" {
		t.Fatalf("expected cached bytes, got %q", body)
	}

	if hits.Load() != 1 {
		t.Errorf("expected 1 network hit, got %d", hits.Load())
	}

	if cached, err := cache.Get(ctx, "engine_1.0.bin"); err != nil || string(cached) != "bundle-bytes" {
		t.Errorf("expected cache populated, got %q/%v", cached, err)
	}
}

func TestFetcher_OriginMismatchNotCached(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer server.Close()

	cache := memory.New()
	f := New(nil, WithCache(cache), WithOrigin("https://bundles.example.net"))

	ctx := context.Background()
	if _, err := f.Fetch(ctx, server.URL+"/thing.bin"); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if exists, _ := cache.Exists(ctx, "thing.bin"); exists {
		t.Error("cross-origin response must not be cached")
	}
}

func TestFetcher_Retry(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("eventually"))
	}))
	defer server.Close()

	f := New(nil, WithRetry(3, time.Millisecond))

	body, err := f.Fetch(context.Background(), server.URL+"/flaky.bin")
	if err != nil {
		t.Fatalf("Fetch failed after retries: %v", err)
	}
	if string(body) != "eventually" {
		t.Fatalf("expected 'eventually', got %q", body)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestFetcher_RetriesExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := New(nil, WithRetry(2, time.Millisecond))

	if _, err := f.Fetch(context.Background(), server.URL+"/broken.bin"); err == nil {
		t.Fatal("expected error after exhausted retries")
	}
}

func TestFetcher_FetchPackage(t *testing.T) {
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	gz.Write([]byte("print('hello')\n"))
	gz.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(compressed.Bytes())
	}))
	defer server.Close()

	f := New(nil)

	payload, err := f.FetchPackage(context.Background(), server.URL+"/pkg.tar.gz")
	if err != nil {
		t.Fatalf("FetchPackage failed: %v", err)
	}
	if string(payload) != "print('hello')\n" {
		t.Fatalf("expected decompressed payload, got %q", payload)
	}
}
