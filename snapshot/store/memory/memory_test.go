package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/mwantia/isopod/data"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	ms := New()
	ctx := context.Background()

	if _, err := ms.Get(ctx, "k"); !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}

	if err := ms.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := ms.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("expected 'v', got %q", got)
	}

	exists, err := ms.Exists(ctx, "k")
	if err != nil || !exists {
		t.Errorf("expected key to exist, got %v/%v", exists, err)
	}
}

func TestMemoryStore_Detached(t *testing.T) {
	ms := New()
	ctx := context.Background()

	value := []byte("abc")
	if err := ms.Put(ctx, "k", value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Mutating the caller's slice must not affect the stored value.
	value[0] = 'x'

	got, _ := ms.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value aliased caller buffer: %q", got)
	}

	// Mutating a returned slice must not affect later reads.
	got[0] = 'y'
	again, _ := ms.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("returned value aliased store: %q", again)
	}
}
