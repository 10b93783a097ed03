package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestAllocatorCacheFirst(t *testing.T) {
	store := newMemStore()
	clk := newManualClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	r := seededRegistry(t, store, clk, 20, 5)
	cachePath := filepath.Join(t.TempDir(), "addresses.json")
	alloc := newAllocator(r, cachePath, clk)
	ctx := context.Background()

	first, err := alloc.allocate(ctx, "W1", "")
	if err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	if len(first) != 5 {
		t.Fatalf("got %d addresses, want 5", len(first))
	}

	// A restart with the cache present must not touch the registry at all.
	gets, puts := store.getCount(registryObjectKey), store.putCount(registryObjectKey)
	second, err := alloc.allocate(ctx, "W1", "")
	if err != nil {
		t.Fatalf("cached allocate: %v", err)
	}
	if store.getCount(registryObjectKey) != gets || store.putCount(registryObjectKey) != puts {
		t.Fatalf("cached allocate touched the registry (gets %d->%d, puts %d->%d)",
			gets, store.getCount(registryObjectKey), puts, store.putCount(registryObjectKey))
	}
	for i := range first {
		if second[i] != first[i] {
			t.Fatalf("cached list differs at %d: %q vs %q", i, second[i], first[i])
		}
	}
}

func TestAllocatorCacheForeignWorker(t *testing.T) {
	store := newMemStore()
	clk := newManualClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	r := seededRegistry(t, store, clk, 20, 5)
	cachePath := filepath.Join(t.TempDir(), "addresses.json")
	ctx := context.Background()

	// Cache written by a different worker identity is ignored.
	stale := newAllocator(r, cachePath, clk)
	if _, err := stale.allocate(ctx, "W-old", ""); err != nil {
		t.Fatalf("W-old allocate: %v", err)
	}

	alloc := newAllocator(r, cachePath, clk)
	got, err := alloc.allocate(ctx, "W-new", "")
	if err != nil {
		t.Fatalf("W-new allocate: %v", err)
	}
	if got[0] != "a5" {
		t.Errorf("W-new first address = %q, want a5 (fresh reservation)", got[0])
	}
}

func TestAllocatorWaitsForSeed(t *testing.T) {
	store := newMemStore()
	clk := newManualClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	r := newRegistryStore(store, clk)
	cachePath := filepath.Join(t.TempDir(), "addresses.json")
	alloc := newAllocator(r, cachePath, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := alloc.allocate(ctx, "W1", "")
		done <- err
	}()

	// Seed lands while the allocator is waiting.
	time.Sleep(100 * time.Millisecond)
	addresses := make([]string, 10)
	for i := range addresses {
		addresses[i] = "a" + string(rune('0'+i))
	}
	if err := r.seed(context.Background(), addresses, 5); err != nil {
		t.Fatalf("seed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("allocate after late seed: %v", err)
		}
	case <-time.After(2 * registryWaitDelay):
		t.Fatalf("allocate still blocked after seed")
	}
}
