package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func seededRegistry(t *testing.T, store objectStore, clk clock, n, k int) *registryStore {
	t.Helper()
	addresses := make([]string, n)
	for i := range addresses {
		addresses[i] = fmt.Sprintf("a%d", i)
	}
	r := newRegistryStore(store, clk)
	if err := r.seed(context.Background(), addresses, k); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return r
}

func TestReserveTwoWorkersRace(t *testing.T) {
	store := newMemStore()
	clk := newManualClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	r := seededRegistry(t, store, clk, 20, 5)
	ctx := context.Background()

	// W2 sneaks its reservation in between W1's read and write; W1's CAS
	// must fail once and retry cleanly.
	store.beforePut = func(key string) {
		if key != registryObjectKey {
			return
		}
		if _, err := r.reserve(ctx, "W2", ""); err != nil {
			t.Errorf("W2 reserve: %v", err)
		}
	}

	got1, err := r.reserve(ctx, "W1", "")
	if err != nil {
		t.Fatalf("W1 reserve: %v", err)
	}
	if len(got1) != 5 {
		t.Fatalf("W1 got %d addresses, want 5", len(got1))
	}

	doc, err := r.load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.NextAvailable != 10 {
		t.Errorf("nextAvailable = %d, want 10", doc.NextAvailable)
	}
	if err := doc.validate(); err != nil {
		t.Errorf("registry invalid after race: %v", err)
	}
	a1, a2 := doc.Assignments["W1"], doc.Assignments["W2"]
	if len(a1.Addresses) != 5 || len(a2.Addresses) != 5 {
		t.Fatalf("assignment sizes = %d, %d, want 5, 5", len(a1.Addresses), len(a2.Addresses))
	}
	if a1.StartAddress == a2.StartAddress {
		t.Errorf("both workers start at %d", a1.StartAddress)
	}
	overlap := a1.StartAddress <= a2.EndAddress && a2.StartAddress <= a1.EndAddress
	if overlap {
		t.Errorf("ranges overlap: W1 [%d,%d] W2 [%d,%d]", a1.StartAddress, a1.EndAddress, a2.StartAddress, a2.EndAddress)
	}
}

func TestReserveIdempotent(t *testing.T) {
	store := newMemStore()
	clk := newManualClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	r := seededRegistry(t, store, clk, 20, 5)
	ctx := context.Background()

	first, err := r.reserve(ctx, "W1", "")
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := r.reserve(ctx, "W1", "")
		if err != nil {
			t.Fatalf("repeat reserve %d: %v", i, err)
		}
		if len(again) != len(first) {
			t.Fatalf("repeat reserve returned %d addresses, want %d", len(again), len(first))
		}
		for j := range again {
			if again[j] != first[j] {
				t.Fatalf("repeat reserve differs at %d: %q vs %q", j, again[j], first[j])
			}
		}
	}

	doc, _ := r.load(ctx)
	if doc.NextAvailable != 5 {
		t.Errorf("nextAvailable = %d, want 5 after repeated reservations", doc.NextAvailable)
	}
}

func TestReserveExhausted(t *testing.T) {
	store := newMemStore()
	clk := newManualClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	r := seededRegistry(t, store, clk, 9, 5)
	ctx := context.Background()

	if _, err := r.reserve(ctx, "W1", ""); err != nil {
		t.Fatalf("W1 reserve: %v", err)
	}
	// 4 addresses left, K=5.
	if _, err := r.reserve(ctx, "W2", ""); !errors.Is(err, errRegistryExhausted) {
		t.Fatalf("W2 reserve err = %v, want errRegistryExhausted", err)
	}
}

func TestReserveReclaimsStaleTight(t *testing.T) {
	store := newMemStore()
	clk := newManualClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	r := seededRegistry(t, store, clk, 10, 5)
	ctx := context.Background()

	if _, err := r.reserve(ctx, "W1", ""); err != nil {
		t.Fatalf("W1 reserve: %v", err)
	}

	// W1 goes quiet past the allocator threshold. W3's reservation drops
	// it but takes the untouched range: holes are skipped, the cursor
	// never moves backwards.
	clk.Advance(allocatorStaleThreshold + time.Second)
	got, err := r.reserve(ctx, "W3", "")
	if err != nil {
		t.Fatalf("W3 reserve: %v", err)
	}
	if got[0] != "a5" {
		t.Errorf("W3 first address = %q, want a5", got[0])
	}

	doc, _ := r.load(ctx)
	if _, ok := doc.Assignments["W1"]; ok {
		t.Errorf("stale W1 still assigned after W3's reservation")
	}
	if doc.NextAvailable != 10 {
		t.Errorf("nextAvailable = %d, want 10", doc.NextAvailable)
	}

	// Nothing assignable remains; the reclaim of W3 is still committed
	// when a later starving worker asks and comes up short.
	clk.Advance(allocatorStaleThreshold + time.Second)
	if _, err := r.reserve(ctx, "W4", ""); !errors.Is(err, errRegistryExhausted) {
		t.Fatalf("W4 reserve err = %v, want exhausted (holes are skipped)", err)
	}
	doc, _ = r.load(ctx)
	if _, ok := doc.Assignments["W3"]; ok {
		t.Errorf("stale W3 survived W4's exhausted reservation")
	}
}

func TestReclaimStaleLoose(t *testing.T) {
	store := newMemStore()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	clk := newManualClock(base)
	r := seededRegistry(t, store, clk, 20, 5)
	ctx := context.Background()

	if _, err := r.reserve(ctx, "W1", ""); err != nil {
		t.Fatalf("W1 reserve: %v", err)
	}

	// 31 minutes later the leader reclaims; the hole at [0,4] stays.
	clk.Advance(31 * time.Minute)
	removed, err := r.reclaimStale(ctx, nil, reclaimerStaleThreshold)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(removed) != 1 || removed[0] != "W1" {
		t.Fatalf("removed = %v, want [W1]", removed)
	}

	doc, _ := r.load(ctx)
	if len(doc.Assignments) != 0 {
		t.Fatalf("assignments = %v, want empty", doc.Assignments)
	}
	if doc.NextAvailable != 5 {
		t.Errorf("nextAvailable = %d, want 5 (unchanged)", doc.NextAvailable)
	}

	// The next reservation takes [5,9], not the freed range.
	got, err := r.reserve(ctx, "W3", "")
	if err != nil {
		t.Fatalf("W3 reserve: %v", err)
	}
	if got[0] != "a5" {
		t.Errorf("W3 first address = %q, want a5", got[0])
	}
}

func TestReclaimKeepsFreshHeartbeat(t *testing.T) {
	store := newMemStore()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	clk := newManualClock(base)
	r := seededRegistry(t, store, clk, 20, 5)
	ctx := context.Background()

	if _, err := r.reserve(ctx, "W1", ""); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	clk.Advance(31 * time.Minute)

	// A recent heartbeat file outranks the stale registry timestamp.
	beats := map[string]time.Time{"W1": clk.Now().Add(-time.Minute)}
	removed, err := r.reclaimStale(ctx, beats, reclaimerStaleThreshold)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(removed) != 0 {
		t.Fatalf("removed = %v, want none", removed)
	}
}

func TestSeedPreservesAssignments(t *testing.T) {
	store := newMemStore()
	clk := newManualClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	r := seededRegistry(t, store, clk, 10, 5)
	ctx := context.Background()

	if _, err := r.reserve(ctx, "W1", ""); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Re-seed with a longer list; W1 survives.
	addresses := make([]string, 30)
	for i := range addresses {
		addresses[i] = fmt.Sprintf("a%d", i)
	}
	if err := r.seed(ctx, addresses, 10); err != nil {
		t.Fatalf("re-seed: %v", err)
	}
	doc, _ := r.load(ctx)
	if _, ok := doc.Assignments["W1"]; !ok {
		t.Fatalf("re-seed dropped W1")
	}
	if doc.AddressesPerInstance != 10 {
		t.Errorf("addressesPerInstance = %d, want 10", doc.AddressesPerInstance)
	}

	// Shrinking below the live assignments must fail validation.
	if err := r.seed(ctx, addresses[:3], 2); err == nil {
		t.Fatalf("shrinking seed succeeded, want validation error")
	}
}

func TestRegistryValidate(t *testing.T) {
	mk := func(next int, spans ...[2]int) *registryDocument {
		doc := &registryDocument{
			Addresses:            make([]string, 20),
			NextAvailable:        next,
			Assignments:          make(map[string]registryAssignment),
			AddressesPerInstance: 5,
		}
		for i, s := range spans {
			doc.Assignments[fmt.Sprintf("W%d", i)] = registryAssignment{
				StartAddress: s[0],
				EndAddress:   s[1],
			}
		}
		return doc
	}

	tests := []struct {
		name    string
		doc     *registryDocument
		wantErr bool
	}{
		{name: "empty", doc: mk(0)},
		{name: "two disjoint", doc: mk(10, [2]int{0, 4}, [2]int{5, 9})},
		{name: "overlap", doc: mk(10, [2]int{0, 5}, [2]int{5, 9}), wantErr: true},
		{name: "beyond cursor", doc: mk(5, [2]int{0, 4}, [2]int{5, 9}), wantErr: true},
		{name: "outside space", doc: mk(20, [2]int{15, 20}), wantErr: true},
		{name: "cursor past end", doc: mk(21), wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate() err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}
