package main

import (
	"context"
	"testing"
	"time"
)

func TestChallengeLedgerUpsert(t *testing.T) {
	store := newMemStore()
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	clk := newManualClock(start)
	ledger := newChallengeLedger(store, clk, "eu-west-1")
	ctx := context.Background()

	c1 := testChallenge("C1", "0F", start.Add(time.Hour))
	if err := ledger.upsert(ctx, c1); err != nil {
		t.Fatalf("upsert c1: %v", err)
	}
	// Same id with corrected difficulty replaces the entry.
	c1b := c1
	c1b.Difficulty = "FF"
	if err := ledger.upsert(ctx, c1b); err != nil {
		t.Fatalf("upsert c1b: %v", err)
	}
	c2 := testChallenge("C2", "03", start.Add(2*time.Hour))
	if err := ledger.upsert(ctx, c2); err != nil {
		t.Fatalf("upsert c2: %v", err)
	}

	got, err := ledger.load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("challenges = %d, want 2", len(got))
	}
	byID := make(map[string]queuedChallenge)
	for _, c := range got {
		byID[c.ChallengeID] = c
	}
	if byID["C1"].Difficulty != "FF" {
		t.Errorf("C1 difficulty = %s, want replaced FF", byID["C1"].Difficulty)
	}
}

func TestChallengeLedgerDropsExpired(t *testing.T) {
	store := newMemStore()
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	clk := newManualClock(start)
	ledger := newChallengeLedger(store, clk, "eu-west-1")
	ctx := context.Background()

	short := testChallenge("SHORT", "0F", start.Add(time.Minute))
	long := testChallenge("LONG", "0F", start.Add(time.Hour))
	for _, c := range []queuedChallenge{short, long} {
		if err := ledger.upsert(ctx, c); err != nil {
			t.Fatalf("upsert %s: %v", c.ChallengeID, err)
		}
	}

	clk.Advance(2 * time.Minute)
	live, err := ledger.active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(live) != 1 || live[0].ChallengeID != "LONG" {
		t.Fatalf("active = %v, want only LONG", live)
	}

	// The next upsert also compacts the stored document.
	if err := ledger.upsert(ctx, long); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	all, _ := ledger.load(ctx)
	if len(all) != 1 {
		t.Fatalf("stored challenges = %d, want expired entry compacted away", len(all))
	}
}

func TestChallengeExpiredBoundary(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := testChallenge("C1", "0F", now)
	if !c.expired(now) {
		t.Errorf("latestSubmission == now must count as expired")
	}
	if c.expired(now.Add(-time.Second)) {
		t.Errorf("challenge expired before its deadline")
	}
}
