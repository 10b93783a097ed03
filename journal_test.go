package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestJournal(t *testing.T, clk clock) *submissionJournal {
	t.Helper()
	db, err := openStateDB(filepath.Join(t.TempDir(), "state", "worker.db"))
	if err != nil {
		t.Fatalf("open state db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return newSubmissionJournal(db, clk)
}

func TestJournalLifecycle(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	clk := newManualClock(start)
	j := newTestJournal(t, clk)
	ctx := context.Background()

	item := workItem{Address: "a", Challenge: testChallenge("C1", "0F", start.Add(time.Hour))}
	if err := j.add(ctx, item, "nonce1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Re-adding the same key refreshes the nonce instead of failing.
	if err := j.add(ctx, item, "nonce2"); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	// Too fresh for the sweep.
	entries, err := j.pendingOlderThan(ctx, 2*time.Minute, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %v, want none before the age cutoff", entries)
	}

	clk.Advance(3 * time.Minute)
	entries, err = j.pendingOlderThan(ctx, 2*time.Minute, 10)
	if err != nil {
		t.Fatalf("pending after advance: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Nonce != "nonce2" || entries[0].Address != "a" {
		t.Fatalf("entry = %+v", entries[0])
	}

	if err := j.markOutcome(ctx, item.key(), journalStatusSubmitted, ""); err != nil {
		t.Fatalf("mark: %v", err)
	}
	entries, _ = j.pendingOlderThan(ctx, 0, 10)
	if len(entries) != 0 {
		t.Fatalf("submitted entry still pending")
	}

	counts, err := j.counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[journalStatusSubmitted] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestJournalNilIsInert(t *testing.T) {
	var j *submissionJournal
	ctx := context.Background()
	item := workItem{Address: "a", Challenge: testChallenge("C1", "0F", time.Now().Add(time.Hour))}

	if err := j.add(ctx, item, "n"); err != nil {
		t.Fatalf("nil add: %v", err)
	}
	if err := j.markOutcome(ctx, item.key(), journalStatusSubmitted, ""); err != nil {
		t.Fatalf("nil mark: %v", err)
	}
	entries, err := j.pendingOlderThan(ctx, 0, 10)
	if err != nil || entries != nil {
		t.Fatalf("nil pending = %v, %v", entries, err)
	}
}
