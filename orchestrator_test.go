package main

import (
	"context"
	"sync"
	"testing"
	"time"
)

// blockingRunner simulates a miner subprocess that never finds a solution
// on its own; it returns only when aborted.
type blockingRunner struct {
	mu      sync.Mutex
	started chan string
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan string, 16)}
}

func (r *blockingRunner) Mine(ctx context.Context, item workItem) (*minerResult, error) {
	r.started <- item.key()
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestOrchestrator(t *testing.T, store *memStore, clk clock, runner minerRunner, api solutionAPI, addresses []string) *orchestrator {
	t.Helper()
	solutions := newSolutionsLedger(store, clk)
	stats := newStatsStore(store, clk)
	challenges := newChallengeLedger(store, clk, "test-region")
	sub := newSubmitter(api, solutions, stats, nil, "W1", clk, nil)
	builder := newWorkQueueBuilder(solutions, nil)
	return newOrchestrator(addresses, 2, challenges, builder, runner, sub, stats, "W1", clk)
}

func TestExpiryAbortsInflightWork(t *testing.T) {
	store := newMemStore()
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	clk := newManualClock(start)
	runner := newBlockingRunner()
	api := newFakeSolutionAPI()
	orch := newTestOrchestrator(t, store, clk, runner, api, []string{"a"})

	challenge := testChallenge("C1", "0F", start.Add(time.Minute))
	item := workItem{Address: "a", Challenge: challenge}
	if !orch.tryClaim(item) {
		t.Fatalf("claim failed on empty orchestrator")
	}

	done := make(chan struct{})
	go func() {
		orch.mineOne(context.Background(), item)
		close(done)
	}()

	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatalf("miner never started")
	}

	// One second past latestSubmission the scanner kills the subprocess.
	clk.Advance(time.Minute + time.Second)
	orch.abortExpired()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("mineOne did not return after abort")
	}
	if orch.inflightCount() != 0 {
		t.Fatalf("inflight = %d, want 0 after abort", orch.inflightCount())
	}
	if api.callCount() != 0 {
		t.Fatalf("submit was called %d times for an expired challenge", api.callCount())
	}
}

func TestAbortLeavesUnexpiredWorkAlone(t *testing.T) {
	store := newMemStore()
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	clk := newManualClock(start)
	runner := newBlockingRunner()
	api := newFakeSolutionAPI()
	orch := newTestOrchestrator(t, store, clk, runner, api, []string{"a"})

	expiring := workItem{Address: "a", Challenge: testChallenge("C1", "0F", start.Add(time.Minute))}
	longLived := workItem{Address: "a", Challenge: testChallenge("C2", "0F", start.Add(time.Hour))}
	for _, item := range []workItem{expiring, longLived} {
		if !orch.tryClaim(item) {
			t.Fatalf("claim %s failed", item.key())
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, item := range []workItem{expiring, longLived} {
		go orch.mineOne(ctx, item)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-runner.started:
		case <-time.After(time.Second):
			t.Fatalf("miner %d never started", i)
		}
	}

	clk.Advance(time.Minute + time.Second)
	orch.abortExpired()

	deadline := time.Now().Add(2 * time.Second)
	for orch.inflightCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("inflight = %d, want 1 (only the expired item released)", orch.inflightCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTryClaimBlocksDuplicateDispatch(t *testing.T) {
	store := newMemStore()
	clk := newManualClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	orch := newTestOrchestrator(t, store, clk, newBlockingRunner(), newFakeSolutionAPI(), []string{"a"})

	item := workItem{Address: "a", Challenge: testChallenge("C1", "0F", clk.Now().Add(time.Hour))}
	if !orch.tryClaim(item) {
		t.Fatalf("first claim failed")
	}
	if orch.tryClaim(item) {
		t.Fatalf("second claim of the same pair succeeded")
	}
	orch.release(item.key())
	if !orch.tryClaim(item) {
		t.Fatalf("claim after release failed")
	}
}

func TestMineOneSubmitsVerifiedSolution(t *testing.T) {
	store := newMemStore()
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	clk := newManualClock(start)
	api := newFakeSolutionAPI()
	runner := scriptedRunner{result: &minerResult{Success: true, Nonce: "n1", Hash: "0300cafe"}}
	orch := newTestOrchestrator(t, store, clk, runner, api, []string{"a"})

	item := workItem{Address: "a", Challenge: testChallenge("C1", "07FF", start.Add(time.Hour))}
	if !orch.tryClaim(item) {
		t.Fatalf("claim failed")
	}
	orch.mineOne(context.Background(), item)

	if api.callCount() != 1 {
		t.Fatalf("submit calls = %d, want 1", api.callCount())
	}
}

func TestMineOneRejectsNonConformingHash(t *testing.T) {
	store := newMemStore()
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	clk := newManualClock(start)
	api := newFakeSolutionAPI()
	// F800 sets a bit outside the 07FF mask.
	runner := scriptedRunner{result: &minerResult{Success: true, Nonce: "n1", Hash: "F800cafe"}}
	orch := newTestOrchestrator(t, store, clk, runner, api, []string{"a"})

	item := workItem{Address: "a", Challenge: testChallenge("C1", "07FF", start.Add(time.Hour))}
	if !orch.tryClaim(item) {
		t.Fatalf("claim failed")
	}
	orch.mineOne(context.Background(), item)

	if api.callCount() != 0 {
		t.Fatalf("submit calls = %d, want 0 for a bogus hash", api.callCount())
	}
}

type scriptedRunner struct {
	result *minerResult
	err    error
}

func (r scriptedRunner) Mine(ctx context.Context, item workItem) (*minerResult, error) {
	return r.result, r.err
}
