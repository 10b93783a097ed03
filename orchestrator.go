package main

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/remeh/sizedwaitgroup"
)

type inflightWork struct {
	item      workItem
	cancel    context.CancelFunc
	expiresAt time.Time
	startedAt time.Time
}

// orchestrator runs the worker's mining loop: rebuild the work queue each
// tick, keep up to W miner subprocesses busy, abort in-flight work when its
// challenge expires. Coordination with the rest of the fleet happens
// entirely through the shared ledgers.
type orchestrator struct {
	addresses []string
	workers   int

	challenges *challengeLedger
	builder    *workQueueBuilder
	runner     minerRunner
	submit     *submitter
	stats      *statsStore
	workerID   string
	clk        clock

	mu       sync.Mutex
	inflight map[string]*inflightWork
}

func newOrchestrator(addresses []string, workers int, challenges *challengeLedger, builder *workQueueBuilder, runner minerRunner, submit *submitter, stats *statsStore, workerID string, clk clock) *orchestrator {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers <= 0 {
		workers = 1
	}
	if clk == nil {
		clk = systemClock{}
	}
	return &orchestrator{
		addresses:  addresses,
		workers:    workers,
		challenges: challenges,
		builder:    builder,
		runner:     runner,
		submit:     submit,
		stats:      stats,
		workerID:   workerID,
		clk:        clk,
		inflight:   make(map[string]*inflightWork),
	}
}

// run drives the dispatch loop until ctx ends, then waits for the children
// to drain. The expiry scanner runs alongside.
func (o *orchestrator) run(ctx context.Context, tickEvery time.Duration) {
	scanCtx, stopScan := context.WithCancel(ctx)
	defer stopScan()
	go o.expiryScanner(scanCtx, expiryScanInterval)

	swg := sizedwaitgroup.New(o.workers)
	ticker := time.NewTicker(tickEvery)
	defer ticker.Stop()

	for {
		o.tick(ctx, &swg)
		select {
		case <-ctx.Done():
			swg.Wait()
			return
		case <-ticker.C:
		}
	}
}

// tick rebuilds the queue against the shared ledgers and feeds idle slots.
// AddWithContext blocks while all W slots are busy, which is exactly the
// bound the pool wants: nothing is spawned without a free slot.
func (o *orchestrator) tick(ctx context.Context, swg *sizedwaitgroup.SizedWaitGroup) {
	challenges, err := o.challenges.active(ctx)
	if err != nil {
		logger.Warn("load challenge cache failed", "error", err)
		return
	}
	if len(challenges) == 0 {
		logger.Debug("no active challenges")
		return
	}

	o.submit.sweepJournal(ctx, challenges)

	queue := o.builder.build(ctx, o.addresses, challenges)
	if len(queue) == 0 {
		return
	}
	logger.Debug("work queue built", "items", len(queue), "challenges", len(challenges))

	for _, item := range queue {
		if ctx.Err() != nil {
			return
		}
		if !o.tryClaim(item) {
			continue
		}
		if err := swg.AddWithContext(ctx); err != nil {
			o.release(item.key())
			return
		}
		go func(item workItem) {
			defer swg.Done()
			o.mineOne(ctx, item)
		}(item)
	}
}

// tryClaim marks the item in-progress; false when another subprocess is
// already mining this (address, challenge) pair.
func (o *orchestrator) tryClaim(item workItem) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := item.key()
	if _, busy := o.inflight[key]; busy {
		return false
	}
	o.inflight[key] = &inflightWork{
		item:      item,
		expiresAt: item.Challenge.LatestSubmission,
		startedAt: o.clk.Now(),
	}
	return true
}

func (o *orchestrator) setCancel(key string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry, ok := o.inflight[key]; ok {
		entry.cancel = cancel
	}
}

func (o *orchestrator) release(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, key)
}

func (o *orchestrator) mineOne(ctx context.Context, item workItem) {
	key := item.key()
	defer o.release(key)

	mineCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.setCancel(key, cancel)

	result, err := o.runner.Mine(mineCtx, item)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Expiry abort or shutdown; the item simply leaves the queue.
		logger.Debug("mining aborted", "item", key)
		return
	case err != nil:
		logger.Error("miner subprocess failed", "item", key, "error", err)
		if statErr := o.stats.recordError(ctx, recentError{
			Address:     item.Address,
			ChallengeID: item.Challenge.ChallengeID,
			WorkerID:    o.workerID,
			Message:     "miner crash: " + errString(err),
		}); statErr != nil {
			logger.Warn("stats error update failed", "item", key, "error", statErr)
		}
		return
	}

	if !result.Success {
		logger.Debug("no solution this pass", "item", key, "message", result.Message)
		return
	}
	if result.Hash != "" && !hashMeetsDifficulty(result.Hash, item.Challenge.Difficulty) {
		logger.Error("miner reported non-conforming hash", "item", key, "hash", result.Hash)
		return
	}

	if err := o.submit.submit(ctx, item, result.Nonce); err != nil {
		logger.Warn("submission did not complete", "item", key, "error", err)
	}
}

// expiryScanner aborts subprocesses whose challenge can no longer be
// submitted. No in-flight work survives past latestSubmission.
func (o *orchestrator) expiryScanner(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.abortExpired()
		}
	}
}

func (o *orchestrator) abortExpired() {
	now := o.clk.Now()
	o.mu.Lock()
	var victims []*inflightWork
	for _, entry := range o.inflight {
		if !entry.expiresAt.After(now) && entry.cancel != nil {
			victims = append(victims, entry)
		}
	}
	o.mu.Unlock()

	for _, entry := range victims {
		logger.Info("aborting expired work", "item", entry.item.key(),
			"expired", entry.expiresAt.Format(time.RFC3339))
		entry.cancel()
	}
}

// inflightCount is read by the status server.
func (o *orchestrator) inflightCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight)
}
