package main

import (
	"context"
	"errors"
	"time"
)

// runWorker is the fleet-node entrypoint: reserve an address slice, then
// mine until the context ends. Returns the process exit code.
func runWorker(ctx context.Context, cfg Config) int {
	meta := resolveMetadata(ctx)

	workerID, err := meta.WorkerID(ctx)
	if err != nil {
		logger.Error("resolve worker identity", "error", err)
		return exitFatal
	}
	if cfg.Region == "" {
		region, err := meta.Region(ctx)
		if err != nil {
			logger.Error("resolve region", "error", err)
			return exitFatal
		}
		cfg.Region = region
	}
	publicEndpoint, _ := meta.PublicEndpoint(ctx)

	if err := validateConfig(cfg); err != nil {
		logger.Error("invalid configuration", "error", err)
		return exitFatal
	}

	store, err := newS3ObjectStore(ctx, cfg)
	if err != nil {
		logger.Error("object store init", "error", err)
		return exitFatal
	}

	clk := systemClock{}
	notify := newNotifier(cfg.DiscordBotToken, cfg.DiscordNotifyChannelID)
	defer notify.Stop()

	registry := newRegistryStore(store, clk)
	alloc := newAllocator(registry, addressCachePath(cfg.DataDir), clk)
	addresses, err := alloc.allocate(ctx, workerID, publicEndpoint)
	if err != nil {
		if errors.Is(err, errRegistryExhausted) {
			// The startup script loops on this exit code; the reclaimer or
			// a bigger seed recovers us without operator surgery here.
			logger.Error("no address range available", "worker", workerID)
			notify.registryExhausted(workerID)
			return exitRegistryExhausted
		}
		logger.Error("address allocation failed", "worker", workerID, "error", err)
		return exitFatal
	}
	logger.Info("worker allocated", "worker", workerID, "addresses", len(addresses), "region", cfg.Region)

	solutions := newSolutionsLedger(store, clk)
	if err := solutions.warm(ctx, addresses); err != nil {
		logger.Warn("warming solutions ledger failed, queue may briefly re-mine solved pairs", "error", err)
	}

	var journal *submissionJournal
	if db, err := openStateDB(stateDBPath(cfg.DataDir)); err != nil {
		logger.Warn("state db unavailable, submissions will not be journaled", "error", err)
	} else {
		defer db.Close()
		journal = newSubmissionJournal(db, clk)
	}

	heartbeats := newHeartbeatStore(store, clk)
	go heartbeats.run(ctx, workerID, publicEndpoint, cfg.heartbeatEvery())

	var rec *reclaimer
	if compute, err := newEC2Compute(ctx, cfg); err != nil {
		logger.Warn("compute provider unavailable, this node will never lead reclaims", "error", err)
	} else {
		rec = newReclaimer(registry, heartbeats, compute, workerID, notify)
		go rec.run(ctx, cfg.reclaimEvery())
	}

	api := newMineAPIClient(cfg.MineAPIBaseURL)
	challenges := newChallengeLedger(store, clk, cfg.Region)
	puller := newChallengePuller(api, challenges, clk)
	go puller.run(ctx, cfg.challengeFetchEvery())

	stats := newStatsStore(store, clk)
	sub := newSubmitter(api, solutions, stats, journal, workerID, clk, notify)
	var donations donationSource
	if src := newDonationSource(cfg.DonationAddressURL); src != nil {
		donations = src
	}
	builder := newWorkQueueBuilder(solutions, donations)
	runner := newExecMinerRunner(cfg.MinerBinaryPath, cfg.MaxAttempts)
	orch := newOrchestrator(addresses, cfg.MinerWorkers, challenges, builder, runner, sub, stats, workerID, clk)

	if cfg.StatusAddr != "" {
		srv := newStatusServer(cfg, workerID, addresses, orch, stats, journal, rec, clk)
		go srv.run(ctx)
	}

	logger.Info("mining orchestrator starting", "worker", workerID, "subprocesses", orch.workers)
	start := time.Now()
	orch.run(ctx, cfg.workCheckEvery())
	logger.Info("worker stopped", "worker", workerID, "uptime", time.Since(start).Round(time.Second))
	return exitOK
}
