package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hako/durafmt"
)

// runSeed loads the address file and seeds (or refreshes) the registry.
func runSeed(ctx context.Context, cfg Config) int {
	if cfg.AddressFile == "" {
		logger.Error("mining.address_file is required for seeding")
		return exitFatal
	}
	addresses, err := loadAddressFile(cfg.AddressFile)
	if err != nil {
		logger.Error("load address file", "path", cfg.AddressFile, "error", err)
		return exitFatal
	}

	store, err := newS3ObjectStore(ctx, cfg)
	if err != nil {
		logger.Error("object store init", "error", err)
		return exitFatal
	}
	registry := newRegistryStore(store, systemClock{})
	if err := registry.seed(ctx, addresses, cfg.AddressesPerInstance); err != nil {
		logger.Error("seed registry", "error", err)
		return exitFatal
	}

	capacity := len(addresses) / cfg.AddressesPerInstance
	logger.Info("registry seeded",
		"addresses", len(addresses),
		"perInstance", cfg.AddressesPerInstance,
		"workerCapacity", capacity,
		"bucket", cfg.bucketName())
	return exitOK
}

// loadAddressFile reads one bech32 address per line, ignoring blanks and
// comments. A malformed address is a hard error: seeding garbage would
// waste a worker slot per bad entry for the whole run.
func loadAddressFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var addresses []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		address := strings.TrimSpace(scanner.Text())
		if address == "" || strings.HasPrefix(address, "#") {
			continue
		}
		if !validMiningAddress(address) {
			return nil, fmt.Errorf("line %d: invalid address %q", line, address)
		}
		if _, dup := seen[address]; dup {
			return nil, fmt.Errorf("line %d: duplicate address %q", line, address)
		}
		seen[address] = struct{}{}
		addresses = append(addresses, address)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(addresses) == 0 {
		return nil, fmt.Errorf("no addresses in %s", path)
	}
	return addresses, nil
}

// runScale converges the fleet to the desired worker count.
func runScale(ctx context.Context, cfg Config, count int) int {
	compute, err := newEC2Compute(ctx, cfg)
	if err != nil {
		logger.Error("compute provider init", "error", err)
		return exitFatal
	}
	if err := compute.SetDesiredCount(ctx, count); err != nil {
		logger.Error("scale fleet", "count", count, "error", err)
		return exitFatal
	}
	logger.Info("fleet scaled", "desired", count)
	return exitOK
}

// runStatus prints the fleet aggregate: assignment table, stats counters,
// recent activity and the current reward rate.
func runStatus(ctx context.Context, cfg Config) int {
	store, err := newS3ObjectStore(ctx, cfg)
	if err != nil {
		logger.Error("object store init", "error", err)
		return exitFatal
	}
	clk := systemClock{}
	now := clk.Now().UTC()

	registry := newRegistryStore(store, clk)
	doc, err := registry.load(ctx)
	if err != nil {
		logger.Error("load registry", "error", err)
		return exitFatal
	}
	beats, err := newHeartbeatStore(store, clk).all(ctx)
	if err != nil {
		logger.Warn("load heartbeats", "error", err)
	}

	fmt.Printf("registry: %d addresses, %d per worker, cursor at %d (%d assignable slots left)\n",
		len(doc.Addresses), doc.AddressesPerInstance, doc.NextAvailable,
		remainingSlots(doc))
	fmt.Printf("assignments: %d\n", len(doc.Assignments))

	workers := make([]string, 0, len(doc.Assignments))
	for worker := range doc.Assignments {
		workers = append(workers, worker)
	}
	sort.Strings(workers)
	for _, worker := range workers {
		a := doc.Assignments[worker]
		lastSeen := a.lastSeen()
		if hb, ok := beats[worker]; ok && hb.After(lastSeen) {
			lastSeen = hb
		}
		age := durafmt.Parse(now.Sub(lastSeen)).LimitFirstN(2).String()
		fmt.Printf("  %-22s [%5d..%5d]  last seen %s ago\n", worker, a.StartAddress, a.EndAddress, age)
	}

	stats, err := newStatsStore(store, clk).load(ctx)
	if err != nil {
		logger.Warn("load stats", "error", err)
		return exitOK
	}
	fmt.Printf("\nsolutions: %d total (%d donations), errors: %d\n",
		stats.TotalSolutions, stats.DonationSolutions, stats.TotalErrors)
	for _, sol := range stats.RecentSolutions {
		fmt.Printf("  + %s  %s  challenge %s\n",
			sol.At.Format(time.RFC3339), shortAddress(sol.Address), sol.ChallengeID)
	}
	for _, re := range stats.RecentErrors {
		fmt.Printf("  ! %s  %s\n", re.At.Format(time.RFC3339), re.Message)
	}

	api := newMineAPIClient(cfg.MineAPIBaseURL)
	if rates, err := api.WorkToStarRate(ctx); err == nil && len(rates) > 0 {
		fmt.Printf("\ncurrent reward per solution: %.4f (history of %d days)\n", rates[len(rates)-1], len(rates))
	}

	challenges, err := newChallengeLedger(store, clk, cfg.Region).active(ctx)
	if err == nil && len(challenges) > 0 {
		fmt.Printf("\nactive challenges:\n")
		for _, c := range challenges {
			closes := durafmt.Parse(c.LatestSubmission.Sub(now)).LimitFirstN(2).String()
			fmt.Printf("  %s  day %d  %d difficulty bits  ~%.2f sol/h per MH/s  closes in %s\n",
				c.ChallengeID, c.Day, difficultyBits(c.Difficulty),
				solutionsPerHourEstimate(c.Difficulty, 1e6), closes)
		}
	}
	return exitOK
}

func remainingSlots(doc *registryDocument) int {
	if doc.AddressesPerInstance <= 0 {
		return 0
	}
	return (len(doc.Addresses) - doc.NextAvailable) / doc.AddressesPerInstance
}
