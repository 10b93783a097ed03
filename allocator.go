package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

type addressCacheFile struct {
	WorkerID   string    `json:"workerId"`
	Addresses  []string  `json:"addresses"`
	ReservedAt time.Time `json:"reservedAt"`
}

// allocator reserves this worker's address slice. The cache file makes
// restarts O(1): a matching workerId short-circuits the registry entirely.
type allocator struct {
	registry  *registryStore
	cachePath string
	clk       clock
}

func newAllocator(registry *registryStore, cachePath string, clk clock) *allocator {
	if clk == nil {
		clk = systemClock{}
	}
	return &allocator{registry: registry, cachePath: cachePath, clk: clk}
}

// allocate returns the ordered address list this worker will mine.
func (a *allocator) allocate(ctx context.Context, workerID, publicEndpoint string) ([]string, error) {
	if cached, ok := a.readCache(workerID); ok {
		logger.Info("using cached address allocation", "worker", workerID, "count", len(cached))
		return cached, nil
	}

	addresses, err := a.reserveWithWait(ctx, workerID, publicEndpoint)
	if err != nil {
		return nil, err
	}

	if err := a.writeCache(workerID, addresses); err != nil {
		// Cache misses just cost a registry read on the next boot.
		logger.Warn("persist address cache failed", "path", a.cachePath, "error", err)
	}
	return addresses, nil
}

// reserveWithWait retries while the registry object is still absent; the
// controller may be seeding concurrently with the first worker boot.
func (a *allocator) reserveWithWait(ctx context.Context, workerID, publicEndpoint string) ([]string, error) {
	for attempt := 1; ; attempt++ {
		addresses, err := a.registry.reserve(ctx, workerID, publicEndpoint)
		if err == nil {
			if warnCount := countInvalidAddresses(addresses); warnCount > 0 {
				logger.Warn("reserved slice contains malformed addresses", "worker", workerID, "count", warnCount)
			}
			logger.Info("reserved address slice", "worker", workerID, "count", len(addresses))
			return addresses, nil
		}
		if !errors.Is(err, errRegistryNotSeeded) {
			return nil, err
		}
		if attempt >= registryWaitAttempts {
			return nil, fmt.Errorf("registry still unseeded after %d attempts: %w", attempt, err)
		}
		logger.Info("registry not seeded yet, waiting", "attempt", attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(registryWaitDelay):
		}
	}
}

func (a *allocator) readCache(workerID string) ([]string, bool) {
	data, err := os.ReadFile(a.cachePath)
	if err != nil {
		return nil, false
	}
	var cache addressCacheFile
	if err := fastJSONUnmarshal(data, &cache); err != nil {
		logger.Warn("address cache corrupt, ignoring", "path", a.cachePath, "error", err)
		return nil, false
	}
	if cache.WorkerID != workerID || len(cache.Addresses) == 0 {
		return nil, false
	}
	return cache.Addresses, true
}

func (a *allocator) writeCache(workerID string, addresses []string) error {
	cache := addressCacheFile{
		WorkerID:   workerID,
		Addresses:  addresses,
		ReservedAt: a.clk.Now().UTC(),
	}
	data, err := fastJSONMarshal(cache)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(a.cachePath), 0o755); err != nil {
		return err
	}
	tmp := a.cachePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, a.cachePath)
}

// validMiningAddress accepts the bech32 payment addresses the Mine API
// serves challenges for.
func validMiningAddress(address string) bool {
	address = strings.TrimSpace(address)
	if address == "" {
		return false
	}
	hrp, _, err := bech32.DecodeNoLimit(address)
	if err != nil {
		return false
	}
	return strings.HasPrefix(hrp, "addr")
}

func countInvalidAddresses(addresses []string) int {
	invalid := 0
	for _, address := range addresses {
		if !validMiningAddress(address) {
			invalid++
		}
	}
	return invalid
}
