package main

import (
	"context"
	"sort"
	"time"
)

// reclaimer drops assignments of dead workers. Leadership is deterministic:
// on each tick every worker sorts the live peer set and only the first
// proceeds. A stale peer list can briefly elect two leaders; the registry
// CAS lets only one of them commit, so the race is harmless.
type reclaimer struct {
	registry   *registryStore
	heartbeats *heartbeatStore
	compute    computeProvider
	workerID   string
	notify     *notifier
}

func newReclaimer(registry *registryStore, heartbeats *heartbeatStore, compute computeProvider, workerID string, notify *notifier) *reclaimer {
	return &reclaimer{
		registry:   registry,
		heartbeats: heartbeats,
		compute:    compute,
		workerID:   workerID,
		notify:     notify,
	}
}

// isLeader reports whether this worker sorts first among live peers. A
// worker that cannot see itself in the peer list never leads.
func (r *reclaimer) isLeader(ctx context.Context) (bool, error) {
	peers, err := r.compute.LiveWorkers(ctx)
	if err != nil {
		return false, err
	}
	if len(peers) == 0 {
		return false, nil
	}
	sorted := append([]string(nil), peers...)
	sort.Strings(sorted)
	return sorted[0] == r.workerID, nil
}

// pass runs one reclaim sweep: gather heartbeats, drop assignments older
// than the loose threshold, then delete the orphaned heartbeat files.
func (r *reclaimer) pass(ctx context.Context) error {
	beats, err := r.heartbeats.all(ctx)
	if err != nil {
		return err
	}
	removed, err := r.registry.reclaimStale(ctx, beats, reclaimerStaleThreshold)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		return nil
	}
	logger.Info("reclaimed stale assignments", "count", len(removed), "workers", removed)
	r.notify.workerReclaimed(removed)
	for _, worker := range removed {
		if err := r.heartbeats.remove(ctx, worker); err != nil {
			logger.Warn("drop heartbeat of reclaimed worker", "worker", worker, "error", err)
		}
	}
	return nil
}

// run ticks forever; each tick re-checks leadership so the role migrates
// when the current leader dies.
func (r *reclaimer) run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		leader, err := r.isLeader(ctx)
		if err != nil {
			logger.Warn("leader election failed", "error", err)
			continue
		}
		if !leader {
			continue
		}
		logger.Debug("running reclaim pass as leader", "worker", r.workerID)
		if err := r.pass(ctx); err != nil {
			logger.Warn("reclaim pass failed", "error", err)
		}
	}
}
