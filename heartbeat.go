package main

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type heartbeatDocument struct {
	LastHeartbeat  time.Time `json:"lastHeartbeat"`
	PublicEndpoint string    `json:"publicEndpoint,omitempty"`
}

// heartbeatStore handles the per-worker liveness files. One writer per key,
// so writes are unconditional.
type heartbeatStore struct {
	store objectStore
	clk   clock
}

func newHeartbeatStore(store objectStore, clk clock) *heartbeatStore {
	if clk == nil {
		clk = systemClock{}
	}
	return &heartbeatStore{store: store, clk: clk}
}

func heartbeatObjectKey(workerID string) string {
	return heartbeatKeyPrefix + workerID + ".json"
}

func (h *heartbeatStore) beat(ctx context.Context, workerID, publicEndpoint string) error {
	doc := heartbeatDocument{
		LastHeartbeat:  h.clk.Now().UTC(),
		PublicEndpoint: publicEndpoint,
	}
	data, err := fastJSONMarshal(doc)
	if err != nil {
		return err
	}
	return h.store.Put(ctx, heartbeatObjectKey(workerID), data, putOptions{ContentType: "application/json"})
}

// all returns workerId -> lastHeartbeat for every heartbeat file present.
// Unreadable files count as absent; the reclaimer then falls back to
// assignedAt age.
func (h *heartbeatStore) all(ctx context.Context) (map[string]time.Time, error) {
	infos, err := h.store.List(ctx, heartbeatKeyPrefix)
	if err != nil {
		return nil, err
	}
	beats := make(map[string]time.Time, len(infos))
	for _, info := range infos {
		workerID := strings.TrimSuffix(strings.TrimPrefix(info.Key, heartbeatKeyPrefix), ".json")
		if workerID == "" {
			continue
		}
		data, _, err := h.store.Get(ctx, info.Key)
		if err != nil {
			logger.Warn("heartbeat file unreadable", "key", info.Key, "error", err)
			continue
		}
		var doc heartbeatDocument
		if err := fastJSONUnmarshal(data, &doc); err != nil {
			logger.Warn("heartbeat file corrupt", "key", info.Key, "error", err)
			continue
		}
		beats[workerID] = doc.LastHeartbeat
	}
	return beats, nil
}

func (h *heartbeatStore) remove(ctx context.Context, workerID string) error {
	if err := h.store.Delete(ctx, heartbeatObjectKey(workerID)); err != nil {
		return fmt.Errorf("remove heartbeat %s: %w", workerID, err)
	}
	return nil
}

// run writes the caller's heartbeat on a fixed cadence until ctx ends.
func (h *heartbeatStore) run(ctx context.Context, workerID, publicEndpoint string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := h.beat(ctx, workerID, publicEndpoint); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("heartbeat write failed", "worker", workerID, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
