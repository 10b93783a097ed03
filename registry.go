package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	errRegistryExhausted = errors.New("registry exhausted: no address range left to assign")
	errRegistryNotSeeded = errors.New("registry not seeded yet")
)

type registryAssignment struct {
	WorkerID       string     `json:"workerId"`
	PublicEndpoint string     `json:"publicEndpoint,omitempty"`
	StartAddress   int        `json:"startAddress"`
	EndAddress     int        `json:"endAddress"`
	Addresses      []string   `json:"addresses"`
	AssignedAt     time.Time  `json:"assignedAt"`
	LastHeartbeat  *time.Time `json:"lastHeartbeat,omitempty"`
}

// lastSeen is the freshest liveness signal we have for the assignment.
func (a registryAssignment) lastSeen() time.Time {
	if a.LastHeartbeat != nil && a.LastHeartbeat.After(a.AssignedAt) {
		return *a.LastHeartbeat
	}
	return a.AssignedAt
}

type registryDocument struct {
	Addresses            []string                      `json:"addresses"`
	NextAvailable        int                           `json:"nextAvailable"`
	Assignments          map[string]registryAssignment `json:"assignments"`
	AddressesPerInstance int                           `json:"addressesPerInstance"`
	SeededAt             time.Time                     `json:"seededAt"`
}

// validate checks the structural invariants: every assignment range is a
// contiguous sub-interval of [0, len(addresses)), distinct ranges are
// disjoint, and nextAvailable lies past the highest assigned index (every
// endAddress is below it).
func (doc *registryDocument) validate() error {
	n := len(doc.Addresses)
	if doc.NextAvailable < 0 || doc.NextAvailable > n {
		return fmt.Errorf("nextAvailable %d outside [0, %d]", doc.NextAvailable, n)
	}
	type span struct {
		worker     string
		start, end int
	}
	spans := make([]span, 0, len(doc.Assignments))
	for worker, a := range doc.Assignments {
		if a.StartAddress < 0 || a.EndAddress >= n || a.StartAddress > a.EndAddress {
			return fmt.Errorf("assignment %s range [%d, %d] outside address space of %d", worker, a.StartAddress, a.EndAddress, n)
		}
		if a.EndAddress >= doc.NextAvailable {
			return fmt.Errorf("assignment %s ends at %d beyond nextAvailable %d", worker, a.EndAddress, doc.NextAvailable)
		}
		spans = append(spans, span{worker, a.StartAddress, a.EndAddress})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start <= spans[i-1].end {
			return fmt.Errorf("assignments %s and %s overlap", spans[i-1].worker, spans[i].worker)
		}
	}
	return nil
}

// registryStore wraps the registry object with its CAS discipline. No
// mutation ever blind-writes the document.
type registryStore struct {
	store objectStore
	clk   clock
}

func newRegistryStore(store objectStore, clk clock) *registryStore {
	if clk == nil {
		clk = systemClock{}
	}
	return &registryStore{store: store, clk: clk}
}

func (r *registryStore) load(ctx context.Context) (*registryDocument, error) {
	data, _, err := r.store.Get(ctx, registryObjectKey)
	if errors.Is(err, errObjectNotFound) {
		return nil, errRegistryNotSeeded
	}
	if err != nil {
		return nil, err
	}
	return decodeRegistry(data)
}

func decodeRegistry(data []byte) (*registryDocument, error) {
	var doc registryDocument
	if err := fastJSONUnmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	if doc.Assignments == nil {
		doc.Assignments = make(map[string]registryAssignment)
	}
	return &doc, nil
}

// seed creates or refreshes the registry. Existing assignments survive a
// re-seed; a refreshed address list that no longer covers them is a fatal
// configuration error, not something to silently truncate.
func (r *registryStore) seed(ctx context.Context, addresses []string, perInstance int) error {
	if len(addresses) == 0 {
		return fmt.Errorf("seed: empty address list")
	}
	if perInstance <= 0 {
		return fmt.Errorf("seed: addressesPerInstance must be positive, got %d", perInstance)
	}
	return casUpdate(ctx, r.store, registryObjectKey, allocatorCASLimit, func(data []byte) ([]byte, error) {
		doc := &registryDocument{Assignments: make(map[string]registryAssignment)}
		if data != nil {
			existing, err := decodeRegistry(data)
			if err != nil {
				return nil, err
			}
			doc = existing
		}
		doc.Addresses = addresses
		doc.AddressesPerInstance = perInstance
		doc.SeededAt = r.clk.Now().UTC()
		if doc.NextAvailable > len(addresses) {
			return nil, fmt.Errorf("seed: nextAvailable %d beyond new address list of %d", doc.NextAvailable, len(addresses))
		}
		if err := doc.validate(); err != nil {
			return nil, fmt.Errorf("seed: refreshed registry invalid: %w", err)
		}
		return fastJSONMarshal(doc)
	})
}

// reserve assigns the next contiguous slice to workerID, reclaiming
// assignments that look dead on the tight allocator threshold first.
// Re-reservation by a worker that already holds a slice is idempotent.
func (r *registryStore) reserve(ctx context.Context, workerID, publicEndpoint string) ([]string, error) {
	var reserved []string
	var exhausted bool
	err := casUpdate(ctx, r.store, registryObjectKey, allocatorCASLimit, func(data []byte) ([]byte, error) {
		if data == nil {
			return nil, errRegistryNotSeeded
		}
		doc, err := decodeRegistry(data)
		if err != nil {
			return nil, err
		}
		exhausted = false

		if existing, ok := doc.Assignments[workerID]; ok {
			reserved = existing.Addresses
			return nil, nil
		}

		now := r.clk.Now().UTC()
		// Reclaim on the tight threshold: the caller is blocked waiting for
		// a slot. Freed ranges are skipped, nextAvailable stays put.
		reclaimed := false
		for worker, a := range doc.Assignments {
			if now.Sub(a.lastSeen()) > allocatorStaleThreshold {
				logger.Warn("reclaiming stale assignment on reserve", "worker", worker, "lastSeen", a.lastSeen().Format(time.RFC3339))
				delete(doc.Assignments, worker)
				reclaimed = true
			}
		}

		k := doc.AddressesPerInstance
		if doc.NextAvailable+k > len(doc.Addresses) {
			if !reclaimed {
				return nil, errRegistryExhausted
			}
			// Commit the cleanup even though this worker goes home empty.
			exhausted = true
			return fastJSONMarshal(doc)
		}

		start := doc.NextAvailable
		end := start + k - 1
		addresses := append([]string(nil), doc.Addresses[start:end+1]...)
		hb := now
		doc.Assignments[workerID] = registryAssignment{
			WorkerID:       workerID,
			PublicEndpoint: publicEndpoint,
			StartAddress:   start,
			EndAddress:     end,
			Addresses:      addresses,
			AssignedAt:     now,
			LastHeartbeat:  &hb,
		}
		doc.NextAvailable = end + 1
		reserved = addresses
		return fastJSONMarshal(doc)
	})
	if err != nil {
		return nil, err
	}
	if exhausted {
		return nil, errRegistryExhausted
	}
	return reserved, nil
}

// release drops the caller's own assignment. Best effort; a missed release
// is what the reclaimer exists for. The worker does not call it on
// shutdown, so a restart reuses its assignment and cache file.
func (r *registryStore) release(ctx context.Context, workerID string) error {
	return casUpdate(ctx, r.store, registryObjectKey, allocatorCASLimit, func(data []byte) ([]byte, error) {
		if data == nil {
			return nil, nil
		}
		doc, err := decodeRegistry(data)
		if err != nil {
			return nil, err
		}
		if _, ok := doc.Assignments[workerID]; !ok {
			return nil, nil
		}
		delete(doc.Assignments, workerID)
		return fastJSONMarshal(doc)
	})
}

// reclaimStale removes assignments whose liveness signal is older than
// threshold. The freshest of the registry heartbeat, the heartbeat file and
// assignedAt counts. nextAvailable is never lowered here.
func (r *registryStore) reclaimStale(ctx context.Context, heartbeats map[string]time.Time, threshold time.Duration) ([]string, error) {
	var removed []string
	err := casUpdate(ctx, r.store, registryObjectKey, reclaimerCASLimit, func(data []byte) ([]byte, error) {
		if data == nil {
			return nil, nil
		}
		doc, err := decodeRegistry(data)
		if err != nil {
			return nil, err
		}
		now := r.clk.Now().UTC()
		removed = removed[:0]
		for worker, a := range doc.Assignments {
			lastSeen := a.lastSeen()
			if hb, ok := heartbeats[worker]; ok && hb.After(lastSeen) {
				lastSeen = hb
			}
			if now.Sub(lastSeen) > threshold {
				removed = append(removed, worker)
			}
		}
		if len(removed) == 0 {
			return nil, nil
		}
		sort.Strings(removed)
		for _, worker := range removed {
			delete(doc.Assignments, worker)
		}
		return fastJSONMarshal(doc)
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}
