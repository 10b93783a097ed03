package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type solutionRecord struct {
	ChallengeID string    `json:"challengeId"`
	Nonce       string    `json:"nonce"`
	SubmittedAt time.Time `json:"submittedAt"`
	WorkerID    string    `json:"workerId,omitempty"`
}

type addressSolutions struct {
	Address     string           `json:"address"`
	Solutions   []solutionRecord `json:"solutions"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

func (s *addressSolutions) has(challengeID string) bool {
	for _, rec := range s.Solutions {
		if rec.ChallengeID == challengeID {
			return true
		}
	}
	return false
}

// solutionsLedger is the per-address submission record plus the worker's
// in-memory view of it. Each address has exactly one live owner, so writes
// are read-modify-write without a conditional header; the merge keeps the
// at-most-one-record-per-challenge invariant even if an old owner raced us.
type solutionsLedger struct {
	store objectStore
	clk   clock

	mu    sync.Mutex
	known map[string]map[string]struct{} // address -> set of challengeIds
}

func newSolutionsLedger(store objectStore, clk clock) *solutionsLedger {
	if clk == nil {
		clk = systemClock{}
	}
	return &solutionsLedger{
		store: store,
		clk:   clk,
		known: make(map[string]map[string]struct{}),
	}
}

func solutionsObjectKey(address string) string {
	return solutionsKeyPrefix + address + ".json"
}

// warm loads the ledger files for the worker's addresses so build() can
// dedup without a round trip per item.
func (l *solutionsLedger) warm(ctx context.Context, addresses []string) error {
	for _, address := range addresses {
		doc, err := l.loadAddress(ctx, address)
		if errors.Is(err, errObjectNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		l.mu.Lock()
		set := make(map[string]struct{}, len(doc.Solutions))
		for _, rec := range doc.Solutions {
			set[rec.ChallengeID] = struct{}{}
		}
		l.known[address] = set
		l.mu.Unlock()
	}
	return nil
}

func (l *solutionsLedger) loadAddress(ctx context.Context, address string) (*addressSolutions, error) {
	data, _, err := l.store.Get(ctx, solutionsObjectKey(address))
	if err != nil {
		return nil, err
	}
	var doc addressSolutions
	if err := fastJSONUnmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode solutions for %s: %w", address, err)
	}
	return &doc, nil
}

func (l *solutionsLedger) hasSolution(address, challengeID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.known[address]
	if !ok {
		return false
	}
	_, ok = set[challengeID]
	return ok
}

// recordSolution merges one record into the per-address file and the local
// view. Repeat calls for the same (address, challengeId) are no-ops.
func (l *solutionsLedger) recordSolution(ctx context.Context, address, challengeID, nonce, workerID string) error {
	now := l.clk.Now().UTC()

	doc, err := l.loadAddress(ctx, address)
	if errors.Is(err, errObjectNotFound) {
		doc = &addressSolutions{Address: address}
	} else if err != nil {
		return err
	}

	if !doc.has(challengeID) {
		doc.Solutions = append(doc.Solutions, solutionRecord{
			ChallengeID: challengeID,
			Nonce:       nonce,
			SubmittedAt: now,
			WorkerID:    workerID,
		})
		doc.LastUpdated = now
		data, err := fastJSONMarshal(doc)
		if err != nil {
			return err
		}
		if err := l.store.Put(ctx, solutionsObjectKey(address), data, putOptions{ContentType: "application/json"}); err != nil {
			return err
		}
	}

	l.mu.Lock()
	set, ok := l.known[address]
	if !ok {
		set = make(map[string]struct{})
		l.known[address] = set
	}
	set[challengeID] = struct{}{}
	l.mu.Unlock()
	return nil
}

// markKnown records a challenge as solved in memory only. Used for donation
// items, which have no per-address ledger file, and when the ledger write
// fails after a submission; the 409 remains the source of truth.
func (l *solutionsLedger) markKnown(address, challengeID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.known[address]
	if !ok {
		set = make(map[string]struct{})
		l.known[address] = set
	}
	set[challengeID] = struct{}{}
}
