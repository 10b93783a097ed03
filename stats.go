package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

type recentSolution struct {
	Address     string    `json:"address"`
	ChallengeID string    `json:"challengeId"`
	Nonce       string    `json:"nonce"`
	WorkerID    string    `json:"workerId,omitempty"`
	Donation    bool      `json:"donation,omitempty"`
	At          time.Time `json:"at"`
}

type recentError struct {
	Address     string    `json:"address,omitempty"`
	ChallengeID string    `json:"challengeId,omitempty"`
	WorkerID    string    `json:"workerId,omitempty"`
	Message     string    `json:"message"`
	At          time.Time `json:"at"`
}

type solutionsStats struct {
	TotalSolutions    int              `json:"totalSolutions"`
	DonationSolutions int              `json:"donationSolutions"`
	TotalErrors       int              `json:"totalErrors"`
	LastUpdated       time.Time        `json:"lastUpdated"`
	RecentSolutions   []recentSolution `json:"recentSolutions"`
	RecentErrors      []recentError    `json:"recentErrors"`
}

// statsStore maintains the fleet-wide aggregate under optimistic locking.
// Stats are telemetry, not truth: after the retry budget runs out the
// caller moves on.
type statsStore struct {
	store objectStore
	clk   clock
}

func newStatsStore(store objectStore, clk clock) *statsStore {
	if clk == nil {
		clk = systemClock{}
	}
	return &statsStore{store: store, clk: clk}
}

func (s *statsStore) load(ctx context.Context) (*solutionsStats, error) {
	data, _, err := s.store.Get(ctx, statsObjectKey)
	if errors.Is(err, errObjectNotFound) {
		return &solutionsStats{}, nil
	}
	if err != nil {
		return nil, err
	}
	var stats solutionsStats
	if err := fastJSONUnmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &stats, nil
}

func (s *statsStore) recordSolution(ctx context.Context, sol recentSolution) error {
	sol.At = s.clk.Now().UTC()
	return s.update(ctx, func(stats *solutionsStats) {
		stats.TotalSolutions++
		if sol.Donation {
			stats.DonationSolutions++
		}
		stats.RecentSolutions = unshiftSolution(stats.RecentSolutions, sol)
	})
}

func (s *statsStore) recordError(ctx context.Context, re recentError) error {
	re.At = s.clk.Now().UTC()
	return s.update(ctx, func(stats *solutionsStats) {
		stats.TotalErrors++
		stats.RecentErrors = unshiftError(stats.RecentErrors, re)
	})
}

func (s *statsStore) update(ctx context.Context, apply func(*solutionsStats)) error {
	for attempt := 0; attempt < statsCASLimit; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, etag, err := s.store.Get(ctx, statsObjectKey)
		exists := true
		if errors.Is(err, errObjectNotFound) {
			data, etag, exists = nil, "", false
		} else if err != nil {
			return err
		}

		stats := &solutionsStats{}
		if exists {
			if err := fastJSONUnmarshal(data, stats); err != nil {
				return fmt.Errorf("decode stats: %w", err)
			}
		}
		apply(stats)
		stats.LastUpdated = s.clk.Now().UTC()

		body, err := fastJSONMarshal(stats)
		if err != nil {
			return err
		}
		opts := putOptions{ContentType: "application/json"}
		if exists {
			opts.IfMatch = etag
		} else {
			opts.IfNoneMatch = true
		}
		err = s.store.Put(ctx, statsObjectKey, body, opts)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errPreconditionFailed) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(rand.Int63n(int64(statsBackoffJitter)))):
		}
	}
	return errCASExhausted
}

func unshiftSolution(list []recentSolution, sol recentSolution) []recentSolution {
	list = append([]recentSolution{sol}, list...)
	if len(list) > recentEntriesCap {
		list = list[:recentEntriesCap]
	}
	return list
}

func unshiftError(list []recentError, re recentError) []recentError {
	list = append([]recentError{re}, list...)
	if len(list) > recentEntriesCap {
		list = list[:recentEntriesCap]
	}
	return list
}
