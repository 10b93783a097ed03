package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

type queuedChallenge struct {
	ChallengeID      string    `json:"challengeId"`
	ChallengeNumber  int       `json:"challengeNumber"`
	Day              int       `json:"day"`
	Difficulty       string    `json:"difficulty"`
	NoPreMine        string    `json:"noPreMine"`
	NoPreMineHour    string    `json:"noPreMineHour"`
	LatestSubmission time.Time `json:"latestSubmission"`
	AvailableAt      time.Time `json:"availableAt"`
}

func (c queuedChallenge) expired(now time.Time) bool {
	return !c.LatestSubmission.After(now)
}

type challengeCache struct {
	Challenges  []queuedChallenge `json:"challenges"`
	LastUpdated time.Time         `json:"lastUpdated"`
	Region      string            `json:"region"`
}

// challengeLedger is the fleet's shared view of known active challenges,
// keyed by challengeId. Any worker may upsert; CAS resolves races.
type challengeLedger struct {
	store  objectStore
	clk    clock
	region string
}

func newChallengeLedger(store objectStore, clk clock, region string) *challengeLedger {
	if clk == nil {
		clk = systemClock{}
	}
	return &challengeLedger{store: store, clk: clk, region: region}
}

func (l *challengeLedger) load(ctx context.Context) ([]queuedChallenge, error) {
	data, _, err := l.store.Get(ctx, challengesObjectKey)
	if errors.Is(err, errObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cache challengeCache
	if err := fastJSONUnmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("decode challenge cache: %w", err)
	}
	return cache.Challenges, nil
}

// active filters out challenges whose submission window has closed.
func (l *challengeLedger) active(ctx context.Context) ([]queuedChallenge, error) {
	all, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	now := l.clk.Now().UTC()
	live := all[:0:0]
	for _, c := range all {
		if !c.expired(now) {
			live = append(live, c)
		}
	}
	return live, nil
}

// upsert merges one challenge into the shared cache and drops entries that
// have expired meanwhile. Existing entries with the same challengeId are
// replaced, so a difficulty correction from the API wins.
func (l *challengeLedger) upsert(ctx context.Context, challenge queuedChallenge) error {
	if challenge.ChallengeID == "" {
		return fmt.Errorf("upsert: empty challengeId")
	}
	return casUpdate(ctx, l.store, challengesObjectKey, allocatorCASLimit, func(data []byte) ([]byte, error) {
		cache := challengeCache{Region: l.region}
		if data != nil {
			if err := fastJSONUnmarshal(data, &cache); err != nil {
				return nil, fmt.Errorf("decode challenge cache: %w", err)
			}
		}
		now := l.clk.Now().UTC()

		merged := make([]queuedChallenge, 0, len(cache.Challenges)+1)
		for _, c := range cache.Challenges {
			if c.ChallengeID == challenge.ChallengeID || c.expired(now) {
				continue
			}
			merged = append(merged, c)
		}
		if !challenge.expired(now) {
			merged = append(merged, challenge)
		}
		sort.Slice(merged, func(i, j int) bool {
			return merged[i].AvailableAt.Before(merged[j].AvailableAt)
		})

		cache.Challenges = merged
		cache.LastUpdated = now
		cache.Region = l.region
		return fastJSONMarshal(cache)
	})
}
