package main

import (
	"context"
	"time"
)

// challengeAPI is the slice of the Mine API the puller consumes.
type challengeAPI interface {
	GetChallenge(ctx context.Context) (*challengeResponse, error)
}

// challengePuller polls the Mine API and feeds the shared challenge
// ledger. Errors leave the cache as-is; stale-but-valid beats empty.
type challengePuller struct {
	api    challengeAPI
	ledger *challengeLedger
	clk    clock
}

func newChallengePuller(api challengeAPI, ledger *challengeLedger, clk clock) *challengePuller {
	if clk == nil {
		clk = systemClock{}
	}
	return &challengePuller{api: api, ledger: ledger, clk: clk}
}

// pull fetches the current challenge and upserts it when active.
func (p *challengePuller) pull(ctx context.Context) error {
	resp, err := p.api.GetChallenge(ctx)
	if err != nil {
		return err
	}
	switch resp.Code {
	case "active":
		if resp.Challenge == nil {
			logger.Warn("challenge response active but empty")
			return nil
		}
		queued, err := queuedFromAPI(*resp.Challenge, p.clk.Now().UTC())
		if err != nil {
			logger.Warn("challenge response malformed", "challenge", resp.Challenge.ChallengeID, "error", err)
			return nil
		}
		if err := p.ledger.upsert(ctx, queued); err != nil {
			return err
		}
		logger.Info("challenge cached",
			"challenge", queued.ChallengeID,
			"difficultyBits", difficultyBits(queued.Difficulty),
			"closes", queued.LatestSubmission.Format(time.RFC3339))
	case "before":
		logger.Info("mining period has not started", "startsAt", resp.MiningPeriodStartsAt)
	case "after":
		logger.Info("mining period is over", "endedAt", resp.MiningPeriodEnds)
	default:
		logger.Warn("unknown challenge response code", "code", resp.Code)
	}
	return nil
}

// run polls on the configured cadence until ctx ends. The first pull
// happens immediately so a fresh worker starts mining without waiting a
// full interval.
func (p *challengePuller) run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := p.pull(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("challenge fetch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func queuedFromAPI(c mineAPIChallenge, now time.Time) (queuedChallenge, error) {
	latest, err := parseAPITime(c.LatestSubmission)
	if err != nil {
		return queuedChallenge{}, err
	}
	available := now
	if issued, err := parseAPITime(c.IssuedAt); err == nil {
		available = issued
	}
	return queuedChallenge{
		ChallengeID:      c.ChallengeID,
		ChallengeNumber:  c.ChallengeNumber,
		Day:              c.Day,
		Difficulty:       c.Difficulty,
		NoPreMine:        c.NoPreMine,
		NoPreMineHour:    c.NoPreMineHour,
		LatestSubmission: latest.UTC(),
		AvailableAt:      available.UTC(),
	}, nil
}
