package main

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// solutionAPI is the slice of the Mine API the submitter consumes.
type solutionAPI interface {
	SubmitSolution(ctx context.Context, address, challengeID, nonce string) (submitOutcome, *solutionReceipt, error)
}

var errChallengeClosed = errors.New("challenge submission window closed")

// submitter delivers mined nonces and records the outcome in the shared
// ledgers. Per (address, challengeId) it runs on the single worker owning
// the address, so delivery is naturally serialized.
type submitter struct {
	api      solutionAPI
	ledger   *solutionsLedger
	stats    *statsStore
	journal  *submissionJournal
	workerID string
	clk      clock
	notify   *notifier
}

func newSubmitter(api solutionAPI, ledger *solutionsLedger, stats *statsStore, journal *submissionJournal, workerID string, clk clock, notify *notifier) *submitter {
	if clk == nil {
		clk = systemClock{}
	}
	return &submitter{
		api:      api,
		ledger:   ledger,
		stats:    stats,
		journal:  journal,
		workerID: workerID,
		clk:      clk,
		notify:   notify,
	}
}

// submit journals the solution, POSTs it and records the outcome. Never
// POSTs past the challenge's submission deadline.
func (s *submitter) submit(ctx context.Context, item workItem, nonce string) error {
	if !item.Challenge.LatestSubmission.After(s.clk.Now()) {
		return fmt.Errorf("%w: %s", errChallengeClosed, item.Challenge.ChallengeID)
	}

	if err := s.journal.add(ctx, item, nonce); err != nil {
		logger.Warn("journal solution failed", "item", item.key(), "error", err)
	}

	return s.deliver(ctx, item, nonce)
}

// deliver performs the POST plus ledger/stats bookkeeping. Also the replay
// path for journaled entries.
func (s *submitter) deliver(ctx context.Context, item workItem, nonce string) error {
	outcome, _, err := s.api.SubmitSolution(ctx, item.Address, item.Challenge.ChallengeID, nonce)
	switch outcome {
	case submitAccepted:
		s.recordAccepted(ctx, item, nonce)
		return nil

	case submitDuplicate:
		// Someone beat us to it (or a replay of our own POST). Record
		// locally so the pair never re-enters the queue.
		logger.Info("solution already known upstream", "item", item.key())
		s.recordLocal(ctx, item, nonce)
		if err := s.journal.markOutcome(ctx, item.key(), journalStatusDuplicate, ""); err != nil {
			logger.Warn("journal mark duplicate failed", "item", item.key(), "error", err)
		}
		return nil

	case submitFatal:
		s.recordSubmitError(ctx, item, err)
		if jerr := s.journal.markOutcome(ctx, item.key(), journalStatusFailed, errString(err)); jerr != nil {
			logger.Warn("journal mark failed failed", "item", item.key(), "error", jerr)
		}
		return err

	default: // submitTransient
		s.recordSubmitError(ctx, item, err)
		// Entry stays pending; the journal sweep retries it.
		return err
	}
}

func (s *submitter) recordAccepted(ctx context.Context, item workItem, nonce string) {
	logger.Info("solution accepted", "item", item.key(), "donation", item.Donation)
	s.recordLocal(ctx, item, nonce)
	if err := s.journal.markOutcome(ctx, item.key(), journalStatusSubmitted, ""); err != nil {
		logger.Warn("journal mark submitted failed", "item", item.key(), "error", err)
	}

	err := s.stats.recordSolution(ctx, recentSolution{
		Address:     item.Address,
		ChallengeID: item.Challenge.ChallengeID,
		Nonce:       nonce,
		WorkerID:    s.workerID,
		Donation:    item.Donation,
	})
	if err != nil {
		// Stats are telemetry; the submission already succeeded.
		logger.Warn("stats update failed", "item", item.key(), "error", err)
	}
	s.notify.solutionFound(item)
}

// recordLocal writes the per-address ledger. Donation addresses are not
// ours to ledger; only the in-memory dedup set is touched for them.
func (s *submitter) recordLocal(ctx context.Context, item workItem, nonce string) {
	if item.Donation {
		s.ledger.markKnown(item.Address, item.Challenge.ChallengeID)
		return
	}
	if err := s.ledger.recordSolution(ctx, item.Address, item.Challenge.ChallengeID, nonce, s.workerID); err != nil {
		// The 409 on the next attempt keeps us honest even if this write
		// is lost.
		logger.Warn("solutions ledger write failed", "item", item.key(), "error", err)
		s.ledger.markKnown(item.Address, item.Challenge.ChallengeID)
	}
}

func (s *submitter) recordSubmitError(ctx context.Context, item workItem, cause error) {
	logger.Error("solution submission failed", "item", item.key(), "error", cause)
	err := s.stats.recordError(ctx, recentError{
		Address:     item.Address,
		ChallengeID: item.Challenge.ChallengeID,
		WorkerID:    s.workerID,
		Message:     errString(cause),
	})
	if err != nil {
		logger.Warn("stats error update failed", "item", item.key(), "error", err)
	}
}

// sweepJournal replays pending entries that are old enough to have fallen
// out of the live submission path.
func (s *submitter) sweepJournal(ctx context.Context, challenges []queuedChallenge) {
	entries, err := s.journal.pendingOlderThan(ctx, 2*time.Minute, 50)
	if err != nil {
		logger.Warn("journal sweep query failed", "error", err)
		return
	}
	byID := make(map[string]queuedChallenge, len(challenges))
	for _, c := range challenges {
		byID[c.ChallengeID] = c
	}
	for _, e := range entries {
		challenge, ok := byID[e.ChallengeID]
		if !ok || challenge.expired(s.clk.Now()) {
			if err := s.journal.markOutcome(ctx, e.ItemKey, journalStatusFailed, "challenge expired before delivery"); err != nil {
				logger.Warn("journal expire mark failed", "item", e.ItemKey, "error", err)
			}
			continue
		}
		item := workItem{Address: e.Address, Challenge: challenge, Donation: e.Donation}
		if err := s.deliver(ctx, item, e.Nonce); err != nil {
			logger.Warn("journal replay failed", "item", e.ItemKey, "error", err)
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
