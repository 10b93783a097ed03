package main

import (
	"context"
	"database/sql"
	"time"
)

// Journal entry lifecycle. pending entries are replayed by the sweep; the
// Mine API's duplicate detection makes replays safe.
const (
	journalStatusPending   = "pending"
	journalStatusSubmitted = "submitted"
	journalStatusDuplicate = "duplicate"
	journalStatusFailed    = "failed"
)

type journalEntry struct {
	ItemKey     string
	Address     string
	ChallengeID string
	Nonce       string
	Donation    bool
	Status      string
	LastError   string
}

// submissionJournal records every mined solution locally before the POST,
// so a crash between mining and submission loses nothing. Backed by the
// worker's sqlite state DB; nil journals degrade to no-ops.
type submissionJournal struct {
	db  *sql.DB
	clk clock
}

func newSubmissionJournal(db *sql.DB, clk clock) *submissionJournal {
	if db == nil {
		return nil
	}
	if clk == nil {
		clk = systemClock{}
	}
	return &submissionJournal{db: db, clk: clk}
}

func (j *submissionJournal) add(ctx context.Context, item workItem, nonce string) error {
	if j == nil {
		return nil
	}
	now := j.clk.Now().Unix()
	donation := 0
	if item.Donation {
		donation = 1
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO submission_journal
			(item_key, address, challenge_id, nonce, donation, status, created_at_unix, updated_at_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_key) DO UPDATE SET
			nonce = excluded.nonce,
			updated_at_unix = excluded.updated_at_unix
	`, item.key(), item.Address, item.Challenge.ChallengeID, nonce, donation, journalStatusPending, now, now)
	return err
}

func (j *submissionJournal) markOutcome(ctx context.Context, itemKey, status, lastError string) error {
	if j == nil {
		return nil
	}
	_, err := j.db.ExecContext(ctx, `
		UPDATE submission_journal
		SET status = ?, last_error = ?, updated_at_unix = ?
		WHERE item_key = ?
	`, status, lastError, j.clk.Now().Unix(), itemKey)
	return err
}

// pendingOlderThan returns pending entries last touched before the cutoff,
// oldest first. The age filter keeps the sweep from double-submitting an
// entry whose first delivery is still in flight.
func (j *submissionJournal) pendingOlderThan(ctx context.Context, age time.Duration, limit int) ([]journalEntry, error) {
	if j == nil {
		return nil, nil
	}
	cutoff := j.clk.Now().Add(-age).Unix()
	rows, err := j.db.QueryContext(ctx, `
		SELECT item_key, address, challenge_id, nonce, donation, status, COALESCE(last_error, '')
		FROM submission_journal
		WHERE status = ? AND updated_at_unix <= ?
		ORDER BY updated_at_unix ASC
		LIMIT ?
	`, journalStatusPending, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []journalEntry
	for rows.Next() {
		var e journalEntry
		var donation int
		if err := rows.Scan(&e.ItemKey, &e.Address, &e.ChallengeID, &e.Nonce, &donation, &e.Status, &e.LastError); err != nil {
			return nil, err
		}
		e.Donation = donation != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (j *submissionJournal) counts(ctx context.Context) (map[string]int, error) {
	if j == nil {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM submission_journal GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
