package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Challenge endpoint envelope. code is "active", "before" or "after".
type challengeResponse struct {
	Code                 string            `json:"code"`
	Challenge            *mineAPIChallenge `json:"challenge,omitempty"`
	MiningPeriodEnds     string            `json:"mining_period_ends,omitempty"`
	MaxDay               int               `json:"max_day,omitempty"`
	TotalChallenges      int               `json:"total_challenges,omitempty"`
	CurrentDay           int               `json:"current_day,omitempty"`
	NextChallengeStarts  string            `json:"next_challenge_starts_at,omitempty"`
	MiningPeriodStartsAt string            `json:"mining_period_starts_at,omitempty"`
}

type mineAPIChallenge struct {
	ChallengeID      string `json:"challenge_id"`
	ChallengeNumber  int    `json:"challenge_number"`
	Day              int    `json:"day"`
	IssuedAt         string `json:"issued_at"`
	Difficulty       string `json:"difficulty"`
	NoPreMine        string `json:"no_pre_mine"`
	LatestSubmission string `json:"latest_submission"`
	NoPreMineHour    string `json:"no_pre_mine_hour"`
}

type solutionReceipt struct {
	Address       string `json:"address,omitempty"`
	ChallengeID   string `json:"challenge_id,omitempty"`
	Nonce         string `json:"nonce,omitempty"`
	CryptoReceipt string `json:"crypto_receipt,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
}

type tandCResponse struct {
	Version string `json:"version"`
	Content string `json:"content"`
	Message string `json:"message"`
}

type registrationReceipt struct {
	Address   string `json:"address,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Message   string `json:"message,omitempty"`
}

type donationReceipt struct {
	Destination string `json:"destination,omitempty"`
	Original    string `json:"original,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	Message     string `json:"message,omitempty"`
}

// submitOutcome enumerates what a solution POST meant. Duplicates are a
// normal outcome, not an error.
type submitOutcome int

const (
	submitAccepted submitOutcome = iota
	submitDuplicate
	submitTransient
	submitFatal
)

func (o submitOutcome) String() string {
	switch o {
	case submitAccepted:
		return "accepted"
	case submitDuplicate:
		return "duplicate"
	case submitTransient:
		return "transient"
	case submitFatal:
		return "fatal"
	}
	return "unknown"
}

var errDonationWindowClosed = errors.New("donation window not open")

type mineAPIClient struct {
	baseURL string
	http    *http.Client
}

func newMineAPIClient(baseURL string) *mineAPIClient {
	return &mineAPIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: mineAPIRequestTimeout},
	}
}

func (c *mineAPIClient) getJSON(ctx context.Context, path string, out interface{}) error {
	var lastErr error
	backoff := mineAPIRetryBase
	for attempt := 0; attempt < mineAPIRetryLimit; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = readErr
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				return fastJSONUnmarshal(body, out)
			case resp.StatusCode >= 500:
				lastErr = fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
			default:
				return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, truncateBody(body))
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(backoff)):
		}
		backoff *= 2
	}
	return fmt.Errorf("GET %s: %w", path, lastErr)
}

func (c *mineAPIClient) GetChallenge(ctx context.Context) (*challengeResponse, error) {
	var out challengeResponse
	if err := c.getJSON(ctx, "/challenge", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitSolution posts one nonce. Transient failures are retried inside;
// the returned outcome is final for this call.
func (c *mineAPIClient) SubmitSolution(ctx context.Context, address, challengeID, nonce string) (submitOutcome, *solutionReceipt, error) {
	path := fmt.Sprintf("/solution/%s/%s/%s",
		url.PathEscape(address), url.PathEscape(challengeID), url.PathEscape(nonce))

	var lastErr error
	backoff := mineAPIRetryBase
	for attempt := 0; attempt < mineAPIRetryLimit; attempt++ {
		if err := ctx.Err(); err != nil {
			return submitTransient, nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
		if err != nil {
			return submitFatal, nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = readErr
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				var receipt solutionReceipt
				if err := fastJSONUnmarshal(body, &receipt); err != nil {
					// A 2xx with an unparseable body still counts.
					logger.Debug("solution receipt unparseable", "error", err)
				}
				return submitAccepted, &receipt, nil
			case resp.StatusCode == http.StatusConflict:
				return submitDuplicate, nil, nil
			case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
				lastErr = fmt.Errorf("status %d", resp.StatusCode)
			default:
				return submitFatal, nil, fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, truncateBody(body))
			}
		}
		select {
		case <-ctx.Done():
			return submitTransient, nil, ctx.Err()
		case <-time.After(jittered(backoff)):
		}
		backoff *= 2
	}
	return submitTransient, nil, fmt.Errorf("POST %s: %w", path, lastErr)
}

func (c *mineAPIClient) TandC(ctx context.Context, version string) (*tandCResponse, error) {
	var out tandCResponse
	if err := c.getJSON(ctx, "/TandC/"+url.PathEscape(version), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *mineAPIClient) Register(ctx context.Context, address, signature, pubkey string) (*registrationReceipt, error) {
	path := fmt.Sprintf("/register/%s/%s/%s",
		url.PathEscape(address), url.PathEscape(signature), url.PathEscape(pubkey))
	status, body, err := c.post(ctx, path)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("POST %s: status %d: %s", path, status, truncateBody(body))
	}
	var receipt registrationReceipt
	if err := fastJSONUnmarshal(body, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// WorkToStarRate returns the daily reward-per-solution history; the last
// element is the current rate.
func (c *mineAPIClient) WorkToStarRate(ctx context.Context) ([]float64, error) {
	var rates []float64
	if err := c.getJSON(ctx, "/work_to_star_rate", &rates); err != nil {
		return nil, err
	}
	return rates, nil
}

func (c *mineAPIClient) DonateTo(ctx context.Context, destination, original, signature string) (*donationReceipt, error) {
	path := fmt.Sprintf("/donate_to/%s/%s/%s",
		url.PathEscape(destination), url.PathEscape(original), url.PathEscape(signature))
	status, body, err := c.post(ctx, path)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusForbidden:
		return nil, errDonationWindowClosed
	case status == http.StatusConflict:
		return nil, fmt.Errorf("donation already recorded for %s", original)
	case status < 200 || status >= 300:
		return nil, fmt.Errorf("POST %s: status %d: %s", path, status, truncateBody(body))
	}
	var receipt donationReceipt
	if err := fastJSONUnmarshal(body, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *mineAPIClient) post(ctx context.Context, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}

func truncateBody(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

// parseAPITime handles the ISO8601 timestamps the Mine API emits.
func parseAPITime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	// Some endpoints hand back epoch seconds.
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
