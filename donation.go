package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// httpDonationSource fetches a donation address from an external endpoint.
// The endpoint answers either a bare address or {"address": "..."}.
type httpDonationSource struct {
	url  string
	http *http.Client
}

func newDonationSource(url string) *httpDonationSource {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	return &httpDonationSource{
		url:  url,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *httpDonationSource) DonationAddress(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("donation endpoint status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}

	var wrapped struct {
		Address string `json:"address"`
	}
	if err := fastJSONUnmarshal(body, &wrapped); err == nil && wrapped.Address != "" {
		body = []byte(wrapped.Address)
	}
	address := strings.Trim(strings.TrimSpace(string(body)), `"`)
	if !validMiningAddress(address) {
		return "", fmt.Errorf("donation endpoint returned invalid address %q", address)
	}
	return address, nil
}
