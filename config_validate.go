package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Region) == "" {
		return fmt.Errorf("cloud.region is required")
	}
	if strings.TrimSpace(cfg.AccountID) == "" {
		return fmt.Errorf("cloud.account_id is required")
	}
	if strings.TrimSpace(cfg.BucketPrefix) == "" {
		return fmt.Errorf("cloud.bucket_prefix is required")
	}
	if cfg.AddressesPerInstance <= 0 {
		return fmt.Errorf("mining.addresses_per_instance must be positive, got %d", cfg.AddressesPerInstance)
	}
	if cfg.MinerWorkers < 0 {
		return fmt.Errorf("mining.miner_workers must not be negative, got %d", cfg.MinerWorkers)
	}
	if _, err := url.ParseRequestURI(cfg.MineAPIBaseURL); err != nil {
		return fmt.Errorf("mine_api.base_url: %w", err)
	}
	if cfg.DonationAddressURL != "" {
		if _, err := url.ParseRequestURI(cfg.DonationAddressURL); err != nil {
			return fmt.Errorf("mine_api.donation_address_url: %w", err)
		}
	}
	if _, ok := parseLogLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("logging.level %q is not one of debug/info/warn/error", cfg.LogLevel)
	}
	return nil
}

// bucketName derives the regional shared-state bucket. The account ID is
// part of the name so tenants never collide on a shared prefix.
func (cfg Config) bucketName() string {
	return fmt.Sprintf("%s-%s-%s", cfg.BucketPrefix, cfg.AccountID, cfg.Region)
}

func (cfg Config) workCheckEvery() time.Duration {
	if cfg.WorkCheckSeconds > 0 {
		return time.Duration(cfg.WorkCheckSeconds) * time.Second
	}
	return workCheckInterval
}

func (cfg Config) challengeFetchEvery() time.Duration {
	if cfg.ChallengeFetchSeconds > 0 {
		return time.Duration(cfg.ChallengeFetchSeconds) * time.Second
	}
	return challengeFetchInterval
}

func (cfg Config) heartbeatEvery() time.Duration {
	if cfg.HeartbeatSeconds > 0 {
		return time.Duration(cfg.HeartbeatSeconds) * time.Second
	}
	return heartbeatInterval
}

func (cfg Config) reclaimEvery() time.Duration {
	if cfg.ReclaimMinutes > 0 {
		return time.Duration(cfg.ReclaimMinutes) * time.Minute
	}
	return reclaimInterval
}
