package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFromTOML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	secretsPath := filepath.Join(dir, "secrets.toml")
	if err := os.WriteFile(configPath, []byte(`
data_dir = "/tmp/nightcloud-test"

[cloud]
region = "eu-west-1"
account_id = "123456789012"
bucket_prefix = "night-cloud-mining"

[mine_api]
base_url = "https://mine.example.com/api/"
donation_address_url = "https://donate.example.com/address"

[mining]
addresses_per_instance = 25
miner_workers = 4
miner_binary = "/opt/night-miner"

[cadence]
work_check_seconds = 7
challenge_fetch_seconds = 120

[logging]
level = "debug"
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(secretsPath, []byte(`
discord_token = "tok"
status_admin_secret = "hmac"
`), 0o600); err != nil {
		t.Fatalf("write secrets: %v", err)
	}

	cfg := loadConfig(configPath, secretsPath)

	if cfg.Region != "eu-west-1" || cfg.AccountID != "123456789012" {
		t.Errorf("cloud = %s/%s", cfg.Region, cfg.AccountID)
	}
	if cfg.bucketName() != "night-cloud-mining-123456789012-eu-west-1" {
		t.Errorf("bucketName = %s", cfg.bucketName())
	}
	if cfg.MineAPIBaseURL != "https://mine.example.com/api" {
		t.Errorf("base url = %s, want trailing slash trimmed", cfg.MineAPIBaseURL)
	}
	if cfg.AddressesPerInstance != 25 || cfg.MinerWorkers != 4 {
		t.Errorf("mining = %d/%d", cfg.AddressesPerInstance, cfg.MinerWorkers)
	}
	if cfg.MinerBinaryPath != "/opt/night-miner" {
		t.Errorf("miner binary = %s", cfg.MinerBinaryPath)
	}
	if cfg.workCheckEvery() != 7*time.Second {
		t.Errorf("workCheckEvery = %v", cfg.workCheckEvery())
	}
	if cfg.challengeFetchEvery() != 2*time.Minute {
		t.Errorf("challengeFetchEvery = %v", cfg.challengeFetchEvery())
	}
	// Untouched cadences keep their defaults.
	if cfg.heartbeatEvery() != heartbeatInterval {
		t.Errorf("heartbeatEvery = %v", cfg.heartbeatEvery())
	}
	if cfg.DiscordBotToken != "tok" || cfg.StatusAdminSecret != "hmac" {
		t.Errorf("secrets not applied")
	}
	if cfg.SignerBinaryPath != defaultSignerBinaryPath {
		t.Errorf("signer binary = %s, want default", cfg.SignerBinaryPath)
	}

	if err := validateConfig(cfg); err != nil {
		t.Errorf("validateConfig: %v", err)
	}
}

func TestValidateConfigRejects(t *testing.T) {
	base := defaultConfig()
	base.Region = "eu-west-1"
	base.AccountID = "123456789012"

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing region", func(c *Config) { c.Region = "" }},
		{"missing account", func(c *Config) { c.AccountID = "" }},
		{"zero addresses per instance", func(c *Config) { c.AddressesPerInstance = 0 }},
		{"negative miner workers", func(c *Config) { c.MinerWorkers = -1 }},
		{"bad api url", func(c *Config) { c.MineAPIBaseURL = "not a url" }},
		{"bad donation url", func(c *Config) { c.DonationAddressURL = "::: nope" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if err := validateConfig(cfg); err == nil {
				t.Fatalf("validateConfig accepted %s", tt.name)
			}
		})
	}

	if err := validateConfig(base); err != nil {
		t.Fatalf("baseline config invalid: %v", err)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(filepath.Join(dir, "absent.toml"), filepath.Join(dir, "secrets.toml"))
	if cfg.BucketPrefix != defaultBucketPrefix {
		t.Errorf("bucket prefix = %s, want default", cfg.BucketPrefix)
	}
	if cfg.AddressesPerInstance != defaultAddressesPerInstance {
		t.Errorf("addresses per instance = %d, want default", cfg.AddressesPerInstance)
	}
	// A secrets example is dropped in place for the operator.
	if _, err := os.Stat(filepath.Join(dir, "secrets.toml")); err != nil {
		t.Errorf("example secrets file not written: %v", err)
	}
}
