package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
)

func loadConfig(configPath, secretsPath string) Config {
	cfg := defaultConfig()

	if configPath == "" {
		configPath = defaultConfigPath()
	}

	if bc, ok, err := loadBaseConfigFile(configPath); err != nil {
		fatal("config file", err, "path", configPath)
	} else if ok {
		applyBaseConfig(&cfg, *bc)
	} else {
		logger.Info("config file missing, using defaults", "path", configPath)
	}

	if secretsPath == "" {
		secretsPath = defaultSecretsPath(cfg.DataDir)
	}
	ensureSecretFilePermissions(secretsPath)
	if sc, ok, err := loadSecretsFile(secretsPath); err != nil {
		fatal("secrets file", err, "path", secretsPath)
	} else if ok {
		applySecretsConfig(&cfg, *sc)
	} else if err := writeExampleSecretsFile(secretsPath); err == nil {
		logger.Info("wrote example secrets file", "path", secretsPath)
	}

	return cfg
}

func loadTOMLFile[T any](path string) (*T, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg T
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", path, err)
	}

	return &cfg, true, nil
}

func loadBaseConfigFile(path string) (*baseFileConfig, bool, error) {
	return loadTOMLFile[baseFileConfig](path)
}

func loadSecretsFile(path string) (*secretsConfig, bool, error) {
	return loadTOMLFile[secretsConfig](path)
}

func writeExampleSecretsFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, secretsConfigExample, 0o600)
}

func ensureSecretFilePermissions(path string) {
	if strings.TrimSpace(path) == "" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("secrets file stat failed", "path", path, "error", err)
		}
		return
	}
	if !info.Mode().IsRegular() {
		return
	}
	if info.Mode().Perm()&0o077 == 0 {
		return
	}
	if err := os.Chmod(path, 0o600); err != nil {
		logger.Warn("secrets file chmod failed", "path", path, "error", err)
		return
	}
	logger.Warn("secrets file permissions tightened", "path", path, "mode", "0600")
}

func applyBaseConfig(cfg *Config, fc baseFileConfig) {
	if fc.Cloud.Region != "" {
		cfg.Region = strings.TrimSpace(fc.Cloud.Region)
	}
	if fc.Cloud.AccountID != "" {
		cfg.AccountID = strings.TrimSpace(fc.Cloud.AccountID)
	}
	if fc.Cloud.BucketPrefix != "" {
		cfg.BucketPrefix = strings.TrimSpace(fc.Cloud.BucketPrefix)
	}
	if fc.Cloud.S3Endpoint != "" {
		cfg.S3Endpoint = strings.TrimSpace(fc.Cloud.S3Endpoint)
	}
	if fc.MineAPI.BaseURL != "" {
		cfg.MineAPIBaseURL = strings.TrimRight(strings.TrimSpace(fc.MineAPI.BaseURL), "/")
	}
	if fc.MineAPI.DonationAddressURL != "" {
		cfg.DonationAddressURL = strings.TrimSpace(fc.MineAPI.DonationAddressURL)
	}
	if fc.Mining.AddressesPerInstance != nil {
		cfg.AddressesPerInstance = *fc.Mining.AddressesPerInstance
	}
	if fc.Mining.AddressFile != "" {
		cfg.AddressFile = fc.Mining.AddressFile
	}
	if fc.Mining.MinerWorkers != nil {
		cfg.MinerWorkers = *fc.Mining.MinerWorkers
	}
	if fc.Mining.MinerBinary != "" {
		cfg.MinerBinaryPath = fc.Mining.MinerBinary
	}
	if fc.Mining.SignerBinary != "" {
		cfg.SignerBinaryPath = fc.Mining.SignerBinary
	}
	if fc.Mining.MaxAttempts != nil {
		cfg.MaxAttempts = *fc.Mining.MaxAttempts
	}
	if fc.Cadence.WorkCheckSeconds != nil {
		cfg.WorkCheckSeconds = *fc.Cadence.WorkCheckSeconds
	}
	if fc.Cadence.ChallengeFetchSeconds != nil {
		cfg.ChallengeFetchSeconds = *fc.Cadence.ChallengeFetchSeconds
	}
	if fc.Cadence.HeartbeatSeconds != nil {
		cfg.HeartbeatSeconds = *fc.Cadence.HeartbeatSeconds
	}
	if fc.Cadence.ReclaimMinutes != nil {
		cfg.ReclaimMinutes = *fc.Cadence.ReclaimMinutes
	}
	if fc.Fleet.LaunchTemplateID != "" {
		cfg.LaunchTemplateID = fc.Fleet.LaunchTemplateID
	}
	if fc.Fleet.DesiredWorkers != nil {
		cfg.DesiredWorkers = *fc.Fleet.DesiredWorkers
	}
	if fc.Status.Listen != "" {
		cfg.StatusAddr = fc.Status.Listen
	}
	if fc.Status.DiscordNotifyChannelID != "" {
		cfg.DiscordNotifyChannelID = fc.Status.DiscordNotifyChannelID
	}
	if fc.Logging.Level != "" {
		cfg.LogLevel = fc.Logging.Level
	}
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
}

func applySecretsConfig(cfg *Config, sc secretsConfig) {
	if sc.AWSAccessKeyID != "" {
		cfg.AWSAccessKeyID = sc.AWSAccessKeyID
	}
	if sc.AWSSecretAccessKey != "" {
		cfg.AWSSecretAccessKey = sc.AWSSecretAccessKey
	}
	if sc.DiscordToken != "" {
		cfg.DiscordBotToken = sc.DiscordToken
	}
	if sc.StatusAdminSecret != "" {
		cfg.StatusAdminSecret = sc.StatusAdminSecret
	}
}
