package main

import "path/filepath"

const (
	defaultBucketPrefix   = "night-cloud-mining"
	defaultMineAPIBaseURL = "https://mine.example.com/api"
	defaultDataDir        = "/var/lib/nightcloud"

	defaultAddressesPerInstance = 50
	defaultMinerBinaryPath      = "/usr/local/bin/night-miner"
	defaultSignerBinaryPath     = "/usr/local/bin/night-signer"
	defaultLogLevel             = "info"
)

func defaultConfig() Config {
	return Config{
		BucketPrefix:         defaultBucketPrefix,
		MineAPIBaseURL:       defaultMineAPIBaseURL,
		AddressesPerInstance: defaultAddressesPerInstance,
		MinerBinaryPath:      defaultMinerBinaryPath,
		SignerBinaryPath:     defaultSignerBinaryPath,
		DataDir:              defaultDataDir,
		LogLevel:             defaultLogLevel,
	}
}

func defaultConfigPath() string {
	return filepath.Join(defaultDataDir, "config", "config.toml")
}

func defaultSecretsPath(dataDir string) string {
	return filepath.Join(dataDir, "config", "secrets.toml")
}

func addressCachePath(dataDir string) string {
	return filepath.Join(dataDir, "state", "addresses.json")
}

func stateDBPath(dataDir string) string {
	return filepath.Join(dataDir, "state", "worker.db")
}

func logDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}
