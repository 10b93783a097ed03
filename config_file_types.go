package main

type cloudFileConfig struct {
	Region       string `toml:"region"`
	AccountID    string `toml:"account_id"`
	BucketPrefix string `toml:"bucket_prefix"`
	S3Endpoint   string `toml:"s3_endpoint"`
}

type mineAPIFileConfig struct {
	BaseURL            string `toml:"base_url"`
	DonationAddressURL string `toml:"donation_address_url"`
}

type miningFileConfig struct {
	AddressesPerInstance *int    `toml:"addresses_per_instance"`
	AddressFile          string  `toml:"address_file"`
	MinerWorkers         *int    `toml:"miner_workers"`
	MinerBinary          string  `toml:"miner_binary"`
	SignerBinary         string  `toml:"signer_binary"`
	MaxAttempts          *uint64 `toml:"max_attempts"`
}

type cadenceFileConfig struct {
	WorkCheckSeconds      *int `toml:"work_check_seconds"`
	ChallengeFetchSeconds *int `toml:"challenge_fetch_seconds"`
	HeartbeatSeconds      *int `toml:"heartbeat_seconds"`
	ReclaimMinutes        *int `toml:"reclaim_minutes"`
}

type fleetFileConfig struct {
	LaunchTemplateID string `toml:"launch_template_id"`
	DesiredWorkers   *int   `toml:"desired_workers"`
}

type statusFileConfig struct {
	Listen                 string `toml:"listen"`
	DiscordNotifyChannelID string `toml:"discord_notify_channel_id"`
}

type loggingFileConfig struct {
	Level string `toml:"level"`
}

type baseFileConfig struct {
	Cloud   cloudFileConfig   `toml:"cloud"`
	MineAPI mineAPIFileConfig `toml:"mine_api"`
	Mining  miningFileConfig  `toml:"mining"`
	Cadence cadenceFileConfig `toml:"cadence"`
	Fleet   fleetFileConfig   `toml:"fleet"`
	Status  statusFileConfig  `toml:"status"`
	Logging loggingFileConfig `toml:"logging"`
	DataDir string            `toml:"data_dir"`
}

type secretsConfig struct {
	AWSAccessKeyID     string `toml:"aws_access_key_id"`
	AWSSecretAccessKey string `toml:"aws_secret_access_key"`
	DiscordToken       string `toml:"discord_token"`
	StatusAdminSecret  string `toml:"status_admin_secret"`
}
