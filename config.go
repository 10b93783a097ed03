package main

var secretsConfigExample = []byte(`# AWS credentials (optional; instance roles are preferred on workers).
# aws_access_key_id = "AKIA..."
# aws_secret_access_key = "..."

# Optional Discord notifications integration.
# discord_token = "YOUR_DISCORD_BOT_TOKEN"

# HMAC secret for status-server admin sessions. When left empty, a random
# secret is generated at each start, so sessions do not survive a restart.
# status_admin_secret = "..."
`)

type Config struct {
	// Cloud placement. The regional bucket is derived as
	// <bucket_prefix>-<account_id>-<region>.
	Region       string
	AccountID    string
	BucketPrefix string
	S3Endpoint   string // override for local object stores (testing)

	// Mine API.
	MineAPIBaseURL     string
	DonationAddressURL string // endpoint returning a donation address; may be unset

	// Addressing.
	AddressesPerInstance int
	AddressFile          string // controller seed source, one bech32 address per line

	// Mining.
	MinerWorkers     int // 0 = host CPU count
	MinerBinaryPath  string
	SignerBinaryPath string
	MaxAttempts      uint64 // per miner invocation, 0 = miner default

	// Loop cadence overrides, seconds. Zero keeps the built-in default.
	WorkCheckSeconds      int
	ChallengeFetchSeconds int
	HeartbeatSeconds      int
	ReclaimMinutes        int

	// Fleet control (controller commands).
	LaunchTemplateID string
	DesiredWorkers   int

	// Status server. Empty address disables it.
	StatusAddr string

	// Discord integration.
	DiscordNotifyChannelID string
	DiscordBotToken        string // store in secrets.toml

	// Secrets.
	AWSAccessKeyID     string // store in secrets.toml
	AWSSecretAccessKey string // store in secrets.toml
	StatusAdminSecret  string // store in secrets.toml

	DataDir  string
	LogLevel string
}
