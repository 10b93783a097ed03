package main

import "time"

const softwareName = "nightcloud"

const (
	// Cadences for the worker loops.
	workCheckInterval      = 5 * time.Second
	challengeFetchInterval = 5 * time.Minute
	expiryScanInterval     = 10 * time.Second
	heartbeatInterval      = 1 * time.Minute
	reclaimInterval        = 20 * time.Minute

	// Allocator-path staleness is tight because the caller is blocked on a
	// free slot; the periodic reclaimer runs loose to keep churn low.
	allocatorStaleThreshold = 90 * time.Second
	reclaimerStaleThreshold = 30 * time.Minute

	// Conditional-write retry budgets.
	casBackoffBase     = 1 * time.Second
	casBackoffCap      = 10 * time.Second
	allocatorCASLimit  = 10
	reclaimerCASLimit  = 60
	statsCASLimit      = 5
	statsBackoffJitter = 100 * time.Millisecond

	// Allocator waits for the controller to finish seeding.
	registryWaitAttempts = 10
	registryWaitDelay    = 5 * time.Second

	// Shutdown grace for miner subprocesses after SIGTERM.
	minerKillGrace = 10 * time.Second

	// Work queue shaping.
	donationEveryNItems = 20
	recentEntriesCap    = 20

	// Mine API client.
	mineAPIRequestTimeout = 30 * time.Second
	mineAPIRetryLimit     = 3
	mineAPIRetryBase      = 500 * time.Millisecond

	maxMinerOutputBytes = 1 << 20
)

// Shared object keys inside the regional bucket.
const (
	registryObjectKey   = "registry.json"
	challengesObjectKey = "challenges.json"
	statsObjectKey      = "solutions-stats.json"
	minerCodeObjectKey  = "miner-code.tar.gz"
	solutionsKeyPrefix  = "solutions/"
	heartbeatKeyPrefix  = "heartbeats/"
)

// Process exit codes. Startup scripts key off these.
const (
	exitOK                = 0
	exitFatal             = 1
	exitRegistryExhausted = 2
)
