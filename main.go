package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	debugpkg "runtime/debug"
	"syscall"
	"time"
)

var buildTime = "unknown"

func usage() {
	fmt.Fprintf(os.Stderr, `usage: %s <command> [flags]

commands:
  worker     run the mining worker (allocate addresses, mine forever)
  seed       seed or refresh the address registry
  deploy     upload miner code and bring the fleet up
  scale      set the desired worker count
  status     print fleet-wide stats and assignments
  register   accept terms and register all seeded addresses
  donate     redirect one address's rewards to a destination

flags:
`, softwareName)
	flag.PrintDefaults()
}

func main() {
	// Top-level panic handler: capture any unexpected panic to panic.log
	// with a stack trace so operators can inspect it after the restart.
	defer func() {
		if r := recover(); r != nil {
			if f, err := os.OpenFile("panic.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				defer f.Close()
				ts := time.Now().UTC().Format(time.RFC3339)
				fmt.Fprintf(f, "[%s] panic: %v\nbuild_time=%s\n%s\n\n",
					ts, r, buildTime, debugpkg.Stack())
			}
			panic(r)
		}
	}()

	configFlag := flag.String("config", "", "path to config.toml")
	secretsFlag := flag.String("secrets", "", "path to secrets.toml")
	regionFlag := flag.String("region", "", "override cloud region")
	stdoutLogFlag := flag.Bool("stdout", false, "mirror logs to stdout")
	logLevelFlag := flag.String("log-level", "", "override log level (debug/info/warn/error)")
	countFlag := flag.Int("count", -1, "desired worker count (scale)")
	codeDirFlag := flag.String("code-dir", "", "miner code directory (deploy)")
	destinationFlag := flag.String("destination", "", "donation destination address (donate)")
	originalFlag := flag.String("original", "", "donating original address (donate)")
	flag.Usage = usage
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		usage()
		os.Exit(exitFatal)
	}
	// Flags may also follow the command word.
	_ = flag.CommandLine.Parse(flag.Args()[1:])

	cfg := loadConfig(*configFlag, *secretsFlag)
	if *regionFlag != "" {
		cfg.Region = *regionFlag
	}
	if *logLevelFlag != "" {
		cfg.LogLevel = *logLevelFlag
	}

	// The worker resolves its region from instance metadata; every other
	// command needs it configured up front.
	if command != "worker" {
		if err := validateConfig(cfg); err != nil {
			fatal("invalid configuration", err)
		}
	}

	if level, ok := parseLogLevel(cfg.LogLevel); ok {
		logger.setLevel(level)
	}
	if command == "worker" {
		dir := logDir(cfg.DataDir)
		_ = os.MkdirAll(dir, 0o755)
		configureFileLogging(
			filepath.Join(dir, "worker.log"),
			filepath.Join(dir, "error.log"),
			filepath.Join(dir, "debug.log"),
			*stdoutLogFlag,
		)
	} else {
		// Controller commands are interactive; log straight to stdout.
		logger.configureWriters(os.Stdout, os.Stderr, nil, false)
	}
	defer logger.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var code int
	switch command {
	case "worker":
		code = runWorker(ctx, cfg)
	case "seed":
		code = runSeed(ctx, cfg)
	case "deploy":
		code = runDeploy(ctx, cfg, *codeDirFlag)
	case "scale":
		if *countFlag < 0 {
			logger.Error("scale requires -count")
			code = exitFatal
			break
		}
		code = runScale(ctx, cfg, *countFlag)
	case "status":
		code = runStatus(ctx, cfg)
	case "register":
		code = runRegister(ctx, cfg)
	case "donate":
		code = runDonate(ctx, cfg, *destinationFlag, *originalFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		usage()
		code = exitFatal
	}

	logger.Stop()
	os.Exit(code)
}
