// KeyCheck - key package diagnostics bot
// License: MIT
//
// Copyright (c) 2026 KeyCheck contributors

package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/zhaopengme/keycheck/pkg/config"
	"github.com/zhaopengme/keycheck/pkg/logger"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const logo = "🔑"

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// formatBuildInfo returns build time and go version info
func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion() {
	fmt.Printf("%s keycheck %s\n", logo, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Printf("  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Printf("  Go: %s\n", goVer)
	}
}

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "run":
		runCmd()
	case "console":
		consoleCmd()
	case "check":
		checkCmd()
	case "status":
		statusCmd()
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("%s keycheck - key package diagnostics bot v%s\n\n", logo, version)
	fmt.Println("Usage: keycheck <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run         Listen on all conversations and answer /key-check commands")
	fmt.Println("  console     Try the commands against an in-memory network")
	fmt.Println("  check       Print the key package report of one inbox and exit")
	fmt.Println("  status      Show configuration status")
	fmt.Println("  version     Show version information")
	fmt.Println()
	fmt.Println("Configuration is read from the environment (XMTP_WALLET_KEY,")
	fmt.Println("XMTP_DB_ENCRYPTION_KEY, XMTP_ENV, KEYCHECK_*).")
}

// loadConfig reads the environment and applies the log settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.File != "" {
		if err := logger.EnableFileLogging(cfg.Log.File); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// hasFlag reports whether any of names appears in args.
func hasFlag(args []string, names ...string) bool {
	for _, a := range args {
		for _, n := range names {
			if a == n {
				return true
			}
		}
	}
	return false
}

// flagValue returns the value following the first of names in args.
func flagValue(args []string, names ...string) string {
	for i := 0; i < len(args)-1; i++ {
		for _, n := range names {
			if args[i] == n {
				return args[i+1]
			}
		}
	}
	return ""
}
