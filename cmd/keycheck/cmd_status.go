// KeyCheck - key package diagnostics bot
// License: MIT

package main

import (
	"fmt"
	"strings"
)

func statusCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	fmt.Printf("%s keycheck Status\n", logo)
	fmt.Printf("Version: %s\n", formatVersion())
	build, _ := formatBuildInfo()
	if build != "" {
		fmt.Printf("Build: %s\n", build)
	}
	fmt.Println()

	status := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "not set"
	}

	fmt.Println("Network:", cfg.Network.Env)
	fmt.Println("Wallet key:", status(cfg.Network.WalletKey != ""))
	fmt.Println("DB encryption key:", status(cfg.Network.DBEncryptionKey != ""))
	fmt.Println("Bridge:", cfg.Bridge.URL)
	fmt.Println("Bridge auth:", status(cfg.Bridge.Token != "" || cfg.Bridge.TokenURL != ""))
	fmt.Println("Command prefixes:", strings.Join(cfg.Commands.Prefixes, ", "))
	fmt.Println("Request timeout:", cfg.Commands.RequestTimeout)
	if cfg.Audit.Cron != "" {
		fmt.Println("Audit schedule:", cfg.Audit.Cron)
	} else {
		fmt.Println("Audit schedule: disabled")
	}
	fmt.Println()

	if err := cfg.Validate(); err != nil {
		fmt.Println("Configuration: ✗", err)
		return
	}
	fmt.Println("Configuration: ✓")
}
