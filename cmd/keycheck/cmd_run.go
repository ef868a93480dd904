// KeyCheck - key package diagnostics bot
// License: MIT

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zhaopengme/keycheck/pkg/audit"
	"github.com/zhaopengme/keycheck/pkg/bridge"
	"github.com/zhaopengme/keycheck/pkg/bus"
	"github.com/zhaopengme/keycheck/pkg/config"
	"github.com/zhaopengme/keycheck/pkg/gateway"
	"github.com/zhaopengme/keycheck/pkg/logger"
)

func runCmd() {
	if hasFlag(os.Args[2:], "--debug", "-d") {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	msgBus := bus.NewMessageBus()
	client := newBridgeClient(ctx, cfg, msgBus)
	if err := client.Start(ctx); err != nil {
		logger.ErrorCF("keycheck", "Failed to start network client", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
	defer client.Stop()

	gw := gateway.NewCommandGateway(msgBus, client, gateway.Options{
		Prefixes:       cfg.Commands.Prefixes,
		RequestTimeout: cfg.Commands.RequestTimeout,
	})

	if cfg.Audit.Cron != "" {
		auditor, err := audit.NewService(cfg.Audit.Cron, client.InboxID, gw)
		if err != nil {
			fmt.Printf("Invalid configuration: %v\n", err)
			os.Exit(1)
		}
		if err := auditor.Start(ctx); err != nil {
			fmt.Printf("Error starting audit: %v\n", err)
			os.Exit(1)
		}
		defer auditor.Stop()
	}

	fmt.Printf("%s keycheck running as %s (%s). Press Ctrl+C to stop.\n", logo, client.InboxID(), cfg.Network.Env)

	if err := gw.Run(ctx); err != nil {
		logger.ErrorCF("keycheck", "Gateway stopped with error", map[string]interface{}{
			"error": err.Error(),
		})
	}
	fmt.Println("\nShutting down...")
}

func newBridgeClient(ctx context.Context, cfg *config.Config, msgBus bus.Publisher) *bridge.Client {
	return bridge.NewClient(bridge.Options{
		URL:               cfg.Bridge.URL,
		Env:               cfg.Network.Env,
		WalletKey:         cfg.Network.WalletKey,
		DBEncryptionKey:   cfg.Network.DBEncryptionKey,
		DBPath:            cfg.Network.DBPath,
		TokenSource:       bridge.NewTokenSource(ctx, cfg.Bridge),
		ReconnectInterval: cfg.Bridge.ReconnectInterval,
		HandshakeTimeout:  cfg.Bridge.HandshakeTimeout,
		HelloTimeout:      cfg.Commands.RequestTimeout,
	}, msgBus)
}
