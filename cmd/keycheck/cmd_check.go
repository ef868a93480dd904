// KeyCheck - key package diagnostics bot
// License: MIT

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/zhaopengme/keycheck/pkg/command"
	"github.com/zhaopengme/keycheck/pkg/gateway"
)

func checkCmd() {
	args := os.Args[2:]
	cmd := command.ParsedCommand{Kind: command.KindKeyCheck, TargetMode: command.TargetSelf}
	if v := flagValue(args, "--inbox", "-i"); v != "" {
		cmd.TargetMode, cmd.TargetValue = command.TargetInboxID, v
	} else if v := flagValue(args, "--address", "-a"); v != "" {
		cmd.TargetMode, cmd.TargetValue = command.TargetAddress, v
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

	ctx := context.Background()
	cfg.Bridge.ReconnectInterval = 0
	client := newBridgeClient(ctx, cfg, nil)
	if err := client.Start(ctx); err != nil {
		fmt.Printf("Error connecting: %v\n", err)
		os.Exit(1)
	}
	defer client.Stop()

	gw := gateway.NewCommandGateway(nil, client, gateway.Options{
		RequestTimeout: cfg.Commands.RequestTimeout,
	})
	result := gw.KeyCheck(ctx, cmd, client.InboxID())
	if result.Failed() {
		fmt.Println(result.ErrorText())
		client.Stop()
		os.Exit(1)
	}
	fmt.Println(result.Reply)
}
