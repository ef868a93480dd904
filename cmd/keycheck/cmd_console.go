// KeyCheck - key package diagnostics bot
// License: MIT

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/zhaopengme/keycheck/pkg/bus"
	"github.com/zhaopengme/keycheck/pkg/gateway"
	"github.com/zhaopengme/keycheck/pkg/logger"
	"github.com/zhaopengme/keycheck/pkg/memnet"
)

const (
	defaultConsoleConversation = "console"
	defaultConsoleSender       = "a11ce0000000000000000000000000a1"
)

type consoleSession struct {
	network        *memnet.Network
	sender         string
	conversationID string
}

func consoleCmd() {
	args := os.Args[2:]
	if hasFlag(args, "--debug", "-d") {
		logger.SetLevel(logger.DEBUG)
	} else {
		logger.SetLevel(logger.WARN)
	}

	var (
		network *memnet.Network
		err     error
	)
	if path := flagValue(args, "--fixture", "-f"); path != "" {
		network, err = memnet.LoadFixture(path)
	} else {
		network, err = memnet.ParseFixture([]byte(memnet.DemoFixture))
	}
	if err != nil {
		fmt.Printf("Error loading fixture: %v\n", err)
		os.Exit(1)
	}

	session := &consoleSession{
		network:        network,
		sender:         defaultConsoleSender,
		conversationID: defaultConsoleConversation,
	}
	if as := flagValue(args, "--as"); as != "" {
		session.sender = as
	}
	if conv := flagValue(args, "--conversation", "-c"); conv != "" {
		session.conversationID = conv
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgBus := bus.NewMessageBus()
	network.Attach(msgBus)
	gw := gateway.NewCommandGateway(msgBus, network, gateway.Options{})
	go gw.Run(ctx)

	fmt.Printf("%s Console on an in-memory network (bot %s)\n", logo, network.InboxID())
	fmt.Printf("Sending as %s in conversation %s. Type \":as <inbox id>\" to switch sender, \"exit\" to quit.\n\n",
		session.sender, session.conversationID)

	interactiveMode(ctx, session, msgBus)
}

func interactiveMode(ctx context.Context, session *consoleSession, msgBus *bus.MessageBus) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s > ", logo),
		HistoryFile:     filepath.Join(os.TempDir(), ".keycheck_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		go printReplies(ctx, msgBus, os.Stdout)
		simpleInteractiveMode(session)
		return
	}
	defer rl.Close()

	go printReplies(ctx, msgBus, rl.Stdout())

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !session.handleLine(line) {
			return
		}
	}
}

func simpleInteractiveMode(session *consoleSession) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s > ", logo)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !session.handleLine(line) {
			return
		}
	}
}

// handleLine delivers one console line. It returns false when the user
// asked to quit.
func (s *consoleSession) handleLine(line string) bool {
	input := strings.TrimSpace(line)
	switch {
	case input == "":
		return true
	case input == "exit" || input == "quit":
		fmt.Println("Goodbye!")
		return false
	case strings.HasPrefix(input, ":as "):
		s.sender = strings.TrimSpace(strings.TrimPrefix(input, ":as "))
		fmt.Printf("Now sending as %s\n", s.sender)
		return true
	}

	if err := s.network.Deliver(s.sender, s.conversationID, input); err != nil {
		fmt.Printf("Error: %v\n", err)
	}
	return true
}

func printReplies(ctx context.Context, msgBus *bus.MessageBus, w io.Writer) {
	for {
		msg, ok := msgBus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		fmt.Fprintf(w, "\n%s\n\n", msg.Content)
	}
}
