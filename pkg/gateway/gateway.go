package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zhaopengme/keycheck/pkg/bus"
	"github.com/zhaopengme/keycheck/pkg/command"
	"github.com/zhaopengme/keycheck/pkg/logger"
	"github.com/zhaopengme/keycheck/pkg/messaging"
	"github.com/zhaopengme/keycheck/pkg/utils"
)

type Options struct {
	Prefixes []string
	// RequestTimeout bounds every call to the network client. Zero disables
	// the bound.
	RequestTimeout time.Duration
}

// CommandGateway consumes the inbound stream one message at a time and
// answers key-check commands. A failure while handling one message is
// reported and never stops the loop.
type CommandGateway struct {
	bus     bus.Broker
	client  messaging.Client
	parser  *command.Parser
	timeout time.Duration

	processed atomic.Int64
	ignored   atomic.Int64
	failed    atomic.Int64
}

type Stats struct {
	Processed int64
	Ignored   int64
	Failed    int64
}

func NewCommandGateway(b bus.Broker, client messaging.Client, opts Options) *CommandGateway {
	return &CommandGateway{
		bus:     b,
		client:  client,
		parser:  command.NewParser(opts.Prefixes...),
		timeout: opts.RequestTimeout,
	}
}

func (g *CommandGateway) Run(ctx context.Context) error {
	logger.InfoCF("gateway", "Listening for commands", map[string]interface{}{
		"inbox_id": g.client.InboxID(),
		"prefixes": strings.Join(g.parser.Prefixes(), ","),
	})

	for {
		msg, ok := g.bus.ConsumeInbound(ctx)
		if !ok {
			s := g.Stats()
			logger.InfoCF("gateway", "Message stream ended", map[string]interface{}{
				"processed": s.Processed,
				"ignored":   s.Ignored,
				"failed":    s.Failed,
			})
			return nil
		}

		g.handleMessage(ctx, msg)
	}
}

func (g *CommandGateway) Stats() Stats {
	return Stats{
		Processed: g.processed.Load(),
		Ignored:   g.ignored.Load(),
		Failed:    g.failed.Load(),
	}
}

func (g *CommandGateway) handleMessage(ctx context.Context, msg bus.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("gateway", "Recovered from panic while handling message", map[string]interface{}{
				"conversation_id": msg.ConversationID,
				"sender_inbox_id": msg.SenderInboxID,
				"panic":           fmt.Sprint(r),
			})
			g.failed.Add(1)
		}
	}()

	if strings.EqualFold(msg.SenderInboxID, g.client.InboxID()) {
		g.ignored.Add(1)
		return
	}
	if msg.ContentType != messaging.ContentTypeText {
		logger.DebugCF("gateway", "Skipping non-text message", map[string]interface{}{
			"conversation_id": msg.ConversationID,
			"content_type":    msg.ContentType,
		})
		g.ignored.Add(1)
		return
	}

	cmd := g.parser.Parse(msg.Content)
	if cmd.Kind == command.KindNone {
		g.ignored.Add(1)
		return
	}

	callCtx, cancel := g.callContext(ctx)
	conv, err := g.client.GetConversationByID(callCtx, msg.ConversationID)
	cancel()
	if err != nil {
		logger.ErrorCF("gateway", "Conversation lookup failed", map[string]interface{}{
			"conversation_id": msg.ConversationID,
			"error":           classify(err).Error(),
		})
		g.failed.Add(1)
		return
	}
	if conv == nil {
		logger.WarnCF("gateway", "Conversation not found", map[string]interface{}{
			"conversation_id": msg.ConversationID,
			"sender_inbox_id": msg.SenderInboxID,
		})
		g.failed.Add(1)
		return
	}

	logger.InfoCF("gateway", fmt.Sprintf("Command from %s: %s", msg.SenderInboxID, utils.Truncate(msg.Content, 80)),
		map[string]interface{}{
			"conversation_id": msg.ConversationID,
			"command":         cmd.Kind.String(),
			"target_mode":     cmd.TargetMode.String(),
		})

	result := g.dispatch(ctx, cmd, msg, conv)
	g.deliver(ctx, conv, result)
}

// dispatch runs the handler for cmd. A panicking handler is turned into a
// failed Result so the loop keeps going.
func (g *CommandGateway) dispatch(ctx context.Context, cmd command.ParsedCommand, msg bus.InboundMessage, conv messaging.Conversation) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = failure(cmd.Kind, msg.SenderInboxID, "", fmt.Errorf("panic: %v", r))
		}
	}()

	switch cmd.Kind {
	case command.KindHelp:
		return g.handleHelp()
	case command.KindGroupID:
		return g.handleGroupID(conv)
	case command.KindVersion:
		return g.handleVersion()
	case command.KindMembers:
		return g.handleMembers(ctx, msg, conv)
	case command.KindKeyCheck:
		return g.KeyCheck(ctx, cmd, msg.SenderInboxID)
	}
	return Result{Kind: cmd.Kind}
}

func (g *CommandGateway) deliver(ctx context.Context, conv messaging.Conversation, result Result) {
	text := result.Reply
	if result.Err != nil {
		g.failed.Add(1)
		logger.ErrorCF("gateway", "Command failed", map[string]interface{}{
			"conversation_id": conv.ID(),
			"command":         result.Kind.String(),
			"target":          result.Target,
			"error":           result.Err.Error(),
		})
		text = result.ErrorText()
	} else {
		g.processed.Add(1)
	}

	if text == "" {
		return
	}

	callCtx, cancel := g.callContext(ctx)
	defer cancel()
	if err := conv.Send(callCtx, text); err != nil {
		logger.ErrorCF("gateway", "Failed to send reply", map[string]interface{}{
			"conversation_id": conv.ID(),
			"command":         result.Kind.String(),
			"error":           classify(err).Error(),
		})
		return
	}

	if g.bus != nil {
		g.bus.PublishOutbound(bus.OutboundMessage{
			ConversationID: conv.ID(),
			Content:        text,
		})
	}
}

func (g *CommandGateway) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// classify maps context deadline errors onto messaging.ErrTimeout.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, messaging.ErrTimeout) {
		return fmt.Errorf("%w: %v", messaging.ErrTimeout, err)
	}
	return err
}
