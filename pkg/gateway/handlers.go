package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhaopengme/keycheck/pkg/bus"
	"github.com/zhaopengme/keycheck/pkg/command"
	"github.com/zhaopengme/keycheck/pkg/identity"
	"github.com/zhaopengme/keycheck/pkg/logger"
	"github.com/zhaopengme/keycheck/pkg/messaging"
	"github.com/zhaopengme/keycheck/pkg/report"
)

const (
	botMarker    = "🤖"
	senderMarker = "👤"
)

func (g *CommandGateway) handleHelp() Result {
	prefixes := g.parser.Prefixes()
	main := prefixes[0]

	var sb strings.Builder
	sb.WriteString("🔑 Key Check Bot\n\n")
	if len(prefixes) > 1 {
		fmt.Fprintf(&sb, "%s (or %s) - check your own key packages\n", main, strings.Join(prefixes[1:], ", "))
	} else {
		fmt.Fprintf(&sb, "%s - check your own key packages\n", main)
	}
	fmt.Fprintf(&sb, "%s help - show this message\n", main)
	fmt.Fprintf(&sb, "%s inboxid <INBOX_ID> - check key packages of an inbox\n", main)
	fmt.Fprintf(&sb, "%s address <ADDRESS> - check key packages of the inbox owning an address\n", main)
	fmt.Fprintf(&sb, "%s groupid - show this conversation's id\n", main)
	fmt.Fprintf(&sb, "%s members - list the members of this conversation\n", main)
	fmt.Fprintf(&sb, "%s version - show the messaging SDK version", main)

	return reply(command.KindHelp, "", sb.String())
}

func (g *CommandGateway) handleGroupID(conv messaging.Conversation) Result {
	return reply(command.KindGroupID, conv.ID(), conv.ID())
}

func (g *CommandGateway) handleVersion() Result {
	return reply(command.KindVersion, "", fmt.Sprintf("SDK version: %s", g.client.LibraryVersion()))
}

func (g *CommandGateway) handleMembers(ctx context.Context, msg bus.InboundMessage, conv messaging.Conversation) Result {
	callCtx, cancel := g.callContext(ctx)
	members, err := conv.Members(callCtx)
	cancel()
	if err != nil {
		return failure(command.KindMembers, conv.ID(), "Error listing members", err)
	}
	if len(members) == 0 {
		return reply(command.KindMembers, conv.ID(), "No members found in this conversation.")
	}

	return reply(command.KindMembers, conv.ID(), FormatMembers(members, g.client.InboxID(), msg.SenderInboxID))
}

// FormatMembers lists members one per line. The sender marker wins over the
// bot marker when both match.
func FormatMembers(members []messaging.Member, botInboxID, senderInboxID string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "👥 Members (%d):\n", len(members))
	for _, m := range members {
		marker := ""
		if strings.EqualFold(m.InboxID, botInboxID) {
			marker = " " + botMarker
		}
		if strings.EqualFold(m.InboxID, senderInboxID) {
			marker = " " + senderMarker
		}
		fmt.Fprintf(&sb, "• %s%s\n", m.InboxID, marker)
	}
	fmt.Fprintf(&sb, "\n%s = this bot, %s = you", botMarker, senderMarker)
	return sb.String()
}

// KeyCheck builds the key package report for the inbox cmd targets. Lookup
// misses produce an informational reply, collaborator errors a failed Result.
func (g *CommandGateway) KeyCheck(ctx context.Context, cmd command.ParsedCommand, senderInboxID string) Result {
	inboxID := senderInboxID
	switch cmd.TargetMode {
	case command.TargetInboxID:
		inboxID = cmd.TargetValue
	case command.TargetAddress:
		callCtx, cancel := g.callContext(ctx)
		resolved, err := g.client.ResolveInboxIDByAddress(callCtx, cmd.TargetValue, messaging.IdentifierKindEthereum)
		cancel()
		if err != nil {
			return failure(command.KindKeyCheck, cmd.TargetValue,
				fmt.Sprintf("Error resolving address %s", cmd.TargetValue), err)
		}
		if resolved == "" {
			return reply(command.KindKeyCheck, cmd.TargetValue,
				fmt.Sprintf("No inbox found for address %s", cmd.TargetValue))
		}
		inboxID = resolved
	}

	r, found, err := g.BuildReport(ctx, inboxID)
	if err != nil {
		return failure(command.KindKeyCheck, inboxID,
			fmt.Sprintf("Error checking key packages for %s", inboxID), err)
	}
	if !found {
		return reply(command.KindKeyCheck, inboxID, fmt.Sprintf("No inbox state found for %s", inboxID))
	}

	logger.InfoCF("gateway", "Key package report built", map[string]interface{}{
		"inbox_id": inboxID,
		"total":    r.TotalInstallations,
		"valid":    r.ValidCount,
		"invalid":  r.InvalidCount,
	})
	return reply(command.KindKeyCheck, inboxID, report.Format(r))
}

// BuildReport fetches a fresh report for inboxID, bypassing the client's
// cache. found is false when the network has no state for the inbox.
func (g *CommandGateway) BuildReport(ctx context.Context, inboxID string) (report.InboxReport, bool, error) {
	callCtx, cancel := g.callContext(ctx)
	states, err := g.client.InboxStateFromInboxIDs(callCtx, []string{inboxID}, true)
	cancel()
	if err != nil {
		return report.InboxReport{}, false, fmt.Errorf("inbox state: %w", err)
	}
	if len(states) == 0 {
		return report.InboxReport{}, false, nil
	}

	state := states[0]
	address := ""
	if len(state.Identifiers) > 0 {
		address = identity.ChecksumAddress(state.Identifiers[0].Identifier)
	}
	installationIDs := make([]string, 0, len(state.Installations))
	for _, inst := range state.Installations {
		installationIDs = append(installationIDs, inst.ID)
	}

	callCtx, cancel = g.callContext(ctx)
	statuses, err := g.client.KeyPackageStatusesForInstallationIDs(callCtx, installationIDs)
	cancel()
	if err != nil {
		return report.InboxReport{}, false, fmt.Errorf("key package status: %w", err)
	}

	return report.Build(inboxID, address, report.Align(installationIDs, statuses)), true, nil
}
