// Package memnet is an in-process messaging network. It backs the console
// mode and serves as the fake client in tests.
package memnet

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zhaopengme/keycheck/pkg/bus"
	"github.com/zhaopengme/keycheck/pkg/identity"
	"github.com/zhaopengme/keycheck/pkg/messaging"
)

const DefaultVersion = "memnet/1.0.0"

type SentMessage struct {
	ConversationID string
	Content        string
}

// Network implements messaging.Client over in-memory state.
type Network struct {
	mu            sync.Mutex
	inboxID       string
	version       string
	inboxes       map[string]messaging.InboxState
	keyPackages   map[string]messaging.KeyPackageStatus
	conversations map[string]*Conversation
	failures      map[string]error
	calls         []string
	sent          []SentMessage
	publisher     bus.Publisher
}

func NewNetwork(botInboxID string) *Network {
	return &Network{
		inboxID:       botInboxID,
		version:       DefaultVersion,
		inboxes:       make(map[string]messaging.InboxState),
		keyPackages:   make(map[string]messaging.KeyPackageStatus),
		conversations: make(map[string]*Conversation),
		failures:      make(map[string]error),
	}
}

func (n *Network) SetVersion(version string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.version = version
}

func (n *Network) AddInbox(state messaging.InboxState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inboxes[state.InboxID] = state
}

// SetKeyPackage records the status returned for an installation. A status
// with neither lifetime nor error models an installation the network knows
// but could not classify.
func (n *Network) SetKeyPackage(status messaging.KeyPackageStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.keyPackages[status.InstallationID] = status
}

func (n *Network) AddConversation(id string, memberInboxIDs ...string) *Conversation {
	n.mu.Lock()
	defer n.mu.Unlock()
	conv := &Conversation{id: id, network: n}
	for _, m := range memberInboxIDs {
		conv.members = append(conv.members, messaging.Member{InboxID: m})
	}
	n.conversations[id] = conv
	return conv
}

// FailOn makes every later call to method return err. Method names match
// the messaging.Client and messaging.Conversation method names.
func (n *Network) FailOn(method string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err == nil {
		delete(n.failures, method)
		return
	}
	n.failures[method] = err
}

// Calls returns the collaborator methods invoked so far, in order.
func (n *Network) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.calls))
	copy(out, n.calls)
	return out
}

// Sent returns every message sent on any conversation, in order.
func (n *Network) Sent() []SentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]SentMessage, len(n.sent))
	copy(out, n.sent)
	return out
}

// Attach makes Deliver publish onto pub.
func (n *Network) Attach(pub bus.Publisher) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.publisher = pub
}

// Deliver injects a text message from sender into a conversation stream.
func (n *Network) Deliver(senderInboxID, conversationID, text string) error {
	return n.DeliverContent(senderInboxID, conversationID, messaging.ContentTypeText, text)
}

func (n *Network) DeliverContent(senderInboxID, conversationID, contentType, content string) error {
	n.mu.Lock()
	pub := n.publisher
	n.mu.Unlock()
	if pub == nil {
		return messaging.ErrNotConnected
	}
	pub.PublishInbound(bus.InboundMessage{
		ID:             uuid.NewString(),
		SenderInboxID:  senderInboxID,
		ConversationID: conversationID,
		ContentType:    contentType,
		Content:        content,
	})
	return nil
}

func (n *Network) InboxID() string {
	return n.inboxID
}

func (n *Network) LibraryVersion() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.version
}

func (n *Network) GetConversationByID(ctx context.Context, id string) (messaging.Conversation, error) {
	if err := n.record(ctx, "GetConversationByID"); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	conv, ok := n.conversations[id]
	if !ok {
		return nil, nil
	}
	return conv, nil
}

func (n *Network) ResolveInboxIDByAddress(ctx context.Context, address string, kind messaging.IdentifierKind) (string, error) {
	if err := n.record(ctx, "ResolveInboxIDByAddress"); err != nil {
		return "", err
	}
	want := identity.NormalizeAddress(address)

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, state := range n.inboxes {
		for _, ident := range state.Identifiers {
			if ident.Kind != kind {
				continue
			}
			if strings.EqualFold(identity.NormalizeAddress(ident.Identifier), want) {
				return state.InboxID, nil
			}
		}
	}
	return "", nil
}

func (n *Network) InboxStateFromInboxIDs(ctx context.Context, inboxIDs []string, forceRefresh bool) ([]messaging.InboxState, error) {
	if err := n.record(ctx, "InboxStateFromInboxIDs"); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []messaging.InboxState
	for _, id := range inboxIDs {
		if state, ok := n.inboxes[id]; ok {
			out = append(out, state)
		}
	}
	return out, nil
}

func (n *Network) KeyPackageStatusesForInstallationIDs(ctx context.Context, installationIDs []string) ([]messaging.KeyPackageStatus, error) {
	if err := n.record(ctx, "KeyPackageStatusesForInstallationIDs"); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []messaging.KeyPackageStatus
	for _, id := range installationIDs {
		if status, ok := n.keyPackages[id]; ok {
			out = append(out, status)
		}
	}
	return out, nil
}

func (n *Network) record(ctx context.Context, method string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, method)
	if err, ok := n.failures[method]; ok {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// Conversation is a conversation on a Network.
type Conversation struct {
	id      string
	network *Network
	members []messaging.Member
	sent    []SentMessage
}

func (c *Conversation) ID() string {
	return c.id
}

func (c *Conversation) Send(ctx context.Context, text string) error {
	if err := c.network.record(ctx, "Send"); err != nil {
		return err
	}
	msg := SentMessage{ConversationID: c.id, Content: text}

	c.network.mu.Lock()
	c.sent = append(c.sent, msg)
	c.network.sent = append(c.network.sent, msg)
	c.network.mu.Unlock()
	return nil
}

func (c *Conversation) Members(ctx context.Context) ([]messaging.Member, error) {
	if err := c.network.record(ctx, "Members"); err != nil {
		return nil, err
	}
	c.network.mu.Lock()
	defer c.network.mu.Unlock()
	out := make([]messaging.Member, len(c.members))
	copy(out, c.members)
	return out, nil
}

// Messages returns what was sent on this conversation.
func (c *Conversation) Messages() []string {
	c.network.mu.Lock()
	defer c.network.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, m := range c.sent {
		out = append(out, m.Content)
	}
	return out
}
