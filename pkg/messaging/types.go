package messaging

import (
	"context"
	"errors"
)

// ContentTypeText is the content type id of plain text messages.
const ContentTypeText = "xmtp.org/text:1.0"

var (
	ErrNotConnected = errors.New("messaging: not connected")
	ErrTimeout      = errors.New("messaging: request timed out")
)

type IdentifierKind string

const (
	IdentifierKindEthereum IdentifierKind = "Ethereum"
	IdentifierKindPasskey  IdentifierKind = "Passkey"
)

type Identifier struct {
	Identifier string         `json:"identifier" yaml:"identifier"`
	Kind       IdentifierKind `json:"kind" yaml:"kind"`
}

type Installation struct {
	ID string `json:"id" yaml:"id"`
}

// InboxState is the identity state of one inbox: the identifiers bound to it
// and the installations registered under it, both in network order.
type InboxState struct {
	InboxID       string         `json:"inbox_id" yaml:"inbox_id"`
	Identifiers   []Identifier   `json:"identifiers" yaml:"identifiers"`
	Installations []Installation `json:"installations" yaml:"installations"`
}

// Lifetime is the validity window of a key package in epoch seconds.
type Lifetime struct {
	NotBefore uint64 `json:"not_before" yaml:"not_before"`
	NotAfter  uint64 `json:"not_after" yaml:"not_after"`
}

// KeyPackageStatus is the validation result for one installation's key
// package. Lifetime and ValidationError are independent; either may be set.
type KeyPackageStatus struct {
	InstallationID  string    `json:"installation_id" yaml:"installation_id"`
	Lifetime        *Lifetime `json:"lifetime,omitempty" yaml:"lifetime,omitempty"`
	ValidationError string    `json:"validation_error,omitempty" yaml:"validation_error,omitempty"`
}

type Member struct {
	InboxID string `json:"inbox_id" yaml:"inbox_id"`
}

// Conversation is a borrowed handle to a direct or group conversation.
type Conversation interface {
	ID() string
	Send(ctx context.Context, text string) error
	Members(ctx context.Context) ([]Member, error)
}

// Client is the network client the bot runs on. Implementations own the
// transport, encryption and identity resolution.
type Client interface {
	// InboxID is the bot's own inbox id.
	InboxID() string
	// LibraryVersion is the network SDK version, read once at bootstrap.
	LibraryVersion() string
	// GetConversationByID returns (nil, nil) when the conversation is unknown.
	GetConversationByID(ctx context.Context, id string) (Conversation, error)
	// ResolveInboxIDByAddress returns "" when no inbox owns the identifier.
	ResolveInboxIDByAddress(ctx context.Context, address string, kind IdentifierKind) (string, error)
	InboxStateFromInboxIDs(ctx context.Context, inboxIDs []string, forceRefresh bool) ([]InboxState, error)
	// KeyPackageStatusesForInstallationIDs returns statuses in the order the
	// network reports them. Unknown installations may be missing.
	KeyPackageStatusesForInstallationIDs(ctx context.Context, installationIDs []string) ([]KeyPackageStatus, error)
}
