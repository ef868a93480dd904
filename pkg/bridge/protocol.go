package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/zhaopengme/keycheck/pkg/messaging"
)

// Bridge methods. The bridge is a sidecar hosting the network SDK; it speaks
// JSON over a websocket.
const (
	MethodHello               = "hello"
	MethodConversationGet     = "conversation.get"
	MethodConversationSend    = "conversation.send"
	MethodConversationMembers = "conversation.members"
	MethodIdentityResolve     = "identity.resolve"
	MethodInboxState          = "inbox.state"
	MethodKeyPackageStatus    = "keypackage.status"

	EventMessage = "message"
)

type Request struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// Frame is any frame received from the bridge: a response when ID is set,
// an event when Event is set.
type Frame struct {
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type RemoteError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type HelloParams struct {
	Env             string `json:"env"`
	WalletKey       string `json:"wallet_key"`
	DBEncryptionKey string `json:"db_encryption_key"`
	DBPath          string `json:"db_path,omitempty"`
}

type HelloResult struct {
	InboxID    string `json:"inbox_id"`
	SDKVersion string `json:"sdk_version"`
}

type ConversationParams struct {
	ConversationID string `json:"conversation_id"`
}

type ConversationGetResult struct {
	Found bool `json:"found"`
}

type SendParams struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

type MembersResult struct {
	Members []messaging.Member `json:"members"`
}

type ResolveParams struct {
	Identifier string                   `json:"identifier"`
	Kind       messaging.IdentifierKind `json:"kind"`
}

type ResolveResult struct {
	InboxID string `json:"inbox_id"`
}

type InboxStateParams struct {
	InboxIDs     []string `json:"inbox_ids"`
	ForceRefresh bool     `json:"force_refresh"`
}

type InboxStateResult struct {
	States []messaging.InboxState `json:"states"`
}

type KeyPackageStatusParams struct {
	InstallationIDs []string `json:"installation_ids"`
}

type KeyPackageStatusResult struct {
	Statuses []messaging.KeyPackageStatus `json:"statuses"`
}

// MessageEvent is the payload of a "message" event.
type MessageEvent struct {
	ID             string `json:"id"`
	SenderInboxID  string `json:"sender_inbox_id"`
	ConversationID string `json:"conversation_id"`
	ContentType    string `json:"content_type"`
	Content        string `json:"content"`
}
