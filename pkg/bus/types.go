package bus

// InboundMessage is one message delivered by the network stream.
type InboundMessage struct {
	ID             string `json:"id,omitempty"`
	SenderInboxID  string `json:"sender_inbox_id"`
	ConversationID string `json:"conversation_id"`
	ContentType    string `json:"content_type"`
	Content        string `json:"content"`
}

// OutboundMessage is a reply queued for a conversation. The dispatcher sends
// directly on the conversation handle; the outbound queue carries copies for
// observers such as the console.
type OutboundMessage struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}
