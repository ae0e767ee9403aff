// Package chatsdk defines the types and interfaces parley consumes from a
// vendor chat SDK. The library never constructs a real SDK; it programs
// against these interfaces and the host application supplies the bindings.
package chatsdk

// MessageType classifies a message.
type MessageType string

const (
	MessageTypeUser  MessageType = "user"
	MessageTypeFile  MessageType = "file"
	MessageTypeAdmin MessageType = "admin"
)

// SendStatus is the delivery state of a message from the sender's side.
type SendStatus string

const (
	SendStatusPending   SendStatus = "pending"
	SendStatusSucceeded SendStatus = "succeeded"
	SendStatusFailed    SendStatus = "failed"
)

// Message is one chat message as the SDK reports it. Messages carry a dual
// identity: RequestID is assigned by the client when a send starts and
// MessageID by the server once it accepts the message. A MessageID of zero
// means the server has not confirmed the message yet.
type Message struct {
	MessageID        int64       `json:"message_id,omitempty"`
	RequestID        string      `json:"request_id,omitempty"`
	Type             MessageType `json:"type"`
	ChannelURL       string      `json:"channel_url"`
	SenderID         string      `json:"sender_id"`
	Body             string      `json:"body,omitempty"`
	FileName         string      `json:"file_name,omitempty"`
	FileURL          string      `json:"file_url,omitempty"`
	MentionedUserIDs []string    `json:"mentioned_user_ids,omitempty"`
	MentionTemplate  string      `json:"mention_template,omitempty"`
	CustomType       string      `json:"custom_type,omitempty"`
	CreatedAt        int64       `json:"created_at"` // unix milliseconds
	UpdatedAt        int64       `json:"updated_at,omitempty"`
	Status           SendStatus  `json:"status"`
}

// Confirmed reports whether the server has assigned the message an id.
func (m Message) Confirmed() bool {
	return m.MessageID > 0
}

// Matches reports whether other is the same message under dual identity:
// equal server ids when both sides are confirmed, otherwise equal request
// ids. A confirmed message keeps its request id, so the server copy of an
// optimistic send matches the pending copy it replaces.
func (m Message) Matches(other Message) bool {
	if m.Confirmed() && other.Confirmed() {
		return m.MessageID == other.MessageID
	}
	return m.RequestID != "" && m.RequestID == other.RequestID
}
