package chatsdk

import (
	"context"
	"errors"
)

// ErrResendNotSupported is returned by resend calls for message types the
// channel cannot resend, such as admin messages.
var ErrResendNotSupported = errors.New("chatsdk: message type cannot be resent")

// ChannelKind distinguishes the channel families an SDK exposes.
type ChannelKind string

const (
	ChannelKindGroup ChannelKind = "group"
	ChannelKindOpen  ChannelKind = "open"
)

// SendAck delivers the terminal result of a send or resend: the confirmed
// server copy of the message, or the pending copy plus the error that
// failed it. Implementations must deliver the ack asynchronously, never
// from inside the send call itself.
type SendAck func(msg Message, err error)

// UserMessageParams describes a text send.
type UserMessageParams struct {
	Body             string
	MentionedUserIDs []string
	MentionTemplate  string
	CustomType       string
}

// FileMessageParams describes a file send.
type FileMessageParams struct {
	FileName         string
	FileURL          string
	MentionedUserIDs []string
	CustomType       string
}

// Channel is the slice of an SDK channel the message core uses. Send calls
// return the pending message synchronously so the caller can render it
// immediately; the ack fires later with the confirmed or failed result.
// Implementations must be safe for concurrent use.
type Channel interface {
	URL() string
	Name() string
	Kind() ChannelKind
	CustomType() string

	SendUserMessage(params UserMessageParams, ack SendAck) Message
	SendFileMessage(params FileMessageParams, ack SendAck) Message
	ResendUserMessage(msg Message, ack SendAck) error
	ResendFileMessage(msg Message, ack SendAck) error

	MarkAsDelivered(ctx context.Context) error
	MarkAsRead(ctx context.Context) error
}
