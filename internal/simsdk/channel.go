package simsdk

import (
	"context"
	"errors"
	"time"

	"github.com/ferrowell/parley/chatsdk"
)

// Channel is a per-user handle on a server channel. Send calls return the
// pending message immediately and resolve through the ack on a goroutine,
// the way a network SDK would.
type Channel struct {
	srv    *Server
	url    string
	userID string
}

func (c *Channel) URL() string { return c.url }

func (c *Channel) Name() string {
	name, _, _, _ := c.srv.channelMeta(c.url)
	return name
}

func (c *Channel) Kind() chatsdk.ChannelKind {
	_, _, kind, _ := c.srv.channelMeta(c.url)
	return kind
}

func (c *Channel) CustomType() string {
	_, customType, _, _ := c.srv.channelMeta(c.url)
	return customType
}

func (c *Channel) SendUserMessage(p chatsdk.UserMessageParams, ack chatsdk.SendAck) chatsdk.Message {
	pending := chatsdk.Message{
		RequestID:        newRequestID(),
		Type:             chatsdk.MessageTypeUser,
		ChannelURL:       c.url,
		SenderID:         c.userID,
		Body:             p.Body,
		MentionedUserIDs: p.MentionedUserIDs,
		MentionTemplate:  p.MentionTemplate,
		CustomType:       p.CustomType,
		CreatedAt:        time.Now().UnixMilli(),
		Status:           chatsdk.SendStatusPending,
	}
	c.srv.trackSend(c.url, pending)
	go c.resolve(pending, ack)
	return pending
}

func (c *Channel) SendFileMessage(p chatsdk.FileMessageParams, ack chatsdk.SendAck) chatsdk.Message {
	pending := chatsdk.Message{
		RequestID:        newRequestID(),
		Type:             chatsdk.MessageTypeFile,
		ChannelURL:       c.url,
		SenderID:         c.userID,
		FileName:         p.FileName,
		FileURL:          p.FileURL,
		MentionedUserIDs: p.MentionedUserIDs,
		CustomType:       p.CustomType,
		CreatedAt:        time.Now().UnixMilli(),
		Status:           chatsdk.SendStatusPending,
	}
	c.srv.trackSend(c.url, pending)
	go c.resolve(pending, ack)
	return pending
}

func (c *Channel) ResendUserMessage(msg chatsdk.Message, ack chatsdk.SendAck) error {
	if msg.Type != chatsdk.MessageTypeUser {
		return chatsdk.ErrResendNotSupported
	}
	return c.resend(msg, ack)
}

func (c *Channel) ResendFileMessage(msg chatsdk.Message, ack chatsdk.SendAck) error {
	if msg.Type != chatsdk.MessageTypeFile {
		return chatsdk.ErrResendNotSupported
	}
	return c.resend(msg, ack)
}

func (c *Channel) resend(msg chatsdk.Message, ack chatsdk.SendAck) error {
	if msg.RequestID == "" {
		return errors.New("simsdk: resend without request id")
	}
	retried := msg
	retried.Status = chatsdk.SendStatusPending
	c.srv.trackSend(c.url, retried)
	go c.resolve(retried, ack)
	return nil
}

// resolve carries a pending send to the server and delivers the ack.
// Request-id dedupe on the server makes retried sends idempotent.
func (c *Channel) resolve(pending chatsdk.Message, ack chatsdk.SendAck) {
	if err := c.srv.sendFault(c.url); err != nil {
		c.srv.settleSend(c.url, pending.RequestID, false)
		ack(pending, err)
		return
	}
	stored, err := c.srv.accept(c.url, pending)
	if err != nil {
		c.srv.settleSend(c.url, pending.RequestID, false)
		ack(pending, err)
		return
	}
	c.srv.settleSend(c.url, pending.RequestID, true)
	ack(stored, nil)
}

func (c *Channel) MarkAsDelivered(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.srv.markDelivered(c.url, c.userID)
}

func (c *Channel) MarkAsRead(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.srv.markRead(c.url, c.userID)
}
