package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ferrowell/parley/chatsdk"
	"github.com/ferrowell/parley/collection"
	"github.com/ferrowell/parley/labels"
)

// renderSnapshot formats the synchronized window for a terminal: one status
// line, the newest tail messages, and the unread tray when it holds anything.
func renderSnapshot(snap collection.Snapshot, src labels.Source, tail int) string {
	var b strings.Builder

	name := ""
	if snap.ActiveChannel != nil {
		name = snap.ActiveChannel.Name()
	}
	switch {
	case snap.Loading:
		fmt.Fprintf(&b, "[%s] %s\n", name, src.Get(labels.KeyChannelLoading))
	case snap.Refreshing:
		fmt.Fprintf(&b, "[%s] refreshing\n", name)
	default:
		fmt.Fprintf(&b, "[%s] %s\n", name, snap.State)
	}

	msgs := snap.Messages
	if tail > 0 && len(msgs) > tail {
		msgs = msgs[len(msgs)-tail:]
	}
	for _, m := range msgs {
		b.WriteString(renderMessage(m, src))
	}

	if n := len(snap.NextMessages); n > 0 {
		fmt.Fprintf(&b, "-- %s: %d (/next) --\n", src.Get(labels.KeyNewMessages), n)
	}
	return b.String()
}

func renderMessage(m chatsdk.Message, src labels.Source) string {
	when := humanize.Time(time.UnixMilli(m.CreatedAt))

	if m.Type == chatsdk.MessageTypeAdmin {
		return fmt.Sprintf("  * %s (%s)\n", m.Body, when)
	}
	body := m.Body
	if m.Type == chatsdk.MessageTypeFile {
		body = m.FileName
	}

	marker := ""
	switch m.Status {
	case chatsdk.SendStatusPending:
		marker = " [" + src.Get(labels.KeyMessageSending) + "]"
	case chatsdk.SendStatusFailed:
		marker = " [" + src.Get(labels.KeyMessageFailed) + " /retry]"
	}
	return fmt.Sprintf("  %s: %s%s (%s)\n", m.SenderID, body, marker, when)
}
