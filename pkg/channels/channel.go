// Package channels hosts the transport adapters that bridge external chat
// surfaces onto the message bus.
package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/skiffbot/skiff/pkg/bus"
)

// Channel is a transport adapter. Start begins receiving and publishing
// inbound messages; Send delivers one outbound message.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
}

// BaseChannel carries the pieces every transport shares: the bus handle,
// allow-list filtering, and the running flag.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom []string
	running   atomic.Bool
}

func NewBaseChannel(name string, msgBus *bus.MessageBus, allowFrom []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       msgBus,
		allowFrom: allowFrom,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) setRunning(v bool) {
	c.running.Store(v)
}

// IsAllowed reports whether senderID passes the allow-list. An empty list
// allows everyone. Compound "id|username" senders match an entry against
// either part, and "@name" entries match the username part.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}

	id, username, _ := strings.Cut(senderID, "|")
	for _, entry := range c.allowFrom {
		entryID, entryUser, compound := strings.Cut(entry, "|")
		switch {
		case entry == senderID || entryID == id:
			return true
		case username != "" && strings.TrimPrefix(entry, "@") == username:
			return true
		case compound && entryUser != "" && entryUser == username:
			return true
		}
	}
	return false
}

// HandleMessage filters by allow-list and publishes the inbound message.
// Denied senders are dropped silently.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, media []string) {
	if !c.IsAllowed(senderID) {
		return
	}
	c.bus.PublishInbound(bus.InboundMessage{
		Channel:  c.name,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  content,
		Media:    media,
	})
}
