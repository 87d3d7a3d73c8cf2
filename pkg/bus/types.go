package bus

import "strings"

// SystemChannel is the reserved inbound channel for sub-agent and other
// runtime-internal announcements. Inbound messages on this channel carry
// their reply destination encoded in ChatID (see Origin).
const SystemChannel = "system"

// DefaultOriginChannel is assumed when an encoded origin has no channel part.
const DefaultOriginChannel = "cli"

type InboundMessage struct {
	Channel  string   `json:"channel"`
	SenderID string   `json:"sender_id"`
	ChatID   string   `json:"chat_id"`
	Content  string   `json:"content"`
	Media    []string `json:"media,omitempty"`
}

// SessionKey identifies the conversation this message belongs to.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// Origin is the channel/chat identity a system-generated message must be
// routed back to. On the wire it travels inside the ChatID field of a
// system-channel inbound message as "channel:chat_id"; internally it is
// always this struct, encoded and decoded only at the transport boundary.
type Origin struct {
	Channel string
	ChatID  string
}

// Encode packs the origin into its chat_id wire form.
func (o Origin) Encode() string {
	return o.Channel + ":" + o.ChatID
}

// SessionKey returns the session identity of the origin conversation.
func (o Origin) SessionKey() string {
	return o.Channel + ":" + o.ChatID
}

// DecodeOrigin parses an encoded origin from a system message's chat_id.
// Input without a separator decodes to the direct CLI channel.
func DecodeOrigin(encoded string) Origin {
	if idx := strings.Index(encoded, ":"); idx > 0 {
		return Origin{Channel: encoded[:idx], ChatID: encoded[idx+1:]}
	}
	return Origin{Channel: DefaultOriginChannel, ChatID: encoded}
}
