// Package bus provides message routing between the gateway channels and the
// dispatcher.
package bus

import (
	"context"
	"time"
)

// Event identifies the kind of gateway event carried by a message.
type Event string

const (
	EventMessage       Event = "message-created"
	EventMemberJoined  Event = "member-joined"
	EventMemberLeft    Event = "member-left"
	EventReactionAdded Event = "reaction-added"
)

// Message represents an event flowing through the bus.
//
// Inbound messages describe gateway events; outbound messages describe
// replies the channel should deliver. For outbound, ChatID addresses a
// channel and DM+UserID addresses a user's direct-message inbox.
type Message struct {
	ID        string            `json:"id"`         // Unique message ID
	ChannelID string            `json:"channel_id"` // Source/target channel ("discord")
	ChatID    string            `json:"chat_id"`    // Platform conversation ID
	GuildID   string            `json:"guild_id"`   // Guild scope, empty for DMs
	UserID    string            `json:"user_id"`    // User identifier
	Username  string            `json:"username"`   // User display name
	Event     Event             `json:"event"`      // Gateway event kind
	Content   string            `json:"content"`    // Text content
	Emoji     string            `json:"emoji"`      // Reaction emoji, reaction events only
	DM        bool              `json:"dm"`         // Message is in a direct-message chat
	Data      map[string]string `json:"data"`       // Additional channel-specific data
	Timestamp time.Time         `json:"timestamp"`  // Event timestamp
	ReplyTo   string            `json:"reply_to"`   // ID of message being replied to
}

// Handler is a function that processes messages.
type Handler func(ctx context.Context, msg *Message) error

// Bus is the interface for message routing.
type Bus interface {
	// Start starts the message bus.
	Start() error

	// Stop stops the message bus.
	Stop() error

	// RegisterInbound registers a handler for inbound messages from a channel.
	RegisterInbound(channelID string, handler Handler)

	// RegisterOutbound registers a handler delivering outbound messages to a channel.
	RegisterOutbound(channelID string, handler Handler)

	// UnregisterHandlers removes all handlers for a channel.
	UnregisterHandlers(channelID string)

	// SendInbound sends an inbound message (from channel to dispatcher).
	SendInbound(msg *Message) error

	// SendOutbound sends an outbound message (from dispatcher to channel).
	SendOutbound(msg *Message) error

	// GetMetrics returns current bus metrics.
	GetMetrics() map[string]uint64
}
