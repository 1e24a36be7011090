// Package channels provides the platform channel interface and lifecycle
// management. A channel owns one platform connection and translates between
// platform events and bus messages.
package channels

import (
	"context"

	"tavernbot/pkg/bus"
)

// Channel represents one platform connection.
type Channel interface {
	// ID returns the unique channel identifier.
	ID() string

	// Name returns the human-readable channel name.
	Name() string

	// Start connects the channel and begins publishing inbound events.
	Start(ctx context.Context) error

	// Stop disconnects the channel gracefully.
	Stop(ctx context.Context) error

	// IsEnabled returns whether the channel is enabled in configuration.
	IsEnabled() bool

	// SendMessage delivers an outbound message through this channel.
	SendMessage(ctx context.Context, msg *bus.Message) error
}
