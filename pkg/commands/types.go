// Package commands provides the command registry, prefix resolution, and
// argument parsing for the dispatcher.
package commands

import (
	"context"

	"tavernbot/pkg/bus"
	"tavernbot/pkg/settings"
)

// Command is a static registry entry. Created at startup, immutable after
// registration.
type Command struct {
	// Name is the command name matched after the prefix.
	Name string
	// ArgTemplate documents the arguments in help output, e.g. "<key> [value]".
	ArgTemplate string
	// Help is the one-line help text.
	Help string
	// Handler executes the command.
	Handler Handler
	// AdminOnly restricts the command to guild admins.
	AdminOnly bool
	// IgnorePrefix forces matching against the process-wide default prefix
	// instead of the guild's configured prefix, keeping admin/meta commands
	// reachable even when the configured prefix is broken.
	IgnorePrefix bool
	// SortWeight orders the command in help listings. Zero means unweighted;
	// unweighted commands sort after weighted ones, alphabetically.
	SortWeight int
	// HelpShortcut marks the command reachable via a bare "<mention> help".
	HelpShortcut bool
	// MaxArgs caps positional tokenization; the remainder of the input
	// becomes the final argument verbatim. Zero means unlimited.
	MaxArgs int
}

// Handler is the function bound to a command at registration time.
type Handler func(ctx context.Context, req *Request) (Response, error)

// Request carries one matched invocation into a handler.
type Request struct {
	// Msg is the inbound gateway event.
	Msg *bus.Message
	// Guild is the resolved guild settings (never nil, may be defaults).
	Guild *settings.GuildSettings
	// Args are the positional tokens after the matched command.
	Args []string
	// Flags are the extracted --key[=value] tokens.
	Flags map[string]string
	// Matched is the exact prefix+command substring stripped from the input.
	Matched string
}

// Response is the handler result delivered back through the gateway.
type Response struct {
	// Content is the reply text. Empty means no reply.
	Content string
	// DM sends the reply to the invoking user's direct-message inbox
	// instead of the originating channel.
	DM bool
}

// Match is the ephemeral result of resolving one inbound message against
// the registry.
type Match struct {
	Command *Command
	// Matched is the exact prefix+command substring, including trailing
	// whitespace, to strip from the input before tokenizing.
	Matched string
}

// HelpEntry is one line contributed to the help listing.
type HelpEntry struct {
	Name   string
	Args   string
	Text   string
	Weight int // zero = unweighted
}

// HelpGenerator contributes dynamic entries to the help listing, letting
// feature plugins document state-dependent commands.
type HelpGenerator func() []HelpEntry
