// Package dispatch implements the message dispatcher: the per-message
// pipeline that resolves guild settings, matches commands, phrase triggers,
// and passive handlers, and contains handler failures.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tavernbot/pkg/auth"
	"tavernbot/pkg/bus"
	"tavernbot/pkg/commands"
	"tavernbot/pkg/config"
	"tavernbot/pkg/gateway"
	"tavernbot/pkg/logger"
	"tavernbot/pkg/settings"
)

// PhraseHandler runs when a phrase trigger matches. The returned string, if
// non-empty, is sent as the reply.
type PhraseHandler func(ctx context.Context, msg *bus.Message, guild *settings.GuildSettings) (string, error)

// Phrase is a static text trigger bound directly to a handler, bypassing
// the command-prefix mechanism. Either Substring or Pattern must be set.
type Phrase struct {
	Name      string
	Substring string
	Pattern   *regexp.Regexp
	Handler   PhraseHandler
}

func (p *Phrase) matches(content string) bool {
	if p.Substring != "" {
		return strings.Contains(content, p.Substring)
	}
	if p.Pattern != nil {
		return p.Pattern.MatchString(content)
	}
	return false
}

// PassiveFn inspects an event and reports whether it handled it. Returning
// false passes the event to the next handler in priority order.
type PassiveFn func(ctx context.Context, msg *bus.Message, guild *settings.GuildSettings) (bool, error)

// Passive is a fallback handler run when no command or phrase matched, and
// for all non-message gateway events. Lower priority runs earlier.
type Passive struct {
	Name     string
	Priority int
	Fn       PassiveFn
}

// Dispatcher routes every inbound bus event through the match pipeline.
// Its registries are populated by feature initializers at startup and are
// the only mutable dispatch state besides the settings cache.
type Dispatcher struct {
	log      *logger.Logger
	cfg      *config.Config
	registry *commands.Registry
	settings *settings.Store
	auth     *auth.Checker
	bus      bus.Bus
	gw       gateway.Gateway

	mu       sync.RWMutex
	phrases  []*Phrase
	passives []*Passive
}

// NewDispatcher creates the dispatcher with empty trigger registries.
func NewDispatcher(
	log *logger.Logger,
	cfg *config.Config,
	registry *commands.Registry,
	store *settings.Store,
	checker *auth.Checker,
	b bus.Bus,
	gw gateway.Gateway,
) *Dispatcher {
	return &Dispatcher{
		log:      log,
		cfg:      cfg,
		registry: registry,
		settings: store,
		auth:     checker,
		bus:      b,
		gw:       gw,
	}
}

// AddPhrase registers a phrase trigger. Triggers are tested in registration
// order.
func (d *Dispatcher) AddPhrase(p *Phrase) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.phrases = append(d.phrases, p)
}

// AddPassive registers a passive fallback handler.
func (d *Dispatcher) AddPassive(p *Passive) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.passives = append(d.passives, p)
	sort.SliceStable(d.passives, func(i, j int) bool {
		return d.passives[i].Priority < d.passives[j].Priority
	})
}

// Handle processes one inbound bus event to completion. It never returns a
// handler's error to the bus; failures are logged and converted into the
// guild's fallback reply.
func (d *Dispatcher) Handle(ctx context.Context, msg *bus.Message) error {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Dispatch panic",
				zap.String("message_id", msg.ID),
				zap.Any("panic", r))
		}
	}()

	botID := d.gw.BotID()
	if botID != "" {
		if msg.UserID == botID {
			return nil
		}
		d.registry.SetBotID(botID)
	}

	guild := d.guildSettings(ctx, msg.GuildID)
	d.mirror(msg, guild)

	if msg.Event != bus.EventMessage {
		d.passiveChain(ctx, msg, guild)
		return nil
	}

	content := commands.NormalizeQuotes(msg.Content)

	if m := d.registry.ResolveHelpShortcut(content); m != nil {
		d.invoke(ctx, msg, guild, m, content)
		return nil
	}

	prefix := d.cfg.DecoratePrefix(guild.EffectivePrefix(d.cfg.Bot.DefaultPrefix))
	if m := d.registry.Resolve(content, prefix); m != nil {
		d.invoke(ctx, msg, guild, m, content)
		return nil
	}

	d.mu.RLock()
	phrases := d.phrases
	d.mu.RUnlock()
	for _, p := range phrases {
		if !p.matches(content) {
			continue
		}
		out, err := p.Handler(ctx, msg, guild)
		if err != nil {
			d.log.Error("Phrase handler failed",
				zap.String("phrase", p.Name),
				zap.Error(err))
			d.reply(ctx, msg, guild.FailMessage(), false)
			return nil
		}
		d.reply(ctx, msg, out, false)
		return nil
	}

	d.passiveChain(ctx, msg, guild)
	return nil
}

// guildSettings resolves settings for the message's guild. Direct messages
// have no guild and get defaults; a store failure degrades to defaults
// rather than dropping the message.
func (d *Dispatcher) guildSettings(ctx context.Context, guildID string) *settings.GuildSettings {
	if guildID == "" {
		return &settings.GuildSettings{}
	}
	guild, err := d.settings.Guild(ctx, guildID)
	if err != nil {
		d.log.Error("Failed to load guild settings",
			zap.String("guild_id", guildID),
			zap.Error(err))
		return &settings.GuildSettings{}
	}
	return guild
}

// mirror copies guild traffic into the configured audit log channel when
// the guild has log-everything enabled.
func (d *Dispatcher) mirror(msg *bus.Message, guild *settings.GuildSettings) {
	if guild.LogChannel == "" || !guild.LogAll {
		return
	}
	if msg.DM || msg.Event != bus.EventMessage || msg.ChatID == guild.LogChannel {
		return
	}

	out := &bus.Message{
		ID:        uuid.New().String(),
		ChannelID: msg.ChannelID,
		ChatID:    guild.LogChannel,
		GuildID:   msg.GuildID,
		Event:     bus.EventMessage,
		Content:   fmt.Sprintf("[%s] %s", msg.Username, msg.Content),
		Timestamp: time.Now(),
	}
	if err := d.bus.SendOutbound(out); err != nil {
		d.log.Warn("Failed to mirror message to log channel",
			zap.String("guild_id", msg.GuildID),
			zap.Error(err))
	}
}

// invoke runs one matched command with argument parsing, the admin gate,
// and failure containment.
func (d *Dispatcher) invoke(ctx context.Context, msg *bus.Message, guild *settings.GuildSettings, m *commands.Match, content string) {
	cmd := m.Command

	if cmd.AdminOnly {
		ok, err := d.auth.IsAdmin(ctx, msg.GuildID, msg.UserID)
		if err != nil {
			d.log.Error("Admin check failed",
				zap.String("command", cmd.Name),
				zap.String("user_id", msg.UserID),
				zap.Error(err))
		}
		if !ok {
			d.reply(ctx, msg, guild.FailMessage(), false)
			return
		}
	}

	rest := strings.TrimPrefix(content, m.Matched)
	args, flags := commands.ExtractFlags(commands.Tokenize(rest, cmd.MaxArgs))

	req := &commands.Request{
		Msg:     msg,
		Guild:   guild,
		Args:    args,
		Flags:   flags,
		Matched: m.Matched,
	}

	resp, err := d.safeInvoke(ctx, cmd, req)
	if err != nil {
		d.log.Error("Command handler failed",
			zap.String("command", cmd.Name),
			zap.String("guild_id", msg.GuildID),
			zap.String("user_id", msg.UserID),
			zap.Error(err))
		d.reply(ctx, msg, d.errorReply(err, guild), false)
		return
	}

	d.reply(ctx, msg, resp.Content, resp.DM)
}

// safeInvoke shields the dispatcher from handler panics.
func (d *Dispatcher) safeInvoke(ctx context.Context, cmd *commands.Command, req *commands.Request) (resp commands.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return cmd.Handler(ctx, req)
}

// errorReply maps a handler error kind onto the user-facing reply. Unknown
// and unauthorized errors get the guild's randomized fallback phrase so no
// internals leak.
func (d *Dispatcher) errorReply(err error, guild *settings.GuildSettings) string {
	switch {
	case errors.Is(err, ErrBadArgument):
		return "I'm not sure what you mean by that."
	case errors.Is(err, ErrNotFound):
		return "I couldn't find that."
	default:
		return guild.FailMessage()
	}
}

// passiveChain walks the fallback handlers in ascending priority order
// until one reports the event handled.
func (d *Dispatcher) passiveChain(ctx context.Context, msg *bus.Message, guild *settings.GuildSettings) {
	d.mu.RLock()
	passives := d.passives
	d.mu.RUnlock()

	for _, p := range passives {
		handled, err := p.Fn(ctx, msg, guild)
		if err != nil {
			d.log.Error("Passive handler failed",
				zap.String("handler", p.Name),
				zap.Error(err))
			continue
		}
		if handled {
			return
		}
	}
}

// reply sends content back to the message's origin after the cosmetic
// reply delay. An empty content is a no-op. The delay never blocks the
// bus's dispatch goroutine: a delayed send runs on its own goroutine so
// one reply cannot stall other users' messages.
func (d *Dispatcher) reply(ctx context.Context, msg *bus.Message, content string, dm bool) {
	if content == "" {
		return
	}

	out := &bus.Message{
		ID:        uuid.New().String(),
		ChannelID: msg.ChannelID,
		ChatID:    msg.ChatID,
		GuildID:   msg.GuildID,
		UserID:    msg.UserID,
		Event:     bus.EventMessage,
		Content:   content,
		DM:        dm || msg.DM,
		Timestamp: time.Now(),
		ReplyTo:   msg.ID,
	}

	delay := time.Duration(d.cfg.Bot.ReplyDelay) * time.Millisecond
	if delay == 0 {
		d.deliver(out)
		return
	}

	go func() {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		d.deliver(out)
	}()
}

func (d *Dispatcher) deliver(out *bus.Message) {
	if err := d.bus.SendOutbound(out); err != nil {
		d.log.Error("Failed to send reply",
			zap.String("chat_id", out.ChatID),
			zap.Error(err))
	}
}
