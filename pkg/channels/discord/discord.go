// Package discord implements the Discord channel: it owns the gateway
// session, publishes guild events onto the bus, and exposes the guild
// capability surface the rest of the bot needs.
package discord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"tavernbot/pkg/bus"
	"tavernbot/pkg/commands"
	"tavernbot/pkg/config"
	"tavernbot/pkg/gateway"
	"tavernbot/pkg/logger"
)

// Channel implements the Discord connection.
type Channel struct {
	log      *logger.Logger
	cfg      *config.Config
	bus      bus.Bus
	registry *commands.Registry
	session  *discordgo.Session

	mu      sync.RWMutex
	running bool
}

// New creates the Discord channel. The session is created eagerly but not
// opened until Start.
func New(log *logger.Logger, cfg *config.Config, b bus.Bus, registry *commands.Registry) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}

	return &Channel{
		log:      log,
		cfg:      cfg,
		bus:      b,
		registry: registry,
		session:  session,
	}, nil
}

// ID returns the channel identifier.
func (c *Channel) ID() string { return "discord" }

// Name returns the channel name.
func (c *Channel) Name() string { return "Discord" }

// IsEnabled returns whether the channel is enabled.
func (c *Channel) IsEnabled() bool { return c.cfg.Discord.Enabled }

// Start opens the gateway connection and begins publishing events.
func (c *Channel) Start(ctx context.Context) error {
	c.log.Info("Starting Discord channel")

	c.session.AddHandler(c.onMessageCreate)
	c.session.AddHandler(c.onMemberAdd)
	c.session.AddHandler(c.onMemberRemove)
	c.session.AddHandler(c.onReactionAdd)

	c.session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("opening discord connection: %w", err)
	}

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	if user := c.session.State.User; user != nil {
		c.registry.SetBotID(user.ID)
		c.log.Info("Discord bot connected",
			zap.String("username", user.Username),
			zap.String("user_id", user.ID))
	}

	if presence := c.cfg.Bot.Presence; presence != "" {
		if err := c.SetPresence(ctx, presence); err != nil {
			c.log.Warn("Failed to set presence", zap.Error(err))
		}
	}

	return nil
}

// Stop closes the gateway connection.
func (c *Channel) Stop(ctx context.Context) error {
	c.log.Info("Stopping Discord channel")

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	if c.session != nil {
		if err := c.session.Close(); err != nil {
			return fmt.Errorf("closing discord session: %w", err)
		}
	}
	return nil
}

// SendMessage delivers an outbound bus message to Discord.
func (c *Channel) SendMessage(ctx context.Context, msg *bus.Message) error {
	if msg.Content == "" {
		return nil
	}
	if msg.DM {
		return c.Direct(ctx, msg.UserID, msg.Content)
	}
	if msg.ChatID == "" {
		return fmt.Errorf("outbound message has no chat id")
	}

	if msg.ReplyTo != "" {
		_, err := c.session.ChannelMessageSendReply(msg.ChatID, msg.Content, &discordgo.MessageReference{
			MessageID: msg.ReplyTo,
			ChannelID: msg.ChatID,
			GuildID:   msg.GuildID,
		})
		if err == nil {
			return nil
		}
		// The referenced message may be gone; fall back to a plain send.
		c.log.Debug("Reply reference failed, sending plain", zap.Error(err))
	}

	if _, err := c.session.ChannelMessageSend(msg.ChatID, msg.Content); err != nil {
		return fmt.Errorf("sending discord message: %w", err)
	}
	return nil
}

func (c *Channel) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	msg := &bus.Message{
		ID:        m.ID,
		ChannelID: c.ID(),
		ChatID:    m.ChannelID,
		GuildID:   m.GuildID,
		UserID:    m.Author.ID,
		Username:  m.Author.Username,
		Event:     bus.EventMessage,
		Content:   m.Content,
		DM:        m.GuildID == "",
		Timestamp: ts,
	}

	if err := c.bus.SendInbound(msg); err != nil {
		c.log.Error("Failed to publish inbound message", zap.Error(err))
	}
}

func (c *Channel) onMemberAdd(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.User == nil {
		return
	}

	msg := &bus.Message{
		ID:        fmt.Sprintf("join:%s:%s", m.GuildID, m.User.ID),
		ChannelID: c.ID(),
		GuildID:   m.GuildID,
		UserID:    m.User.ID,
		Username:  m.User.Username,
		Event:     bus.EventMemberJoined,
		Timestamp: time.Now(),
	}

	if err := c.bus.SendInbound(msg); err != nil {
		c.log.Error("Failed to publish member join", zap.Error(err))
	}
}

func (c *Channel) onMemberRemove(s *discordgo.Session, m *discordgo.GuildMemberRemove) {
	if m.User == nil {
		return
	}

	msg := &bus.Message{
		ID:        fmt.Sprintf("leave:%s:%s", m.GuildID, m.User.ID),
		ChannelID: c.ID(),
		GuildID:   m.GuildID,
		UserID:    m.User.ID,
		Username:  m.User.Username,
		Event:     bus.EventMemberLeft,
		Timestamp: time.Now(),
	}

	if err := c.bus.SendInbound(msg); err != nil {
		c.log.Error("Failed to publish member leave", zap.Error(err))
	}
}

func (c *Channel) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	msg := &bus.Message{
		ID:        fmt.Sprintf("react:%s:%s", r.MessageID, r.UserID),
		ChannelID: c.ID(),
		ChatID:    r.ChannelID,
		GuildID:   r.GuildID,
		UserID:    r.UserID,
		Event:     bus.EventReactionAdded,
		Emoji:     r.Emoji.Name,
		DM:        r.GuildID == "",
		Data:      map[string]string{"message_id": r.MessageID},
		Timestamp: time.Now(),
	}

	if err := c.bus.SendInbound(msg); err != nil {
		c.log.Error("Failed to publish reaction", zap.Error(err))
	}
}

// BotID returns the connected bot's user ID, empty before connect.
func (c *Channel) BotID() string {
	if user := c.session.State.User; user != nil {
		return user.ID
	}
	return ""
}

// Member resolves a guild member, preferring the session state cache.
func (c *Channel) Member(ctx context.Context, guildID, userID string) (*gateway.Member, error) {
	m, err := c.session.State.Member(guildID, userID)
	if err != nil {
		m, err = c.session.GuildMember(guildID, userID)
		if err != nil {
			return nil, fmt.Errorf("resolving member %s in guild %s: %w", userID, guildID, err)
		}
	}

	member := &gateway.Member{
		UserID:  userID,
		Nick:    m.Nick,
		RoleIDs: m.Roles,
	}
	if m.User != nil {
		member.Username = m.User.Username
	}

	if guild, err := c.session.State.Guild(guildID); err == nil {
		member.Owner = guild.OwnerID == userID
	}
	return member, nil
}

// GuildRoles lists the guild's roles.
func (c *Channel) GuildRoles(ctx context.Context, guildID string) ([]gateway.Role, error) {
	roles, err := c.session.GuildRoles(guildID)
	if err != nil {
		return nil, fmt.Errorf("listing roles for guild %s: %w", guildID, err)
	}

	out := make([]gateway.Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, gateway.Role{
			ID:          r.ID,
			Name:        r.Name,
			Permissions: r.Permissions,
			Managed:     r.Managed,
		})
	}
	return out, nil
}

// IsOwner reports whether the user owns the guild.
func (c *Channel) IsOwner(ctx context.Context, guildID, userID string) (bool, error) {
	guild, err := c.session.State.Guild(guildID)
	if err != nil {
		guild, err = c.session.Guild(guildID)
		if err != nil {
			return false, fmt.Errorf("resolving guild %s: %w", guildID, err)
		}
	}
	return guild.OwnerID == userID, nil
}

// GrantRole adds a role to a guild member.
func (c *Channel) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := c.session.GuildMemberRoleAdd(guildID, userID, roleID); err != nil {
		return fmt.Errorf("granting role %s to %s: %w", roleID, userID, err)
	}
	return nil
}

// Direct sends a direct message to a user.
func (c *Channel) Direct(ctx context.Context, userID, content string) error {
	dm, err := c.session.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("opening dm with %s: %w", userID, err)
	}
	if _, err := c.session.ChannelMessageSend(dm.ID, content); err != nil {
		return fmt.Errorf("sending dm to %s: %w", userID, err)
	}
	return nil
}

// SetPresence updates the bot's presence text.
func (c *Channel) SetPresence(ctx context.Context, status string) error {
	return c.session.UpdateGameStatus(0, status)
}
