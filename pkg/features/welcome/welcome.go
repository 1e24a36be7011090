// Package welcome greets new guild members and grants the guild's
// configured default roles.
package welcome

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tavernbot/pkg/bus"
	"tavernbot/pkg/dispatch"
	"tavernbot/pkg/gateway"
	"tavernbot/pkg/logger"
	"tavernbot/pkg/settings"
)

// passivePriority runs the greeter early; member-joined events carry
// nothing for later handlers.
const passivePriority = 15

// Feature greets joining members.
type Feature struct {
	log        *logger.Logger
	dispatcher *dispatch.Dispatcher
	gw         gateway.Gateway
	bus        bus.Bus
}

// New creates the welcome feature.
func New(log *logger.Logger, d *dispatch.Dispatcher, gw gateway.Gateway, b bus.Bus) *Feature {
	return &Feature{log: log, dispatcher: d, gw: gw, bus: b}
}

// Name identifies the feature in startup logs.
func (f *Feature) Name() string { return "welcome" }

// Register adds the member-joined passive handler.
func (f *Feature) Register() error {
	f.dispatcher.AddPassive(&dispatch.Passive{
		Name:     "welcome",
		Priority: passivePriority,
		Fn:       f.onJoin,
	})
	return nil
}

func (f *Feature) onJoin(ctx context.Context, msg *bus.Message, guild *settings.GuildSettings) (bool, error) {
	if msg.Event != bus.EventMemberJoined || msg.GuildID == "" {
		return false, nil
	}

	f.grantDefaultRoles(ctx, msg, guild)

	if guild.WelcomeMessage == "" || guild.WelcomeChannel == "" {
		return true, nil
	}

	greeting := strings.ReplaceAll(guild.WelcomeMessage, "{user}", "<@"+msg.UserID+">")
	out := &bus.Message{
		ID:        uuid.New().String(),
		ChannelID: msg.ChannelID,
		ChatID:    guild.WelcomeChannel,
		GuildID:   msg.GuildID,
		Event:     bus.EventMessage,
		Content:   greeting,
		Timestamp: time.Now(),
	}
	if err := f.bus.SendOutbound(out); err != nil {
		return true, fmt.Errorf("sending welcome message: %w", err)
	}
	return true, nil
}

// grantDefaultRoles assigns the guild's configured starter roles. Failures
// are logged, not fatal; a missing role must not block the greeting.
func (f *Feature) grantDefaultRoles(ctx context.Context, msg *bus.Message, guild *settings.GuildSettings) {
	if len(guild.DefaultRoles) == 0 {
		return
	}

	roles, err := f.gw.GuildRoles(ctx, msg.GuildID)
	if err != nil {
		f.log.Warn("Failed to list roles for default grant",
			zap.String("guild_id", msg.GuildID), zap.Error(err))
		return
	}

	for _, name := range guild.DefaultRoles {
		role, ok := gateway.RoleByName(roles, name)
		if !ok || role.Managed {
			f.log.Warn("Default role not grantable",
				zap.String("guild_id", msg.GuildID), zap.String("role", name))
			continue
		}
		if err := f.gw.GrantRole(ctx, msg.GuildID, msg.UserID, role.ID); err != nil {
			f.log.Warn("Failed to grant default role",
				zap.String("guild_id", msg.GuildID),
				zap.String("role", name), zap.Error(err))
		}
	}
}
