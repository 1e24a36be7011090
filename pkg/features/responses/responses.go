// Package responses implements admin-managed auto-responses: per-guild
// phrase/reply pairs matched as a passive fallback after commands and
// built-in phrase triggers.
package responses

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"tavernbot/pkg/bus"
	"tavernbot/pkg/commands"
	"tavernbot/pkg/dispatch"
	"tavernbot/pkg/logger"
	"tavernbot/pkg/settings"
)

// extraKey is the guild settings key holding the trigger map.
const extraKey = "responses"

// passivePriority places auto-responses after the walkthrough fallback.
const passivePriority = 50

// Feature implements the auto-response commands and passive matcher.
type Feature struct {
	log        *logger.Logger
	registry   *commands.Registry
	dispatcher *dispatch.Dispatcher
	settings   *settings.Store
	bus        bus.Bus
}

// New creates the responses feature.
func New(log *logger.Logger, registry *commands.Registry, d *dispatch.Dispatcher, store *settings.Store, b bus.Bus) *Feature {
	return &Feature{
		log:        log,
		registry:   registry,
		dispatcher: d,
		settings:   store,
		bus:        b,
	}
}

// Name identifies the feature in startup logs.
func (f *Feature) Name() string { return "responses" }

// Register adds the response command and the passive matcher.
func (f *Feature) Register() error {
	if err := f.registry.Register(&commands.Command{
		Name:        "response",
		ArgTemplate: "<add|remove|list> [trigger] [reply]",
		Help:        "manage auto-responses",
		AdminOnly:   true,
		Handler:     f.handle,
	}); err != nil {
		return err
	}

	f.dispatcher.AddPhrase(&dispatch.Phrase{
		Name:    "good-bot",
		Pattern: goodBotPattern,
		Handler: f.goodBot,
	})

	f.dispatcher.AddPassive(&dispatch.Passive{
		Name:     "auto-responses",
		Priority: passivePriority,
		Fn:       f.match,
	})
	return nil
}

var goodBotPattern = regexp.MustCompile(`(?i)\bgood bot\b`)

func (f *Feature) goodBot(ctx context.Context, msg *bus.Message, guild *settings.GuildSettings) (string, error) {
	if msg.DM {
		return "", nil
	}
	return "Aw, thanks.", nil
}

func (f *Feature) handle(ctx context.Context, req *commands.Request) (commands.Response, error) {
	if req.Msg.GuildID == "" {
		return commands.Response{Content: "Auto-responses live inside a guild."}, nil
	}
	if len(req.Args) == 0 {
		return commands.Response{Content: "Try `response add <trigger> <reply>`, `response remove <trigger>`, or `response list`."}, nil
	}

	triggers := f.triggers(req.Guild)

	switch strings.ToLower(req.Args[0]) {
	case "add":
		if len(req.Args) < 3 {
			return commands.Response{}, fmt.Errorf("response add needs a trigger and a reply: %w", dispatch.ErrBadCommand)
		}
		trigger := strings.ToLower(req.Args[1])
		reply := strings.Join(req.Args[2:], " ")
		triggers[trigger] = reply
		if err := f.save(ctx, req.Msg.GuildID, triggers); err != nil {
			return commands.Response{}, err
		}
		return commands.Response{Content: fmt.Sprintf("Okay, %q now gets a response.", trigger)}, nil

	case "remove":
		if len(req.Args) < 2 {
			return commands.Response{}, fmt.Errorf("response remove needs a trigger: %w", dispatch.ErrBadCommand)
		}
		trigger := strings.ToLower(req.Args[1])
		if _, ok := triggers[trigger]; !ok {
			return commands.Response{}, fmt.Errorf("trigger %q: %w", trigger, dispatch.ErrNotFound)
		}
		delete(triggers, trigger)
		if err := f.save(ctx, req.Msg.GuildID, triggers); err != nil {
			return commands.Response{}, err
		}
		return commands.Response{Content: fmt.Sprintf("Removed %q.", trigger)}, nil

	case "list":
		if len(triggers) == 0 {
			return commands.Response{Content: "No auto-responses configured."}, nil
		}
		keys := make([]string, 0, len(triggers))
		for k := range triggers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString("Auto-responses:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "`%s` -> %s\n", k, triggers[k])
		}
		return commands.Response{Content: strings.TrimRight(b.String(), "\n")}, nil

	default:
		return commands.Response{}, fmt.Errorf("response %s: %w", req.Args[0], dispatch.ErrBadArgument)
	}
}

// match is the passive handler testing guild messages against the trigger
// map. First match in sorted trigger order wins.
func (f *Feature) match(ctx context.Context, msg *bus.Message, guild *settings.GuildSettings) (bool, error) {
	if msg.Event != bus.EventMessage || msg.DM || msg.GuildID == "" {
		return false, nil
	}

	triggers := f.triggers(guild)
	if len(triggers) == 0 {
		return false, nil
	}

	content := strings.ToLower(msg.Content)
	keys := make([]string, 0, len(triggers))
	for k := range triggers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, trigger := range keys {
		if !strings.Contains(content, trigger) {
			continue
		}
		out := &bus.Message{
			ID:        uuid.New().String(),
			ChannelID: msg.ChannelID,
			ChatID:    msg.ChatID,
			GuildID:   msg.GuildID,
			Event:     bus.EventMessage,
			Content:   triggers[trigger],
			Timestamp: time.Now(),
			ReplyTo:   msg.ID,
		}
		if err := f.bus.SendOutbound(out); err != nil {
			return false, fmt.Errorf("sending auto-response: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// triggers decodes the guild's trigger map from the free-form settings.
func (f *Feature) triggers(guild *settings.GuildSettings) map[string]string {
	triggers := make(map[string]string)
	guild.GetExtra(extraKey, &triggers)
	return triggers
}

func (f *Feature) save(ctx context.Context, guildID string, triggers map[string]string) error {
	_, err := f.settings.SaveGuild(ctx, guildID, map[string]interface{}{extraKey: triggers})
	return err
}
