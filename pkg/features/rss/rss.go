// Package rss announces new items from guild-subscribed feeds into the
// channel that subscribed them, polled on a cron schedule.
package rss

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"tavernbot/pkg/bus"
	"tavernbot/pkg/commands"
	"tavernbot/pkg/cron"
	"tavernbot/pkg/dispatch"
	"tavernbot/pkg/logger"
	"tavernbot/pkg/settings"
	"tavernbot/pkg/state"
)

const (
	// extraKey is the guild settings key holding the subscription list.
	extraKey = "rssFeeds"
	// taskName is the cron task polling one feed.
	taskName = "rss-poll"
	// pollSchedule checks each feed twice an hour.
	pollSchedule = "*/30 * * * *"
	// seenLimit caps the remembered item IDs per feed.
	seenLimit = 50
	// announceLimit caps announcements per poll so a feed hiccup cannot
	// flood a channel.
	announceLimit = 5
)

// subscription is one feed a guild follows.
type subscription struct {
	URL    string `json:"url"`
	ChatID string `json:"chatId"`
}

// Feature implements the rss command and the feed-polling cron task.
type Feature struct {
	log      *logger.Logger
	registry *commands.Registry
	settings *settings.Store
	kv       state.KV
	cron     *cron.Manager
	bus      bus.Bus

	parse func(ctx context.Context, feedURL string) (*gofeed.Feed, error)
}

// New creates the rss feature.
func New(log *logger.Logger, registry *commands.Registry, store *settings.Store, kv state.KV, manager *cron.Manager, b bus.Bus) *Feature {
	return &Feature{
		log:      log,
		registry: registry,
		settings: store,
		kv:       kv,
		cron:     manager,
		bus:      b,
		parse: func(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
			return gofeed.NewParser().ParseURLWithContext(feedURL, ctx)
		},
	}
}

// Name identifies the feature in startup logs.
func (f *Feature) Name() string { return "rss" }

// Register adds the rss command and the polling task.
func (f *Feature) Register() error {
	f.cron.RegisterTask(taskName, f.poll)

	return f.registry.Register(&commands.Command{
		Name:        "rss",
		ArgTemplate: "<add|remove|list> [url]",
		Help:        "manage feed announcements for this channel",
		AdminOnly:   true,
		Handler:     f.handle,
	})
}

func (f *Feature) handle(ctx context.Context, req *commands.Request) (commands.Response, error) {
	if req.Msg.DM {
		return commands.Response{Content: "Feed announcements belong in a guild channel."}, nil
	}
	if len(req.Args) == 0 {
		return commands.Response{}, dispatch.ErrBadArgument
	}

	switch strings.ToLower(req.Args[0]) {
	case "add":
		if len(req.Args) < 2 {
			return commands.Response{}, dispatch.ErrBadArgument
		}
		return f.add(ctx, req, req.Args[1])
	case "remove":
		if len(req.Args) < 2 {
			return commands.Response{}, dispatch.ErrBadArgument
		}
		return f.remove(ctx, req, req.Args[1])
	case "list":
		return f.list(req)
	default:
		return commands.Response{}, dispatch.ErrBadCommand
	}
}

func (f *Feature) add(ctx context.Context, req *commands.Request, feedURL string) (commands.Response, error) {
	parsed, err := url.Parse(feedURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return commands.Response{Content: "That doesn't look like a feed URL."}, nil
	}

	subs := f.subscriptions(req.Guild)
	for _, s := range subs {
		if strings.EqualFold(s.URL, feedURL) {
			return commands.Response{Content: "Already following that feed."}, nil
		}
	}
	subs = append(subs, subscription{URL: feedURL, ChatID: req.Msg.ChatID})

	if _, err := f.settings.SaveGuild(ctx, req.Msg.GuildID, map[string]interface{}{extraKey: subs}); err != nil {
		return commands.Response{}, fmt.Errorf("saving feed list: %w", err)
	}

	_, err = f.cron.AddJob("rss "+feedURL, pollSchedule, taskName, map[string]string{
		"guild": req.Msg.GuildID,
		"url":   feedURL,
		"chat":  req.Msg.ChatID,
	})
	if err != nil {
		return commands.Response{}, fmt.Errorf("scheduling feed poll: %w", err)
	}

	return commands.Response{Content: fmt.Sprintf("Following %s. New items will be announced here.", feedURL)}, nil
}

func (f *Feature) remove(ctx context.Context, req *commands.Request, feedURL string) (commands.Response, error) {
	subs := f.subscriptions(req.Guild)
	kept := subs[:0]
	found := false
	for _, s := range subs {
		if strings.EqualFold(s.URL, feedURL) {
			found = true
			continue
		}
		kept = append(kept, s)
	}
	if !found {
		return commands.Response{}, dispatch.ErrNotFound
	}

	if _, err := f.settings.SaveGuild(ctx, req.Msg.GuildID, map[string]interface{}{extraKey: kept}); err != nil {
		return commands.Response{}, fmt.Errorf("saving feed list: %w", err)
	}

	f.cron.RemoveJobsBy(func(j *cron.Job) bool {
		return j.Task == taskName &&
			j.Params["guild"] == req.Msg.GuildID &&
			strings.EqualFold(j.Params["url"], feedURL)
	})
	if err := f.kv.Delete(ctx, seenKey(feedURL)); err != nil {
		f.log.Warn("Failed to clear seen items for removed feed", zap.String("url", feedURL), zap.Error(err))
	}

	return commands.Response{Content: fmt.Sprintf("Stopped following %s.", feedURL)}, nil
}

func (f *Feature) list(req *commands.Request) (commands.Response, error) {
	subs := f.subscriptions(req.Guild)
	if len(subs) == 0 {
		return commands.Response{Content: "Not following any feeds."}, nil
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].URL < subs[j].URL })

	var b strings.Builder
	b.WriteString("Followed feeds:\n")
	for _, s := range subs {
		fmt.Fprintf(&b, "- <%s> -> <#%s>\n", s.URL, s.ChatID)
	}
	return commands.Response{Content: b.String()}, nil
}

// poll fetches one feed and announces items not seen before. The first poll
// of a feed only primes the seen set.
func (f *Feature) poll(ctx context.Context, params map[string]string) error {
	feedURL := params["url"]
	chatID := params["chat"]
	guildID := params["guild"]
	if feedURL == "" || chatID == "" {
		return fmt.Errorf("feed poll missing url or chat params")
	}

	feed, err := f.parse(ctx, feedURL)
	if err != nil {
		return fmt.Errorf("fetching feed %s: %w", feedURL, err)
	}

	seen, primed, err := f.loadSeen(ctx, feedURL)
	if err != nil {
		return err
	}

	seenSet := make(map[string]bool, len(seen))
	for _, id := range seen {
		seenSet[id] = true
	}

	announced := 0
	for _, item := range feed.Items {
		id := itemID(item)
		if seenSet[id] {
			continue
		}
		seenSet[id] = true
		seen = append(seen, id)

		if !primed || announced >= announceLimit {
			continue
		}
		announced++

		out := &bus.Message{
			ID:        uuid.New().String(),
			ChannelID: "discord",
			ChatID:    chatID,
			GuildID:   guildID,
			Event:     bus.EventMessage,
			Content:   fmt.Sprintf("**%s** - %s\n%s", feed.Title, item.Title, item.Link),
			Timestamp: time.Now(),
		}
		if err := f.bus.SendOutbound(out); err != nil {
			f.log.Warn("Failed to announce feed item", zap.String("url", feedURL), zap.Error(err))
		}
	}

	if len(seen) > seenLimit {
		seen = seen[len(seen)-seenLimit:]
	}
	return f.saveSeen(ctx, feedURL, seen)
}

// subscriptions decodes the guild's feed list from the free-form settings.
func (f *Feature) subscriptions(guild *settings.GuildSettings) []subscription {
	var subs []subscription
	guild.GetExtra(extraKey, &subs)
	return subs
}

func (f *Feature) loadSeen(ctx context.Context, feedURL string) ([]string, bool, error) {
	raw, ok, err := f.kv.Get(ctx, seenKey(feedURL))
	if err != nil {
		return nil, false, fmt.Errorf("loading seen items: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var seen []string
	if err := json.Unmarshal(raw, &seen); err != nil {
		f.log.Warn("Discarding corrupt seen-item list", zap.String("url", feedURL), zap.Error(err))
		return nil, false, nil
	}
	return seen, true, nil
}

func (f *Feature) saveSeen(ctx context.Context, feedURL string, seen []string) error {
	if err := f.kv.Set(ctx, seenKey(feedURL), seen); err != nil {
		return fmt.Errorf("saving seen items: %w", err)
	}
	return nil
}

func seenKey(feedURL string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(feedURL)))
	return "rss_seen_" + hex.EncodeToString(sum[:8])
}

func itemID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}
