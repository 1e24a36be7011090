// Package votes implements reaction-based voting: a vote opened in a
// channel tallies thumbs-up/down reactions until it is closed.
package votes

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tavernbot/pkg/bus"
	"tavernbot/pkg/commands"
	"tavernbot/pkg/dispatch"
	"tavernbot/pkg/logger"
	"tavernbot/pkg/settings"
)

const (
	emojiYes = "\U0001F44D" // thumbs up
	emojiNo  = "\U0001F44E" // thumbs down
)

// passivePriority places the reaction tally early; reaction events carry no
// text for later handlers anyway.
const passivePriority = 20

// vote is one open vote in a chat.
type vote struct {
	Question string
	OpenedBy string
	OpenedAt time.Time
	// ballots maps voter ID to emoji; first reaction counts.
	ballots map[string]string
}

// Feature implements the vote command and reaction tally.
type Feature struct {
	log        *logger.Logger
	registry   *commands.Registry
	dispatcher *dispatch.Dispatcher

	mu    sync.Mutex
	votes map[string]*vote // keyed by chat ID, one open vote per chat
}

// New creates the votes feature.
func New(log *logger.Logger, registry *commands.Registry, d *dispatch.Dispatcher) *Feature {
	return &Feature{
		log:        log,
		registry:   registry,
		dispatcher: d,
		votes:      make(map[string]*vote),
	}
}

// Name identifies the feature in startup logs.
func (f *Feature) Name() string { return "votes" }

// Register adds the vote command and the reaction passive handler.
func (f *Feature) Register() error {
	if err := f.registry.Register(&commands.Command{
		Name:        "vote",
		ArgTemplate: "<question> | end",
		Help:        "open a reaction vote, `vote end` closes it",
		Handler:     f.handle,
	}); err != nil {
		return err
	}

	f.dispatcher.AddPassive(&dispatch.Passive{
		Name:     "vote-tally",
		Priority: passivePriority,
		Fn:       f.onReaction,
	})
	return nil
}

func (f *Feature) handle(ctx context.Context, req *commands.Request) (commands.Response, error) {
	if req.Msg.DM {
		return commands.Response{Content: "Votes need an audience; open one in a channel."}, nil
	}
	if len(req.Args) == 0 {
		return commands.Response{Content: "Usage: `vote <question>` then `vote end`."}, nil
	}

	if len(req.Args) == 1 && strings.EqualFold(req.Args[0], "end") {
		return f.end(req.Msg.ChatID)
	}
	return f.open(req)
}

func (f *Feature) open(req *commands.Request) (commands.Response, error) {
	question := strings.Join(req.Args, " ")

	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.votes[req.Msg.ChatID]; ok {
		return commands.Response{Content: fmt.Sprintf("There's already a vote running here: %q. Close it with `vote end` first.", existing.Question)}, nil
	}

	f.votes[req.Msg.ChatID] = &vote{
		Question: question,
		OpenedBy: req.Msg.UserID,
		OpenedAt: time.Now(),
		ballots:  make(map[string]string),
	}

	return commands.Response{
		Content: fmt.Sprintf("**Vote:** %s\nReact with %s or %s to any message here. `vote end` closes it.",
			question, emojiYes, emojiNo),
	}, nil
}

func (f *Feature) end(chatID string) (commands.Response, error) {
	f.mu.Lock()
	v, ok := f.votes[chatID]
	delete(f.votes, chatID)
	f.mu.Unlock()

	if !ok {
		return commands.Response{Content: "No vote is running here."}, nil
	}

	yes, no := 0, 0
	for _, emoji := range v.ballots {
		switch emoji {
		case emojiYes:
			yes++
		case emojiNo:
			no++
		}
	}

	verdict := "it's a tie"
	switch {
	case yes > no:
		verdict = "the ayes have it"
	case no > yes:
		verdict = "the nays have it"
	}
	return commands.Response{
		Content: fmt.Sprintf("**Vote closed:** %s\n%s %d / %s %d - %s.",
			v.Question, emojiYes, yes, emojiNo, no, verdict),
	}, nil
}

// onReaction records a ballot for an open vote in the reacting chat. Only
// the voter's first reaction counts.
func (f *Feature) onReaction(ctx context.Context, msg *bus.Message, guild *settings.GuildSettings) (bool, error) {
	if msg.Event != bus.EventReactionAdded {
		return false, nil
	}
	if msg.Emoji != emojiYes && msg.Emoji != emojiNo {
		return false, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.votes[msg.ChatID]
	if !ok {
		return false, nil
	}
	if _, voted := v.ballots[msg.UserID]; !voted {
		v.ballots[msg.UserID] = msg.Emoji
	}
	return true, nil
}
