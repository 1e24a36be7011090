package characters

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tavernbot/pkg/convo"
	"tavernbot/pkg/settings"
)

// Aux keys used by the creation steps.
const (
	auxPendingStat = "pendingStat"
	auxNameRepeat  = "nameRepeat"
)

// NewWalkthrough builds the character creation walkthrough. On completion
// the assembled character is persisted and set as the user's current
// character; a duplicate name re-enters the rename step with the draft
// intact.
func NewWalkthrough(store *Store, users *settings.Store) *convo.Walkthrough {
	return &convo.Walkthrough{
		Name:     "character-creation",
		NewDraft: func() interface{} { return &Character{} },
		Steps: []convo.Step{
			{
				Name: "name",
				Open: func(t *convo.Track) string {
					return "Let's build your character. What's their name?"
				},
				Process: processName,
			},
			{
				Name: "template",
				Open: func(t *convo.Track) string {
					return "What kind of character are they? (a class, archetype, or anything else - or `skip`)"
				},
				Process: func(ctx context.Context, t *convo.Track, input string) (convo.Result, error) {
					if !convo.IsSkip(input) {
						t.Draft.(*Character).Template = strings.TrimSpace(input)
					}
					return convo.Advance(), nil
				},
			},
			{
				Name: "description",
				Open: func(t *convo.Track) string {
					return "Give me a short description. (or `skip`)"
				},
				Process: func(ctx context.Context, t *convo.Track, input string) (convo.Result, error) {
					if !convo.IsSkip(input) {
						t.Draft.(*Character).Description = strings.TrimSpace(input)
					}
					return convo.Advance(), nil
				},
			},
			{
				Name: "image",
				Open: func(t *convo.Track) string {
					return "Got a portrait? Paste an image URL. (or `skip`)"
				},
				Process: func(ctx context.Context, t *convo.Track, input string) (convo.Result, error) {
					if convo.IsSkip(input) {
						return convo.Advance(), nil
					}
					url := strings.TrimSpace(input)
					if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
						return convo.Retry(), errors.New("That doesn't look like a URL. Paste a link starting with http, or say `skip`.")
					}
					t.Draft.(*Character).Image = url
					return convo.Advance(), nil
				},
			},
			{
				Name: "stat-name",
				Open: func(t *convo.Track) string {
					return "Now stats. Name a stat to set (like `strength`), or say `done`."
				},
				Repeat: func(t *convo.Track) string {
					return "Any other stat? (or `done`)"
				},
				Process: func(ctx context.Context, t *convo.Track, input string) (convo.Result, error) {
					trimmed := strings.TrimSpace(input)
					if convo.IsSkip(trimmed) || strings.EqualFold(trimmed, "done") {
						// Completion index: hand the draft to the save path.
						return convo.JumpIndex(7), nil
					}
					t.Aux[auxPendingStat] = strings.ToLower(trimmed)
					return convo.Advance(), nil
				},
			},
			{
				Name: "stat-value",
				Open: func(t *convo.Track) string {
					return fmt.Sprintf("What's their %s?", t.Aux[auxPendingStat])
				},
				Process: func(ctx context.Context, t *convo.Track, input string) (convo.Result, error) {
					c := t.Draft.(*Character)
					if c.Stats == nil {
						c.Stats = make(map[string]string)
					}
					c.Stats[t.Aux[auxPendingStat]] = strings.TrimSpace(input)
					return convo.Jump("stat-name"), nil
				},
			},
			{
				Name: "rename",
				Open: func(t *convo.Track) string {
					return "Pick a different name for them."
				},
				Process: processName,
			},
		},
		Finish: func(ctx context.Context, t *convo.Track) (string, error) {
			c := t.Draft.(*Character)
			c.Owner = t.UserID

			err := store.Create(ctx, t.GuildID, c)
			var conflict *NameConflictError
			if errors.As(err, &conflict) {
				return "", &convo.Conflict{
					Step: "rename",
					Message: fmt.Sprintf("There's already a character called %q in this guild.",
						conflict.Existing),
				}
			}
			if err != nil {
				return "", err
			}

			// Best effort: a failed pointer update should not undo the save.
			_ = users.SaveUser(ctx, t.GuildID, t.UserID, map[string]interface{}{
				"currentCharacter": c.Name,
			})

			return fmt.Sprintf("%s is ready to play. They're now your current character.", c.Name), nil
		},
	}
}

// processName fills the draft's name. Naming refuses the generic skip
// token: the user must repeat the same answer to use it as a literal name.
func processName(ctx context.Context, t *convo.Track, input string) (convo.Result, error) {
	name := strings.TrimSpace(input)
	if name == "" {
		return convo.Retry(), nil
	}

	if convo.IsSkip(name) && t.Aux[auxNameRepeat] != name {
		t.Aux[auxNameRepeat] = name
		return convo.Retry(), errors.New("Characters need names. If you really want to call them that, say it again.")
	}
	delete(t.Aux, auxNameRepeat)

	t.Draft.(*Character).Name = name
	return convo.Advance(), nil
}
