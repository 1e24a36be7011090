package characters

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"tavernbot/pkg/commands"
	"tavernbot/pkg/convo"
	"tavernbot/pkg/logger"
	"tavernbot/pkg/settings"
)

// Service bundles the roster store with the creation walkthrough and
// exposes the character command family.
type Service struct {
	log    *logger.Logger
	store  *Store
	users  *settings.Store
	engine *convo.Engine
	wt     *convo.Walkthrough
}

// NewService creates the character service.
func NewService(log *logger.Logger, store *Store, users *settings.Store, engine *convo.Engine) *Service {
	return &Service{
		log:    log,
		store:  store,
		users:  users,
		engine: engine,
		wt:     NewWalkthrough(store, users),
	}
}

// Register adds the character command to the registry.
func (s *Service) Register(reg *commands.Registry) error {
	return reg.Register(&commands.Command{
		Name:        "character",
		ArgTemplate: "<create|list|info|use|stat|rename|retire|delete> [args]",
		Help:        "manage your characters",
		Handler:     s.handle,
	})
}

func (s *Service) handle(ctx context.Context, req *commands.Request) (commands.Response, error) {
	if len(req.Args) == 0 {
		return commands.Response{Content: "Try `character create`, or `character list` to see who's around."}, nil
	}

	guildID := req.Msg.GuildID
	if guildID == "" {
		return commands.Response{Content: "Character commands only work inside a guild."}, nil
	}

	sub, rest := strings.ToLower(req.Args[0]), req.Args[1:]
	switch sub {
	case "create", "new":
		return s.create(ctx, req)
	case "list":
		return s.list(ctx, guildID)
	case "info":
		return s.info(ctx, req, rest)
	case "use":
		return s.use(ctx, req, rest)
	case "stat":
		return s.stat(ctx, req, rest)
	case "rename":
		return s.rename(ctx, req, rest)
	case "retire":
		return s.retire(ctx, req, rest)
	case "delete":
		return s.remove(ctx, req, rest)
	default:
		return commands.Response{Content: fmt.Sprintf("I don't know `character %s`.", sub)}, nil
	}
}

func (s *Service) create(ctx context.Context, req *commands.Request) (commands.Response, error) {
	if err := s.engine.Start(ctx, s.wt, req.Msg.GuildID, req.Msg.UserID); err != nil {
		return commands.Response{}, fmt.Errorf("starting character walkthrough: %w", err)
	}
	if req.Msg.DM {
		return commands.Response{}, nil
	}
	return commands.Response{Content: "Check your DMs, we'll build them there."}, nil
}

func (s *Service) list(ctx context.Context, guildID string) (commands.Response, error) {
	chars, err := s.store.List(ctx, guildID, false)
	if err != nil {
		return commands.Response{}, err
	}
	if len(chars) == 0 {
		return commands.Response{Content: "No characters yet. `character create` starts one."}, nil
	}

	sort.Slice(chars, func(i, j int) bool { return chars[i].Name < chars[j].Name })
	var b strings.Builder
	b.WriteString("Characters in this guild:\n")
	for _, c := range chars {
		if c.Template != "" {
			fmt.Fprintf(&b, "- **%s** (%s), played by <@%s>\n", c.Name, c.Template, c.Owner)
		} else {
			fmt.Fprintf(&b, "- **%s**, played by <@%s>\n", c.Name, c.Owner)
		}
	}
	return commands.Response{Content: b.String()}, nil
}

func (s *Service) info(ctx context.Context, req *commands.Request, args []string) (commands.Response, error) {
	name := strings.Join(args, " ")
	if name == "" {
		current, err := s.currentName(ctx, req)
		if err != nil {
			return commands.Response{}, err
		}
		if current == "" {
			return commands.Response{Content: "You have no current character. `character use <name>` picks one."}, nil
		}
		name = current
	}

	c, err := s.store.Get(ctx, req.Msg.GuildID, name)
	if err != nil {
		return s.lookupReply(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**", c.Name)
	if c.Template != "" {
		fmt.Fprintf(&b, " - %s", c.Template)
	}
	if c.Retired {
		b.WriteString(" (retired)")
	}
	b.WriteString("\n")
	if c.Description != "" {
		b.WriteString(c.Description + "\n")
	}
	if c.Image != "" {
		b.WriteString(c.Image + "\n")
	}
	if len(c.Stats) > 0 {
		keys := make([]string, 0, len(c.Stats))
		for k := range c.Stats {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, c.Stats[k])
		}
	}
	return commands.Response{Content: strings.TrimRight(b.String(), "\n")}, nil
}

func (s *Service) use(ctx context.Context, req *commands.Request, args []string) (commands.Response, error) {
	name := strings.Join(args, " ")
	if name == "" {
		return commands.Response{Content: "Usage: `character use <name>`"}, nil
	}

	c, err := s.store.Get(ctx, req.Msg.GuildID, name)
	if err != nil {
		return s.lookupReply(err)
	}

	err = s.users.SaveUser(ctx, req.Msg.GuildID, req.Msg.UserID, map[string]interface{}{
		"currentCharacter": c.Name,
	})
	if err != nil {
		return commands.Response{}, err
	}
	return commands.Response{Content: fmt.Sprintf("You're playing %s now.", c.Name)}, nil
}

func (s *Service) stat(ctx context.Context, req *commands.Request, args []string) (commands.Response, error) {
	if len(args) < 2 {
		return commands.Response{Content: "Usage: `character stat <name> <stat> [value]` (no value clears it)"}, nil
	}
	name, stat := args[0], strings.ToLower(args[1])
	value := strings.Join(args[2:], " ")

	if resp, ok, err := s.requireOwner(ctx, req, name); !ok {
		return resp, err
	}

	c, err := s.store.SetStat(ctx, req.Msg.GuildID, name, stat, value)
	if err != nil {
		return s.lookupReply(err)
	}
	if value == "" {
		return commands.Response{Content: fmt.Sprintf("Cleared %s on %s.", stat, c.Name)}, nil
	}
	return commands.Response{Content: fmt.Sprintf("%s's %s is now %s.", c.Name, stat, value)}, nil
}

func (s *Service) rename(ctx context.Context, req *commands.Request, args []string) (commands.Response, error) {
	if len(args) < 2 {
		return commands.Response{Content: "Usage: `character rename <name> <new name>`"}, nil
	}
	name, newName := args[0], strings.Join(args[1:], " ")

	if resp, ok, err := s.requireOwner(ctx, req, name); !ok {
		return resp, err
	}

	c, err := s.store.Rename(ctx, req.Msg.GuildID, name, newName)
	var conflict *NameConflictError
	if errors.As(err, &conflict) {
		return commands.Response{Content: fmt.Sprintf("There's already a character called %q.", conflict.Existing)}, nil
	}
	if err != nil {
		return s.lookupReply(err)
	}
	return commands.Response{Content: fmt.Sprintf("%s it is.", c.Name)}, nil
}

func (s *Service) retire(ctx context.Context, req *commands.Request, args []string) (commands.Response, error) {
	name := strings.Join(args, " ")
	if name == "" {
		return commands.Response{Content: "Usage: `character retire <name>`"}, nil
	}

	if resp, ok, err := s.requireOwner(ctx, req, name); !ok {
		return resp, err
	}

	c, err := s.store.Retire(ctx, req.Msg.GuildID, name)
	if err != nil {
		return s.lookupReply(err)
	}
	return commands.Response{Content: fmt.Sprintf("%s rides off into the sunset.", c.Name)}, nil
}

func (s *Service) remove(ctx context.Context, req *commands.Request, args []string) (commands.Response, error) {
	name := strings.Join(args, " ")
	if name == "" {
		return commands.Response{Content: "Usage: `character delete <name>`"}, nil
	}

	if resp, ok, err := s.requireOwner(ctx, req, name); !ok {
		return resp, err
	}

	if err := s.store.Delete(ctx, req.Msg.GuildID, name); err != nil {
		return s.lookupReply(err)
	}
	return commands.Response{Content: "Gone."}, nil
}

// requireOwner checks that the invoking user owns the named character. On a
// failed check it returns the reply to send and ok=false.
func (s *Service) requireOwner(ctx context.Context, req *commands.Request, name string) (commands.Response, bool, error) {
	c, err := s.store.Get(ctx, req.Msg.GuildID, name)
	if err != nil {
		resp, rerr := s.lookupReply(err)
		return resp, false, rerr
	}
	if c.Owner != req.Msg.UserID {
		return commands.Response{Content: fmt.Sprintf("%s isn't your character.", c.Name)}, false, nil
	}
	return commands.Response{}, true, nil
}

// lookupReply converts a not-found error into a user reply and passes other
// errors through.
func (s *Service) lookupReply(err error) (commands.Response, error) {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return commands.Response{Content: fmt.Sprintf("I don't know any character named %q here.", nf.Name)}, nil
	}
	return commands.Response{}, err
}

// currentName resolves the user's current character name from their
// settings.
func (s *Service) currentName(ctx context.Context, req *commands.Request) (string, error) {
	u, err := s.users.User(ctx, req.Msg.GuildID, req.Msg.UserID)
	if err != nil {
		return "", err
	}
	return u.CurrentCharacter, nil
}
