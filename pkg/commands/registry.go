package commands

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
)

// Registry manages command registration and prefix resolution. Commands are
// matched in registration order; the first structural match wins.
type Registry struct {
	mu       sync.RWMutex
	ordered  []*Command
	byName   map[string]*Command
	helpGens []HelpGenerator

	// defaultPrefix is the process-wide prefix (already dev-decorated)
	// used for prefix-exempt commands and as the guild fallback.
	defaultPrefix string
	// botID is the gateway user ID used for mention-form matching.
	botID string
}

// NewRegistry creates a new command registry with the process-wide default
// prefix.
func NewRegistry(defaultPrefix string) *Registry {
	return &Registry{
		byName:        make(map[string]*Command),
		defaultPrefix: defaultPrefix,
	}
}

// SetBotID records the gateway user ID once the connection is established.
// Mention-form matching is disabled until it is set.
func (r *Registry) SetBotID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.botID = id
}

// DefaultPrefix returns the process-wide prefix.
func (r *Registry) DefaultPrefix() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultPrefix
}

// Register registers a new command. An unset handler is a startup-time
// error, not a silent no-op at dispatch time.
func (r *Registry) Register(cmd *Command) error {
	if cmd == nil {
		return fmt.Errorf("command cannot be nil")
	}
	if cmd.Name == "" {
		return fmt.Errorf("command name cannot be empty")
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command %s has no handler", cmd.Name)
	}

	cmd.Name = strings.ToLower(cmd.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[cmd.Name]; exists {
		return fmt.Errorf("command %s already registered", cmd.Name)
	}

	r.byName[cmd.Name] = cmd
	r.ordered = append(r.ordered, cmd)
	return nil
}

// Get retrieves a command by name.
func (r *Registry) Get(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmd, exists := r.byName[strings.ToLower(name)]
	return cmd, exists
}

// List returns all registered commands in registration order.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmds := make([]*Command, len(r.ordered))
	copy(cmds, r.ordered)
	return cmds
}

// AddHelpGenerator registers a callback contributing dynamic help entries.
func (r *Registry) AddHelpGenerator(gen HelpGenerator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.helpGens = append(r.helpGens, gen)
}

// ResolveHelpShortcut matches a bare "<mention> help" request against the
// command flagged as the help shortcut.
func (r *Registry) ResolveHelpShortcut(content string) *Match {
	r.mu.RLock()
	botID := r.botID
	ordered := r.ordered
	r.mu.RUnlock()

	if botID == "" {
		return nil
	}

	trimmed := strings.TrimSpace(content)
	if !isBareHelpRequest(trimmed, botID) {
		return nil
	}

	for _, cmd := range ordered {
		if cmd.HelpShortcut {
			return &Match{Command: cmd, Matched: trimmed}
		}
	}
	return nil
}

// Resolve matches an inbound message against the registry. guildPrefix is
// the guild's effective prefix; commands flagged IgnorePrefix match against
// the process-wide default prefix instead. The first match in registration
// order wins.
func (r *Registry) Resolve(content, guildPrefix string) *Match {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cmd := range r.ordered {
		prefix := guildPrefix
		if cmd.IgnorePrefix {
			prefix = r.defaultPrefix
		}

		// Mention-prefixed form: "<@botID> name".
		if r.botID != "" {
			for _, mention := range []string{"<@" + r.botID + ">", "<@!" + r.botID + ">"} {
				if matched, ok := matchToken(content, mention+" "+cmd.Name); ok {
					return &Match{Command: cmd, Matched: matched}
				}
			}
		}

		if matched, ok := matchToken(content, prefix+cmd.Name); ok {
			return &Match{Command: cmd, Matched: matched}
		}
	}

	return nil
}

// matchToken tests whether content starts with token followed by whitespace
// or end-of-string, and returns the matched substring including trailing
// whitespace so callers can strip it before tokenizing.
func matchToken(content, token string) (string, bool) {
	if !strings.HasPrefix(content, token) {
		return "", false
	}

	rest := content[len(token):]
	if rest == "" {
		return token, true
	}

	// Word boundary: "?rolling" must not match "?roll".
	runes := []rune(rest)
	if !unicode.IsSpace(runes[0]) {
		return "", false
	}

	i := 0
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return token + string(runes[:i]), true
}

// isBareHelpRequest reports whether content is exactly a mention of the bot
// followed by the word "help".
func isBareHelpRequest(content, botID string) bool {
	for _, mention := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
		rest, ok := strings.CutPrefix(content, mention)
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(rest), "help") {
			return true
		}
	}
	return false
}
