package commands

import (
	"fmt"
	"sort"
	"strings"
)

// helpPageLimit is the maximum accumulated size of one help message.
const helpPageLimit = 1500

// HelpPages assembles the help listing for a guild and paginates it into
// messages of at most helpPageLimit characters. A single command entry is
// never split across two pages.
func (r *Registry) HelpPages(guildPrefix string) []string {
	r.mu.RLock()
	cmds := make([]*Command, len(r.ordered))
	copy(cmds, r.ordered)
	gens := make([]HelpGenerator, len(r.helpGens))
	copy(gens, r.helpGens)
	defaultPrefix := r.defaultPrefix
	r.mu.RUnlock()

	var entries []HelpEntry
	for _, cmd := range cmds {
		prefix := guildPrefix
		if cmd.IgnorePrefix {
			prefix = defaultPrefix
		}
		name := prefix + cmd.Name
		text := cmd.Help
		if cmd.AdminOnly {
			text += " (admin)"
		}
		entries = append(entries, HelpEntry{
			Name:   name,
			Args:   cmd.ArgTemplate,
			Text:   text,
			Weight: cmd.SortWeight,
		})
	}
	for _, gen := range gens {
		entries = append(entries, gen()...)
	}

	sortHelpEntries(entries)

	var pages []string
	var page strings.Builder
	for _, e := range entries {
		line := renderHelpEntry(e)
		if page.Len() > 0 && page.Len()+len(line) > helpPageLimit {
			pages = append(pages, page.String())
			page.Reset()
		}
		page.WriteString(line)
	}
	if page.Len() > 0 {
		pages = append(pages, page.String())
	}

	return pages
}

// sortHelpEntries orders weighted entries first (ascending weight), then
// unweighted entries alphabetically.
func sortHelpEntries(entries []HelpEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		wi, wj := entries[i].Weight, entries[j].Weight
		switch {
		case wi > 0 && wj > 0:
			return wi < wj
		case wi > 0:
			return true
		case wj > 0:
			return false
		default:
			return entries[i].Name < entries[j].Name
		}
	})
}

func renderHelpEntry(e HelpEntry) string {
	if e.Args != "" {
		return fmt.Sprintf("`%s %s` - %s\n", e.Name, e.Args, e.Text)
	}
	return fmt.Sprintf("`%s` - %s\n", e.Name, e.Text)
}
