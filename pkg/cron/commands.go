package cron

import (
	"context"
	"fmt"
	"strings"

	"tavernbot/pkg/commands"
)

// RegisterCommands adds the cron admin command to the registry.
func RegisterCommands(manager *Manager, registry *commands.Registry) error {
	return registry.Register(&commands.Command{
		Name:        "cron",
		ArgTemplate: "",
		Help:        "list scheduled jobs",
		Handler:     manager.listCommand,
		AdminOnly:   true,
	})
}

func (m *Manager) listCommand(ctx context.Context, req *commands.Request) (commands.Response, error) {
	jobs := m.ListJobs()

	var mine []*Job
	for _, job := range jobs {
		// Jobs scheduled by a feature carry the owning guild in params.
		if g, ok := job.Params["guild"]; ok && g != req.Msg.GuildID {
			continue
		}
		mine = append(mine, job)
	}

	if len(mine) == 0 {
		return commands.Response{Content: "No scheduled jobs."}, nil
	}

	var b strings.Builder
	b.WriteString("Scheduled jobs:\n")
	for _, job := range mine {
		state := "ok"
		if job.LastError != "" {
			state = "failing: " + job.LastError
		} else if job.RunCount == 0 {
			state = "not run yet"
		}
		fmt.Fprintf(&b, "- **%s** (`%s`) runs %d, %s\n", job.Name, job.Schedule, job.RunCount, state)
	}
	return commands.Response{Content: strings.TrimRight(b.String(), "\n")}, nil
}
