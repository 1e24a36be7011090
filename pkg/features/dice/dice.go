// Package dice implements the roll command.
package dice

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"

	"tavernbot/pkg/commands"
	"tavernbot/pkg/dispatch"
	"tavernbot/pkg/logger"
)

// rollLimit caps dice per expression so nobody asks for a million d6.
const rollLimit = 100

var dicePattern = regexp.MustCompile(`^(\d*)d(\d+)([+-]\d+)?$`)

// Feature implements the roll command.
type Feature struct {
	log      *logger.Logger
	registry *commands.Registry
	rng      func(n int) int
}

// New creates the dice feature.
func New(log *logger.Logger, registry *commands.Registry) *Feature {
	return &Feature{
		log:      log,
		registry: registry,
		rng:      rand.Intn,
	}
}

// Name identifies the feature in startup logs.
func (f *Feature) Name() string { return "dice" }

// Register adds the roll command.
func (f *Feature) Register() error {
	return f.registry.Register(&commands.Command{
		Name:        "roll",
		ArgTemplate: "<NdM[+K]> [more dice]",
		Help:        "roll dice, like 2d6+3",
		Handler:     f.roll,
	})
}

func (f *Feature) roll(ctx context.Context, req *commands.Request) (commands.Response, error) {
	if len(req.Args) == 0 {
		return commands.Response{Content: "Roll what? Try `roll 1d20` or `roll 2d6+3`."}, nil
	}

	var lines []string
	for _, arg := range req.Args {
		line, err := f.rollOne(arg)
		if err != nil {
			return commands.Response{}, err
		}
		lines = append(lines, line)
	}
	return commands.Response{Content: strings.Join(lines, "\n")}, nil
}

// rollOne evaluates a single NdM+K expression.
func (f *Feature) rollOne(expr string) (string, error) {
	m := dicePattern.FindStringSubmatch(strings.ToLower(expr))
	if m == nil {
		return "", fmt.Errorf("dice expression %q: %w", expr, dispatch.ErrBadArgument)
	}

	count := 1
	if m[1] != "" {
		count, _ = strconv.Atoi(m[1])
	}
	sides, _ := strconv.Atoi(m[2])
	mod := 0
	if m[3] != "" {
		mod, _ = strconv.Atoi(m[3])
	}

	if count < 1 || count > rollLimit || sides < 2 {
		return "", fmt.Errorf("dice expression %q out of range: %w", expr, dispatch.ErrBadArgument)
	}

	rolls := make([]string, count)
	total := mod
	for i := 0; i < count; i++ {
		r := f.rng(sides) + 1
		total += r
		rolls[i] = strconv.Itoa(r)
	}

	if count == 1 && mod == 0 {
		return fmt.Sprintf("%s: **%d**", expr, total), nil
	}
	if mod != 0 {
		return fmt.Sprintf("%s: [%s] %+d = **%d**", expr, strings.Join(rolls, " "), mod, total), nil
	}
	return fmt.Sprintf("%s: [%s] = **%d**", expr, strings.Join(rolls, " "), total), nil
}
