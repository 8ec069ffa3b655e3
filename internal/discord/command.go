package discord

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/summit-bot/internal/domain"
)

// Command is a parsed chat command. Mentions are user ids in message order
// and are not repeated in Args.
type Command struct {
	Name     string
	Args     []string
	Mentions []string
}

// ParseCommand splits a message into a command when it starts with prefix.
func ParseCommand(prefix, content string) (Command, bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return Command{}, false
	}

	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return Command{}, false
	}

	cmd := Command{Name: strings.ToLower(fields[0])}
	for _, f := range fields[1:] {
		if id, ok := ParseMention(f); ok {
			cmd.Mentions = append(cmd.Mentions, id)
			continue
		}
		cmd.Args = append(cmd.Args, f)
	}
	return cmd, true
}

// Arg returns argument i, or "" when absent.
func (c Command) Arg(i int) string {
	if i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// Target returns the first mentioned user.
func (c Command) Target() (string, bool) {
	if len(c.Mentions) == 0 {
		return "", false
	}
	return c.Mentions[0], true
}

// Rest joins the arguments from index i on, or "" when there are none.
func (c Command) Rest(i int) string {
	if i >= len(c.Args) {
		return ""
	}
	return strings.Join(c.Args[i:], " ")
}

// ParseMention extracts the user id from <@id> or <@!id>.
func ParseMention(token string) (string, bool) {
	if !strings.HasPrefix(token, "<@") || !strings.HasSuffix(token, ">") {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(token, "<@"), ">")
	id = strings.TrimPrefix(id, "!")
	if id == "" {
		return "", false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return id, true
}

// ParseOutcome accepts win/w/won and loss/l/lost/lose.
func ParseOutcome(token string) (bool, error) {
	switch strings.ToLower(token) {
	case "win", "w", "won":
		return true, nil
	case "loss", "l", "lost", "lose":
		return false, nil
	}
	return false, fmt.Errorf("%w: outcome must be win or loss", domain.ErrValidation)
}

// ParseQueueMinutes resolves the optional !lfg argument to a ttl clamped to
// [min, max]. An empty argument yields def.
func ParseQueueMinutes(arg string, def, min, max time.Duration) (time.Duration, error) {
	if arg == "" {
		return def, nil
	}
	minutes, err := strconv.Atoi(arg)
	if err != nil || minutes <= 0 {
		return 0, domain.ErrInvalidTTL
	}
	ttl := time.Duration(minutes) * time.Minute
	if ttl < min {
		ttl = min
	}
	if ttl > max {
		ttl = max
	}
	return ttl, nil
}

// ReportArgs is the optional trailer of a report command:
// [first y/n] [minutes] [deck url] [notes...]
type ReportArgs struct {
	FirstPlayer string
	Minutes     string
	DeckURL     string
	Comment     string
}

// ParseReportArgs reads the trailer positionally. A token that does not fit
// its slot starts the free-text comment.
func ParseReportArgs(args []string) ReportArgs {
	var out ReportArgs
	i := 0
	if i < len(args) && isYesNo(args[i]) {
		out.FirstPlayer = strings.ToLower(args[i])
		i++
	}
	if i < len(args) {
		if _, err := strconv.ParseFloat(args[i], 64); err == nil {
			out.Minutes = args[i]
			i++
		}
	}
	if i < len(args) && strings.HasPrefix(args[i], "http") {
		out.DeckURL = args[i]
		i++
	}
	out.Comment = strings.Join(args[i:], " ")
	return out
}

// MatchDetails converts the trailer for the ledger.
func (r ReportArgs) MatchDetails() domain.MatchDetails {
	return domain.MatchDetails{
		FirstPlayer: r.FirstPlayer,
		Duration:    r.Minutes,
		DeckURL:     r.DeckURL,
		Comment:     r.Comment,
	}
}

// ReportDetails converts the trailer for a bracket result.
func (r ReportArgs) ReportDetails() domain.ReportDetails {
	return domain.ReportDetails{
		DeckURL:     r.DeckURL,
		FirstPlayer: r.FirstPlayer,
		MatchTime:   r.Minutes,
		Comment:     r.Comment,
	}
}

func isYesNo(token string) bool {
	switch strings.ToLower(token) {
	case "y", "n", "yes", "no":
		return true
	}
	return false
}

// ParseCreateArgs reads "<max> <format> <name...>".
func ParseCreateArgs(args []string) (maxPlayers int, format, name string, err error) {
	if len(args) < 3 {
		return 0, "", "", fmt.Errorf("%w: usage: create_tournament <max players> <format> <name>", domain.ErrValidation)
	}
	maxPlayers, err = strconv.Atoi(args[0])
	if err != nil {
		return 0, "", "", domain.ErrNotPowerOfTwo
	}
	return maxPlayers, args[1], strings.Join(args[2:], " "), nil
}
