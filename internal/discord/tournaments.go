package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/summit-bot/internal/domain"
)

func (b *Bot) createTournament(ctx context.Context, msg Message, cmd Command) ([]Reply, error) {
	maxPlayers, format, name, err := ParseCreateArgs(cmd.Args)
	if err != nil {
		return nil, err
	}

	t, err := b.tournaments.Reset(ctx, name, format, maxPlayers)
	if err != nil {
		return nil, err
	}

	return []Reply{b.reply(msg, fmt.Sprintf(
		"Tournament **%s** created (%s, up to %d players). Join with `%sjoin %s`.",
		t.Name, t.Format, t.MaxPlayers, b.config.Prefix, t.Name))}, nil
}

func (b *Bot) join(ctx context.Context, msg Message, cmd Command) ([]Reply, error) {
	name, err := tournamentName(cmd)
	if err != nil {
		return nil, err
	}

	t, err := b.tournaments.Join(ctx, name, msg.AuthorID)
	if err != nil {
		return nil, err
	}

	return []Reply{b.reply(msg, fmt.Sprintf("%s has joined **%s**! (%d/%d players)",
		mention(msg.AuthorID), t.Name, len(t.Players), t.MaxPlayers))}, nil
}

func (b *Bot) remove(ctx context.Context, msg Message, cmd Command) ([]Reply, error) {
	target, ok := cmd.Target()
	if !ok {
		return nil, fmt.Errorf("%w: usage: %sremove <tournament> @player", domain.ErrValidation, b.config.Prefix)
	}
	name, err := tournamentName(cmd)
	if err != nil {
		return nil, err
	}

	t, err := b.tournaments.Remove(ctx, name, target)
	if err != nil {
		return nil, err
	}

	return []Reply{b.reply(msg, fmt.Sprintf("%s has been removed from **%s**.", b.name(ctx, target), t.Name))}, nil
}

func (b *Bot) startTournament(ctx context.Context, msg Message, cmd Command) ([]Reply, error) {
	name, err := tournamentName(cmd)
	if err != nil {
		return nil, err
	}

	t, err := b.tournaments.Start(ctx, name)
	if err != nil {
		return nil, err
	}

	matches := t.RoundMatches(1)
	replies := []Reply{b.reply(msg, fmt.Sprintf("**%s** has started!\n%s", t.Name, formatPairings(matches)))}
	return append(replies, b.pairingNotices(t.Name, matches)...), nil
}

func (b *Bot) myRound(ctx context.Context, msg Message, _ Command) ([]Reply, error) {
	assignment, err := b.tournaments.PlayerMatch(msg.AuthorID)
	if err != nil {
		return nil, err
	}

	m := assignment.Match
	return []Reply{b.reply(msg, fmt.Sprintf(
		"%s, your round %d match (#%d) in **%s** is against %s. Report it with `%sreport_round win|loss`.",
		mention(msg.AuthorID), m.Round, m.ID, assignment.TournamentName,
		b.name(ctx, m.Opponent(msg.AuthorID)), b.config.Prefix))}, nil
}

func (b *Bot) reportRound(ctx context.Context, msg Message, cmd Command) ([]Reply, error) {
	won, err := ParseOutcome(cmd.Arg(0))
	if err != nil {
		return nil, err
	}
	assignment, err := b.tournaments.PlayerMatch(msg.AuthorID)
	if err != nil {
		return nil, err
	}

	details := ParseReportArgs(cmd.Args[1:]).ReportDetails()
	outcome, err := b.tournaments.ReportResult(ctx, assignment.TournamentName, assignment.Match.ID, msg.AuthorID, won, details)
	if err != nil {
		return nil, err
	}

	replies := []Reply{b.reply(msg, fmt.Sprintf("Result recorded for match #%d in **%s**: %s won.",
		outcome.Match.ID, outcome.Tournament, b.name(ctx, *outcome.Match.Winner)))}

	if len(outcome.NextRound) > 0 {
		replies = append(replies, b.reply(msg, fmt.Sprintf("Round %d of **%s** is ready!\n%s",
			outcome.NextRound[0].Round, outcome.Tournament, formatPairings(outcome.NextRound))))
		return append(replies, b.pairingNotices(outcome.Tournament, outcome.NextRound)...), nil
	}

	status, err := b.tournaments.RoundStatus(outcome.Tournament)
	if err == nil && status.ReadyToFinish {
		replies = append(replies, b.reply(msg, fmt.Sprintf(
			"The final of **%s** has been reported! An administrator can close it with `%scomplete_tournament %s`.",
			outcome.Tournament, b.config.Prefix, outcome.Tournament)))
	}
	return replies, nil
}

func (b *Bot) roundStatus(_ context.Context, msg Message, cmd Command) ([]Reply, error) {
	name, err := tournamentName(cmd)
	if err != nil {
		return nil, err
	}

	status, err := b.tournaments.RoundStatus(name)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s** round %d: %d/%d matches reported\n", status.Tournament, status.Round, status.Completed, status.Total)
	if len(status.Pending) > 0 {
		sb.WriteString("Waiting on:\n")
		sb.WriteString(formatPairings(status.Pending))
	}
	switch {
	case status.TournamentDone:
		sb.WriteString("The tournament is complete.")
	case status.ReadyToFinish:
		fmt.Fprintf(&sb, "Ready to finish with `%scomplete_tournament %s`.", b.config.Prefix, status.Tournament)
	}
	return []Reply{b.reply(msg, sb.String())}, nil
}

func (b *Bot) bracket(ctx context.Context, msg Message, cmd Command) ([]Reply, error) {
	name, err := tournamentName(cmd)
	if err != nil {
		return nil, err
	}

	t, err := b.tournaments.Get(name)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s** (%s, %s)\n", t.Name, t.Format, t.Status)
	if len(t.Matches) == 0 {
		fmt.Fprintf(&sb, "Registered: %d/%d\n", len(t.Players), t.MaxPlayers)
		for _, p := range t.Players {
			fmt.Fprintf(&sb, "- %s\n", b.name(ctx, p))
		}
		return []Reply{b.reply(msg, sb.String())}, nil
	}

	for round := 1; round <= t.MaxRound(); round++ {
		fmt.Fprintf(&sb, "Round %d\n", round)
		for _, m := range t.RoundMatches(round) {
			line := fmt.Sprintf("  #%d %s vs %s", m.ID, b.name(ctx, m.Player1), b.name(ctx, m.Player2))
			if m.Winner != nil {
				line += " -> " + b.name(ctx, *m.Winner)
			}
			sb.WriteString(line + "\n")
		}
	}
	if t.Winner != nil {
		fmt.Fprintf(&sb, "Champion: %s\n", b.name(ctx, *t.Winner))
	}
	return []Reply{b.reply(msg, sb.String())}, nil
}

func (b *Bot) completeTournament(ctx context.Context, msg Message, cmd Command) ([]Reply, error) {
	name, err := tournamentName(cmd)
	if err != nil {
		return nil, err
	}

	t, err := b.tournaments.Complete(ctx, name)
	if err != nil {
		return nil, err
	}

	return []Reply{b.reply(msg, fmt.Sprintf("**%s** is complete! Congratulations to %s!", t.Name, mention(*t.Winner)))}, nil
}

// pairingNotices tells every paired player who they face.
func (b *Bot) pairingNotices(tournamentName string, matches []domain.TournamentMatch) []Reply {
	var out []Reply
	for _, m := range matches {
		for _, p := range []string{m.Player1, m.Player2} {
			out = append(out, b.direct(p, fmt.Sprintf(
				"Your round %d match in **%s** is against %s. Report it with `%sreport_round win|loss`.",
				m.Round, tournamentName, mention(m.Opponent(p)), b.config.Prefix)))
		}
	}
	return out
}

func formatPairings(matches []domain.TournamentMatch) string {
	var sb strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&sb, "Match #%d: %s vs %s\n", m.ID, mention(m.Player1), mention(m.Player2))
	}
	return sb.String()
}

func tournamentName(cmd Command) (string, error) {
	name := cmd.Rest(0)
	if name == "" {
		return "", domain.ErrEmptyName
	}
	return name, nil
}
