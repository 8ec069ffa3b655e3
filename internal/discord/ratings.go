package discord

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/summit-bot/internal/domain"
)

func (b *Bot) report(ctx context.Context, msg Message, cmd Command) ([]Reply, error) {
	opponent, ok := cmd.Target()
	if !ok {
		return nil, fmt.Errorf("%w: usage: %sreport win|loss @opponent [first y/n] [minutes] [deck url] [notes]",
			domain.ErrValidation, b.config.Prefix)
	}
	won, err := ParseOutcome(cmd.Arg(0))
	if err != nil {
		return nil, err
	}

	opponentName := b.name(ctx, opponent)
	match := domain.PairedMatch{
		ReporterID:   msg.AuthorID,
		ReporterName: msg.AuthorName,
		ReporterWon:  won,
		Details:      ParseReportArgs(cmd.Args[1:]).MatchDetails(),
	}
	if won {
		match.WinnerID, match.WinnerName = msg.AuthorID, msg.AuthorName
		match.LoserID, match.LoserName = opponent, opponentName
	} else {
		match.WinnerID, match.WinnerName = opponent, opponentName
		match.LoserID, match.LoserName = msg.AuthorID, msg.AuthorName
	}

	change, err := b.ledger.RecordMatch(ctx, match)
	if err != nil {
		return nil, err
	}

	return []Reply{b.reply(msg, fmt.Sprintf("%s, your match against %s was recorded. Rating: %d -> %d (%+d).",
		mention(msg.AuthorID), opponentName, change.Before, change.After, change.After-change.Before))}, nil
}

func (b *Bot) record(ctx context.Context, msg Message, cmd Command) ([]Reply, error) {
	if len(cmd.Args) < 2 {
		return nil, fmt.Errorf("%w: usage: %srecord win|loss <opponent> [first y/n] [minutes] [deck url] [notes]",
			domain.ErrValidation, b.config.Prefix)
	}
	won, err := ParseOutcome(cmd.Arg(0))
	if err != nil {
		return nil, err
	}

	match := domain.SoloMatch{
		ReporterID:   msg.AuthorID,
		ReporterName: msg.AuthorName,
		OpponentName: cmd.Arg(1),
		IsWinner:     won,
		Details:      ParseReportArgs(cmd.Args[2:]).MatchDetails(),
	}
	if err := b.ledger.RecordSoloMatch(ctx, match); err != nil {
		return nil, err
	}

	return []Reply{b.reply(msg, fmt.Sprintf("%s, your match against %s was recorded.", mention(msg.AuthorID), match.OpponentName))}, nil
}

func (b *Bot) rank(ctx context.Context, msg Message, _ Command) ([]Reply, error) {
	r, err := b.ledger.RatingOf(ctx, msg.AuthorID)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return []Reply{b.reply(msg, fmt.Sprintf(
				"%s, you don't have an Elo rating yet. Play some matches to get started!", mention(msg.AuthorID)))}, nil
		}
		return nil, err
	}
	return []Reply{b.reply(msg, fmt.Sprintf("%s, your current Elo rating is %d and your rank is #%d.",
		mention(msg.AuthorID), r.Rating, r.Rank))}, nil
}

func (b *Bot) leaderboard(ctx context.Context, msg Message, _ Command) ([]Reply, error) {
	entries, err := b.ledger.TopRatings(ctx, 0)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return []Reply{b.reply(msg, "No Elo ratings found. Play some matches to get started!")}, nil
	}

	var sb strings.Builder
	sb.WriteString("**Elo Leaderboard**\n")
	for _, e := range entries {
		name := e.DisplayName
		if name == "" {
			name = e.PlayerID
		}
		fmt.Fprintf(&sb, "#%d: %s - %d Elo\n", e.Rank, name, e.Rating)
	}
	return []Reply{b.reply(msg, sb.String())}, nil
}

func (b *Bot) myStats(ctx context.Context, msg Message, _ Command) ([]Reply, error) {
	stats, err := b.ledger.GetAggregateStats(ctx, msg.AuthorID)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return []Reply{b.reply(msg, fmt.Sprintf("%s, you haven't reported any matches yet!", mention(msg.AuthorID)))}, nil
		}
		return nil, err
	}
	return []Reply{b.reply(msg, formatStats(msg.AuthorName, stats))}, nil
}

func formatStats(name string, stats *domain.PlayerStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Stats for %s**\n", name)
	fmt.Fprintf(&sb, "Matches: %d (%d wins, %.1f%% win rate)\n", stats.TotalMatches, stats.Wins, stats.WinRate)
	fmt.Fprintf(&sb, "Going first: %d matches, %.1f%% win rate\n", stats.FirstPlayerMatches, stats.FirstPlayerWinRate)
	if stats.AverageMatchMinutes > 0 {
		fmt.Fprintf(&sb, "Average match: %.1f minutes\n", stats.AverageMatchMinutes)
	}
	if stats.Rating != nil {
		fmt.Fprintf(&sb, "Elo: %d (rank #%d)\n", stats.Rating.Rating, stats.Rating.Rank)
	}

	avatars := make([]string, 0, len(stats.ByAvatar))
	for avatar := range stats.ByAvatar {
		avatars = append(avatars, avatar)
	}
	sort.Strings(avatars)
	for _, avatar := range avatars {
		wl := stats.ByAvatar[avatar]
		fmt.Fprintf(&sb, "%s: %d-%d (%.1f%%)\n", avatar, wl.Wins, wl.Losses, wl.WinRate())
	}
	return sb.String()
}

func (b *Bot) myGames(ctx context.Context, msg Message, _ Command) ([]Reply, error) {
	records, err := b.ledger.GetMatchesFor(ctx, msg.AuthorID, 0, domain.OrderRecentFirst)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []Reply{b.reply(msg, fmt.Sprintf("%s, you haven't played any matches yet!", mention(msg.AuthorID)))}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Match History for %s**\n", msg.AuthorName)
	for i, r := range records {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, describeRecord(r, msg.AuthorID))
	}
	return []Reply{b.reply(msg, sb.String())}, nil
}

// describeRecord renders one history line from the player's point of view.
func describeRecord(r domain.MatchRecord, playerID string) string {
	var won bool
	var opponent string
	switch r.Kind {
	case domain.MatchKindPaired:
		won = r.WinnerID == playerID
		opponent = r.WinnerName
		if won {
			opponent = r.LoserName
		}
	default:
		won = r.ReporterWon
		opponent = r.OpponentName
	}

	outcome := "Loss"
	if won {
		outcome = "Win"
	}
	line := fmt.Sprintf("%s vs %s", outcome, opponent)
	if r.Details.WentFirst() {
		line += ", went first"
	}
	if m, ok := r.Details.Minutes(); ok {
		line += fmt.Sprintf(", %.1f minutes", m)
	}
	if r.Details.DeckURL != "" {
		line += ", " + r.Details.DeckURL
	}
	if r.Details.Comment != "" {
		line += " - " + r.Details.Comment
	}
	return line
}

func (b *Bot) replay(ctx context.Context, msg Message, _ Command) ([]Reply, error) {
	last, err := b.ledger.GetLastMatch(ctx, msg.AuthorID)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return []Reply{b.reply(msg, fmt.Sprintf(
				"%s, you have not played any matches yet. Use the `%slfg` command to find a match!",
				mention(msg.AuthorID), b.config.Prefix))}, nil
		}
		return nil, err
	}

	opponent := last.WinnerID
	if opponent == msg.AuthorID {
		opponent = last.LoserID
	}

	return []Reply{
		b.direct(msg.AuthorID, fmt.Sprintf("Rematch with %s? %s", mention(opponent), b.reportHint(opponent))),
		b.direct(opponent, fmt.Sprintf("%s wants a rematch! %s", mention(msg.AuthorID), b.reportHint(msg.AuthorID))),
		b.reply(msg, fmt.Sprintf("%s, you have sent a rematch request to %s!", mention(msg.AuthorID), mention(opponent))),
	}, nil
}
