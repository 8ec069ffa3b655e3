package discord

import (
	"context"
	"fmt"

	"github.com/summit-bot/internal/domain"
	"github.com/summit-bot/internal/matchmaking"
	"github.com/summit-bot/internal/websocket"
)

func (b *Bot) lfg(ctx context.Context, msg Message, cmd Command) ([]Reply, error) {
	mm := b.matchmaking
	ttl, err := ParseQueueMinutes(cmd.Arg(0), mm.DefaultTTL, mm.MinTTL, mm.MaxTTL)
	if err != nil {
		return nil, err
	}

	var replies []Reply
	if b.config.OwnerID != "" && b.config.OwnerID != msg.AuthorID {
		replies = append(replies, b.direct(b.config.OwnerID,
			fmt.Sprintf("%s used the %slfg command.", msg.AuthorName, b.config.Prefix)))
	}

	result := b.queue.TryPair(msg.AuthorID)
	switch result.Status {
	case matchmaking.Matched:
		b.queueChanged(ctx)
		opponent := result.OpponentID
		replies = append(replies,
			b.reply(msg, fmt.Sprintf("%s, matched with %s who is also looking for a game!",
				mention(msg.AuthorID), mention(opponent))),
			b.direct(msg.AuthorID, b.reportHint(opponent)),
			b.direct(opponent, fmt.Sprintf("You've been matched with %s for a game! %s",
				mention(msg.AuthorID), b.reportHint(msg.AuthorID))),
		)
		return b.announce(replies, "A match was found! Two players have been paired for a game."), nil

	case matchmaking.AlreadyQueued:
		replies = append(replies, b.reply(msg, fmt.Sprintf(
			"%s, you are already in the LFG queue. Please wait for someone to match with you.",
			mention(msg.AuthorID))))
		return replies, nil
	}

	if _, err := b.queue.Enqueue(msg.AuthorID, ttl); err != nil {
		return nil, err
	}
	b.queueChanged(ctx)

	minutes := int(ttl.Minutes())
	replies = append(replies, b.direct(msg.AuthorID, fmt.Sprintf(
		"You have been added to the queue for looking for a game for %d minutes. "+
			"You can also use the `%slfg` command here to join the queue privately.",
		minutes, b.config.Prefix)))
	return b.announce(replies, fmt.Sprintf(
		"A player is now looking for a game for %d minutes! Message me with the `%slfg` command to join them.",
		minutes, b.config.Prefix)), nil
}

func (b *Bot) checkLFG(_ context.Context, msg Message, _ Command) ([]Reply, error) {
	if b.queue.PeekAnyActive() {
		return []Reply{b.reply(msg, fmt.Sprintf("%s, yes, someone is in the queue!", mention(msg.AuthorID)))}, nil
	}
	return []Reply{b.reply(msg, fmt.Sprintf("%s, no one is currently in the queue.", mention(msg.AuthorID)))}, nil
}

func (b *Bot) cancel(ctx context.Context, msg Message, _ Command) ([]Reply, error) {
	if err := b.queue.Cancel(msg.AuthorID); err != nil {
		if domain.IsNotFoundError(err) {
			return []Reply{b.reply(msg, fmt.Sprintf("%s, you are not currently in the LFG queue.", mention(msg.AuthorID)))}, nil
		}
		return nil, err
	}
	b.queueChanged(ctx)

	replies := []Reply{b.reply(msg, fmt.Sprintf("%s, you have been removed from the LFG queue.", mention(msg.AuthorID)))}
	if b.queue.Len() == 0 {
		replies = b.announce(replies, "No one is currently looking for a game.")
	}
	return replies, nil
}

func (b *Bot) challenge(_ context.Context, msg Message, cmd Command) ([]Reply, error) {
	target, ok := cmd.Target()
	if !ok {
		return nil, fmt.Errorf("%w: mention the player you want to challenge", domain.ErrValidation)
	}
	if msg.Bots[target] {
		return nil, fmt.Errorf("%w: you cannot challenge a bot", domain.ErrValidation)
	}

	if _, err := b.challenges.Issue(msg.AuthorID, target); err != nil {
		return nil, err
	}

	minutes := int(b.matchmaking.ChallengeTimeout.Minutes())
	return []Reply{
		b.direct(target, fmt.Sprintf(
			"%s has challenged you to a game! Reply with `%saccept %s` or `%sdecline %s` within %d minutes.",
			mention(msg.AuthorID), b.config.Prefix, mention(msg.AuthorID), b.config.Prefix, mention(msg.AuthorID), minutes)),
		b.reply(msg, fmt.Sprintf("%s, your challenge was sent to %s.", mention(msg.AuthorID), mention(target))),
	}, nil
}

func (b *Bot) accept(_ context.Context, msg Message, cmd Command) ([]Reply, error) {
	challenger, ok := cmd.Target()
	if !ok {
		return nil, fmt.Errorf("%w: mention the player whose challenge you accept", domain.ErrValidation)
	}

	if _, err := b.challenges.Accept(msg.AuthorID, challenger); err != nil {
		return nil, err
	}

	return []Reply{
		b.reply(msg, fmt.Sprintf("%s accepted the challenge from %s. Good luck!", mention(msg.AuthorID), mention(challenger))),
		b.direct(challenger, fmt.Sprintf("%s accepted your challenge! %s", mention(msg.AuthorID), b.reportHint(msg.AuthorID))),
		b.direct(msg.AuthorID, b.reportHint(challenger)),
	}, nil
}

func (b *Bot) decline(_ context.Context, msg Message, cmd Command) ([]Reply, error) {
	challenger, ok := cmd.Target()
	if !ok {
		return nil, fmt.Errorf("%w: mention the player whose challenge you decline", domain.ErrValidation)
	}

	if _, err := b.challenges.Decline(msg.AuthorID, challenger); err != nil {
		return nil, err
	}

	return []Reply{
		b.direct(challenger, fmt.Sprintf("%s declined your challenge.", mention(msg.AuthorID))),
		b.reply(msg, fmt.Sprintf("%s, challenge declined.", mention(msg.AuthorID))),
	}, nil
}

func (b *Bot) reportHint(opponentID string) string {
	return fmt.Sprintf("When you're done, report the result with `%sreport win|loss %s`.", b.config.Prefix, mention(opponentID))
}

// announce adds a post to the LFG channel when one is configured.
func (b *Bot) announce(replies []Reply, content string) []Reply {
	if b.config.LFGChannelID == "" {
		return replies
	}
	return append(replies, Reply{ChannelID: b.config.LFGChannelID, Content: content})
}

func (b *Bot) queueChanged(ctx context.Context) {
	if b.events == nil {
		return
	}
	event := domain.NewEvent(domain.EventQueueChanged, websocket.TopicQueue, websocket.QueueUpdate{Waiting: b.queue.Len()})
	if err := b.events.Publish(ctx, event); err != nil {
		b.logger.Warn("failed to publish queue change", "error", err)
	}
}
