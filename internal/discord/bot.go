// Package discord is the chat command surface. It parses prefix commands,
// calls the core components and turns their results into replies.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/summit-bot/internal/config"
	"github.com/summit-bot/internal/domain"
	"github.com/summit-bot/internal/matchmaking"
	"github.com/summit-bot/internal/service"
	"github.com/summit-bot/internal/tournament"
)

const commandTimeout = 15 * time.Second

// Ledger is the part of the match ledger the commands use
type Ledger interface {
	RecordMatch(ctx context.Context, match domain.PairedMatch) (*service.RatingChange, error)
	RecordSoloMatch(ctx context.Context, match domain.SoloMatch) error
	RatingOf(ctx context.Context, playerID string) (*domain.PlayerRating, error)
	TopRatings(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
	GetAggregateStats(ctx context.Context, playerID string) (*domain.PlayerStats, error)
	GetMatchesFor(ctx context.Context, playerID string, limit int, order domain.RecordOrder) ([]domain.MatchRecord, error)
	GetLastMatch(ctx context.Context, playerID string) (*domain.MatchRecord, error)
}

// EventSink receives queue changes for the live feed
type EventSink interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Message is an incoming chat message stripped down to what commands need
type Message struct {
	AuthorID   string
	AuthorName string
	ChannelID  string
	Content    string
	Admin      bool
	// Bots holds mentioned user ids that belong to bot accounts.
	Bots map[string]bool
}

// Reply is an outgoing message. A non-empty UserID means a direct message.
type Reply struct {
	ChannelID string
	UserID    string
	Content   string
}

type commandFunc func(ctx context.Context, msg Message, cmd Command) ([]Reply, error)

type route struct {
	run   commandFunc
	admin bool
}

// Bot routes chat commands to the core
type Bot struct {
	session     *discordgo.Session
	ledger      Ledger
	queue       *matchmaking.Queue
	challenges  *matchmaking.Challenges
	tournaments *tournament.Manager
	names       *Names
	events      EventSink
	config      *config.DiscordConfig
	matchmaking *config.MatchmakingConfig
	routes      map[string]route
	logger      *slog.Logger
}

// NewBot creates a bot with every command registered. Call Open to connect.
func NewBot(
	ledger Ledger,
	queue *matchmaking.Queue,
	challenges *matchmaking.Challenges,
	tournaments *tournament.Manager,
	names *Names,
	cfg *config.Config,
	logger *slog.Logger,
) *Bot {
	b := &Bot{
		ledger:      ledger,
		queue:       queue,
		challenges:  challenges,
		tournaments: tournaments,
		names:       names,
		config:      &cfg.Discord,
		matchmaking: &cfg.Matchmaking,
		logger:      logger,
	}

	b.routes = map[string]route{
		// matchmaking
		"lfg":       {run: b.lfg},
		"checklfg":  {run: b.checkLFG},
		"cancel":    {run: b.cancel},
		"challenge": {run: b.challenge},
		"accept":    {run: b.accept},
		"decline":   {run: b.decline},

		// ledger
		"report":      {run: b.report},
		"record":      {run: b.record},
		"rank":        {run: b.rank},
		"leaderboard": {run: b.leaderboard},
		"mystats":     {run: b.myStats},
		"mygames":     {run: b.myGames},
		"replay":      {run: b.replay},

		// tournaments
		"create_tournament":   {run: b.createTournament, admin: true},
		"join":                {run: b.join},
		"remove":              {run: b.remove, admin: true},
		"start_tournament":    {run: b.startTournament, admin: true},
		"my_round":            {run: b.myRound},
		"report_round":        {run: b.reportRound},
		"round_status":        {run: b.roundStatus},
		"bracket":             {run: b.bracket},
		"complete_tournament": {run: b.completeTournament, admin: true},
	}
	return b
}

// SetEventSink attaches a receiver for queue changes
func (b *Bot) SetEventSink(events EventSink) {
	b.events = events
}

// Open connects to the gateway
func (b *Bot) Open() error {
	if b.config.Token == "" {
		return fmt.Errorf("%w: discord token is required", domain.ErrValidation)
	}

	s, err := discordgo.New("Bot " + b.config.Token)
	if err != nil {
		return fmt.Errorf("creating discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	s.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.Info("discord session ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	s.AddHandler(b.onMessageCreate)

	b.session = s
	b.names.SetLookup(SessionLookup(s, b.config.GuildID))

	if err := s.Open(); err != nil {
		return domain.ExternalError("opening discord session", err)
	}
	return nil
}

// Close disconnects from the gateway
func (b *Bot) Close() error {
	if b.session == nil {
		return nil
	}
	return b.session.Close()
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if !strings.HasPrefix(m.Content, b.config.Prefix) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	msg := Message{
		AuthorID:   m.Author.ID,
		AuthorName: authorName(m),
		ChannelID:  m.ChannelID,
		Content:    m.Content,
		Admin:      b.isAdmin(s, m),
		Bots:       make(map[string]bool),
	}
	for _, u := range m.Mentions {
		if u.Bot {
			msg.Bots[u.ID] = true
		}
	}

	b.names.Remember(ctx, msg.AuthorID, msg.AuthorName)

	for _, r := range b.Dispatch(ctx, msg) {
		b.send(r)
	}
}

// Dispatch runs the command in msg and returns the replies to send.
// Messages that are not commands produce no replies.
func (b *Bot) Dispatch(ctx context.Context, msg Message) []Reply {
	cmd, ok := ParseCommand(b.config.Prefix, msg.Content)
	if !ok {
		return nil
	}
	r, ok := b.routes[cmd.Name]
	if !ok {
		return nil
	}

	if r.admin && !msg.Admin {
		return []Reply{b.reply(msg, "You need administrator permissions to use this command.")}
	}

	replies, err := r.run(ctx, msg, cmd)
	if err != nil {
		if !domain.IsValidationError(err) && !domain.IsNotFoundError(err) && !domain.IsStateConflictError(err) {
			b.logger.Error("command failed", "command", cmd.Name, "player_id", msg.AuthorID, "error", err)
		}
		return []Reply{b.reply(msg, fmt.Sprintf("%s, %s", mention(msg.AuthorID), userText(err)))}
	}

	b.logger.Debug("command handled", "command", cmd.Name, "player_id", msg.AuthorID)
	return replies
}

func (b *Bot) isAdmin(s *discordgo.Session, m *discordgo.MessageCreate) bool {
	if b.config.OwnerID != "" && m.Author.ID == b.config.OwnerID {
		return true
	}
	if m.GuildID == "" {
		return false
	}
	perms, err := s.UserChannelPermissions(m.Author.ID, m.ChannelID)
	if err != nil {
		b.logger.Warn("failed to read permissions", "player_id", m.Author.ID, "error", err)
		return false
	}
	return perms&discordgo.PermissionAdministrator != 0
}

func (b *Bot) send(r Reply) {
	channelID := r.ChannelID
	if r.UserID != "" {
		ch, err := b.session.UserChannelCreate(r.UserID)
		if err != nil {
			b.logger.Warn("failed to open direct message", "player_id", r.UserID, "error", err)
			return
		}
		channelID = ch.ID
	}
	if _, err := b.session.ChannelMessageSend(channelID, r.Content); err != nil {
		b.logger.Warn("failed to send message", "channel_id", channelID, "error", err)
	}
}

func (b *Bot) reply(msg Message, content string) Reply {
	return Reply{ChannelID: msg.ChannelID, Content: content}
}

func (b *Bot) direct(userID, content string) Reply {
	return Reply{UserID: userID, Content: content}
}

func (b *Bot) name(ctx context.Context, playerID string) string {
	name, _ := b.names.DisplayName(ctx, playerID)
	return name
}

// Not-found errors name a bare noun, so chat gets a full sentence instead.
var notFoundText = []struct {
	err  error
	text string
}{
	{domain.ErrTournamentNotFound, "no tournament with that name exists"},
	{domain.ErrMatchNotFound, "you have no pending tournament match"},
	{domain.ErrChallengeNotFound, "there is no open challenge from that player"},
	{domain.ErrPlayerNotFound, "that player has no rating yet"},
	{domain.ErrNoMatches, "no matches have been recorded yet"},
}

// userText turns an error into the sentence shown in chat.
func userText(err error) string {
	var partial *domain.RatingUpdateError
	if errors.As(err, &partial) {
		return "your match was recorded, but your rating could not be updated right now. Please don't report it again."
	}

	for _, nf := range notFoundText {
		if errors.Is(err, nf.err) {
			return nf.text + "."
		}
	}

	switch {
	case errors.Is(err, domain.ErrExternalService):
		return "I couldn't reach my storage right now. Please try again in a moment."
	case domain.IsValidationError(err), domain.IsNotFoundError(err), domain.IsStateConflictError(err):
		msg := err.Error()
		if i := strings.Index(msg, ": "); i >= 0 {
			msg = msg[i+2:]
		}
		return msg + "."
	}
	return "something went wrong. Please try again later."
}

func authorName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	return userName(m.Author)
}

func mention(playerID string) string {
	return "<@" + playerID + ">"
}
