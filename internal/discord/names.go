package discord

import (
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/summit-bot/internal/domain"
)

// NameCache stores display names between lookups
type NameCache interface {
	GetPlayerName(ctx context.Context, playerID string) (*domain.PlayerInfo, error)
	SetPlayerName(ctx context.Context, playerID, displayName string) error
}

// UserLookup asks the chat platform for a user's display name
type UserLookup func(ctx context.Context, playerID string) (string, error)

// Names resolves player ids to display names: cache first, then the platform
// lookup bounded by timeout, then the raw id.
type Names struct {
	cache   NameCache
	lookup  UserLookup
	timeout time.Duration
	logger  *slog.Logger
}

// NewNames creates a resolver. cache and lookup may be nil.
func NewNames(cache NameCache, lookup UserLookup, timeout time.Duration, logger *slog.Logger) *Names {
	return &Names{
		cache:   cache,
		lookup:  lookup,
		timeout: timeout,
		logger:  logger,
	}
}

// SetLookup installs the platform lookup once a session exists
func (n *Names) SetLookup(lookup UserLookup) {
	n.lookup = lookup
}

// DisplayName never fails: the id itself is the last fallback.
func (n *Names) DisplayName(ctx context.Context, playerID string) (string, error) {
	if n.cache != nil {
		info, err := n.cache.GetPlayerName(ctx, playerID)
		if err == nil {
			return info.DisplayName, nil
		}
		if !domain.IsNotFoundError(err) {
			n.logger.Warn("name cache read failed", "player_id", playerID, "error", err)
		}
	}

	if n.lookup != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, n.timeout)
		name, err := n.lookup(lookupCtx, playerID)
		cancel()
		if err == nil && name != "" {
			n.Remember(ctx, playerID, name)
			return name, nil
		}
		if err != nil {
			n.logger.Debug("user lookup failed", "player_id", playerID, "error", err)
		}
	}

	return playerID, nil
}

// Remember caches a name seen on an incoming message
func (n *Names) Remember(ctx context.Context, playerID, name string) {
	if n.cache == nil || name == "" {
		return
	}
	if err := n.cache.SetPlayerName(ctx, playerID, name); err != nil {
		n.logger.Warn("name cache write failed", "player_id", playerID, "error", err)
	}
}

// SessionLookup resolves names through the guild member list, falling back to
// the global user profile.
func SessionLookup(s *discordgo.Session, guildID string) UserLookup {
	return func(ctx context.Context, playerID string) (string, error) {
		if guildID != "" {
			member, err := s.GuildMember(guildID, playerID, discordgo.WithContext(ctx))
			if err == nil {
				if member.Nick != "" {
					return member.Nick, nil
				}
				if member.User != nil {
					return userName(member.User), nil
				}
			}
		}

		user, err := s.User(playerID, discordgo.WithContext(ctx))
		if err != nil {
			return "", domain.ExternalError("fetching discord user", err)
		}
		return userName(user), nil
	}
}

func userName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}
