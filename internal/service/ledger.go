package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/summit-bot/internal/config"
	"github.com/summit-bot/internal/domain"
	"github.com/summit-bot/internal/rating"
)

// LedgerStore is the durable side of the match ledger.
type LedgerStore interface {
	InsertPairedMatch(ctx context.Context, match domain.PairedMatch) (int64, error)
	InsertSoloMatch(ctx context.Context, match domain.SoloMatch) (int64, error)
	GetRating(ctx context.Context, playerID string) (*domain.PlayerRating, error)
	// CompareAndSetRating writes newRating only if the stored rating still
	// equals expected. A nil expected means the row must not exist yet.
	CompareAndSetRating(ctx context.Context, playerID, displayName string, expected *int, newRating int) (bool, error)
	GetMatchesFor(ctx context.Context, playerID string, limit int, order domain.RecordOrder) ([]domain.MatchRecord, error)
	GetReportedMatches(ctx context.Context, playerID string) ([]domain.MatchRecord, error)
	GetLastPairedMatch(ctx context.Context, playerID string) (*domain.MatchRecord, error)
	GetTopRatings(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
	GetRatingWithRank(ctx context.Context, playerID string) (*domain.PlayerRating, error)
}

// EventSink receives ledger events.
type EventSink interface {
	Publish(ctx context.Context, event domain.Event) error
}

// RatingChange describes the reporter's rating movement for one paired match.
type RatingChange struct {
	PlayerID string `json:"player_id"`
	Before   int    `json:"before"`
	After    int    `json:"after"`
}

// LedgerService records match results and answers history and rating queries
type LedgerService struct {
	store  LedgerStore
	engine *rating.Engine
	events EventSink
	config *config.Config
	now    func() time.Time
	logger *slog.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(
	store LedgerStore,
	engine *rating.Engine,
	cfg *config.Config,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		store:  store,
		engine: engine,
		config: cfg,
		now:    time.Now,
		logger: logger,
	}
}

// SetEventSink attaches a receiver for ledger events.
func (s *LedgerService) SetEventSink(events EventSink) {
	s.events = events
}

// Record dispatches a tagged result to the matching record operation.
func (s *LedgerService) Record(ctx context.Context, result domain.MatchResult) error {
	switch m := result.(type) {
	case domain.PairedMatch:
		_, err := s.RecordMatch(ctx, m)
		return err
	case domain.SoloMatch:
		return s.RecordSoloMatch(ctx, m)
	default:
		return domain.ErrUnknownMatchKind
	}
}

// RecordMatch stores a paired match and then moves the reporter's rating.
// Only the reporter's side is recomputed; the opponent's stored rating is
// read but never written.
func (s *LedgerService) RecordMatch(ctx context.Context, match domain.PairedMatch) (*RatingChange, error) {
	if err := validatePaired(match); err != nil {
		return nil, err
	}
	if match.ReportedAt.IsZero() {
		match.ReportedAt = s.now()
	}
	match.ReporterWon = match.ReporterID == match.WinnerID

	// Persist the record first
	id, err := s.store.InsertPairedMatch(ctx, match)
	if err != nil {
		return nil, domain.ExternalError("inserting paired match", err)
	}
	s.logger.Info("match recorded",
		"match_id", id,
		"player_id", match.ReporterID,
		"winner_id", match.WinnerID,
		"loser_id", match.LoserID,
	)
	s.publish(ctx, domain.EventMatchRecorded, match.ReporterID, domain.Envelope(match))

	change, err := s.ApplyRating(ctx, match)
	if err != nil {
		// The record stays; callers may retry ApplyRating but not the insert.
		s.logger.Error("failed to update rating",
			"match_id", id,
			"player_id", match.ReporterID,
			"error", err,
		)
		return nil, &domain.RatingUpdateError{MatchID: id, Match: match, Err: err}
	}
	return change, nil
}

// ApplyRating moves the reporter's rating for an already stored paired match.
func (s *LedgerService) ApplyRating(ctx context.Context, match domain.PairedMatch) (*RatingChange, error) {
	won := match.ReporterID == match.WinnerID
	reporterName := match.ReporterName
	if reporterName == "" {
		if won {
			reporterName = match.WinnerName
		} else {
			reporterName = match.LoserName
		}
	}

	change, err := s.updateRating(ctx, match.ReporterID, reporterName, match.OpponentID(), won)
	if err != nil {
		return nil, err
	}

	s.logger.Info("rating updated",
		"player_id", match.ReporterID,
		"rating_before", change.Before,
		"rating_after", change.After,
	)
	s.publish(ctx, domain.EventRatingUpdated, match.ReporterID, change)
	return change, nil
}

// RecordSoloMatch stores a self-reported match. Ratings are untouched.
func (s *LedgerService) RecordSoloMatch(ctx context.Context, match domain.SoloMatch) error {
	if match.ReporterID == "" {
		return domain.ErrMissingPlayerID
	}
	if match.ReportedAt.IsZero() {
		match.ReportedAt = s.now()
	}

	id, err := s.store.InsertSoloMatch(ctx, match)
	if err != nil {
		return domain.ExternalError("inserting solo match", err)
	}

	s.logger.Info("solo match recorded", "match_id", id, "player_id", match.ReporterID, "won", match.IsWinner)
	s.publish(ctx, domain.EventMatchRecorded, match.ReporterID, domain.Envelope(match))
	return nil
}

// updateRating is an optimistic read-compute-write loop. Two concurrent
// reports for the same player cannot both apply against the same old value.
func (s *LedgerService) updateRating(ctx context.Context, playerID, displayName, opponentID string, didWin bool) (*RatingChange, error) {
	attempts := s.config.Rating.MaxUpdateRetries
	if attempts <= 0 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		current, expected, err := s.currentRating(ctx, playerID)
		if err != nil {
			return nil, err
		}
		opponent, _, err := s.currentRating(ctx, opponentID)
		if err != nil {
			return nil, err
		}

		next := s.engine.Update(current, opponent, didWin)
		ok, err := s.store.CompareAndSetRating(ctx, playerID, displayName, expected, next)
		if err != nil {
			return nil, domain.ExternalError("writing rating", err)
		}
		if ok {
			return &RatingChange{PlayerID: playerID, Before: current, After: next}, nil
		}

		s.logger.Debug("rating changed concurrently, retrying", "player_id", playerID, "attempt", i+1)
	}
	return nil, domain.ErrRatingContention
}

// currentRating returns the stored rating, or the default with a nil
// expected value when the player has none yet.
func (s *LedgerService) currentRating(ctx context.Context, playerID string) (int, *int, error) {
	r, err := s.store.GetRating(ctx, playerID)
	if errors.Is(err, domain.ErrPlayerNotFound) {
		return s.defaultRating(), nil, nil
	}
	if err != nil {
		return 0, nil, domain.ExternalError("reading rating", err)
	}
	value := r.Rating
	return value, &value, nil
}

func (s *LedgerService) defaultRating() int {
	if s.config.Rating.DefaultRating > 0 {
		return s.config.Rating.DefaultRating
	}
	return domain.DefaultRating
}

// GetMatchesFor returns a player's history, paired (either side) and solo.
func (s *LedgerService) GetMatchesFor(ctx context.Context, playerID string, limit int, order domain.RecordOrder) ([]domain.MatchRecord, error) {
	if limit <= 0 {
		limit = s.config.Leaderboard.HistoryLimit
	}
	if limit > s.config.Leaderboard.MaxLimit {
		limit = s.config.Leaderboard.MaxLimit
	}
	if order != domain.OrderOldestFirst {
		order = domain.OrderRecentFirst
	}

	records, err := s.store.GetMatchesFor(ctx, playerID, limit, order)
	if err != nil {
		return nil, domain.ExternalError("getting match history", err)
	}
	return records, nil
}

// GetLastMatch returns the most recent paired match the player took part in.
func (s *LedgerService) GetLastMatch(ctx context.Context, playerID string) (*domain.MatchRecord, error) {
	record, err := s.store.GetLastPairedMatch(ctx, playerID)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return nil, err
		}
		return nil, domain.ExternalError("getting last match", err)
	}
	return record, nil
}

// GetAggregateStats summarises every match the player reported.
func (s *LedgerService) GetAggregateStats(ctx context.Context, playerID string) (*domain.PlayerStats, error) {
	records, err := s.store.GetReportedMatches(ctx, playerID)
	if err != nil {
		return nil, domain.ExternalError("getting reported matches", err)
	}
	if len(records) == 0 {
		return nil, domain.ErrNoMatches
	}

	stats := ComputeStats(playerID, records)

	r, err := s.store.GetRatingWithRank(ctx, playerID)
	switch {
	case err == nil:
		stats.Rating = r
	case domain.IsNotFoundError(err):
	default:
		s.logger.Warn("failed to attach rating to stats", "player_id", playerID, "error", err)
	}
	return &stats, nil
}

// TopRatings returns the leaderboard head.
func (s *LedgerService) TopRatings(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = s.config.Leaderboard.DefaultLimit
	}
	if limit > s.config.Leaderboard.MaxLimit {
		limit = s.config.Leaderboard.MaxLimit
	}

	entries, err := s.store.GetTopRatings(ctx, limit)
	if err != nil {
		return nil, domain.ExternalError("getting top ratings", err)
	}
	return entries, nil
}

// RatingOf returns a player's rating and rank.
func (s *LedgerService) RatingOf(ctx context.Context, playerID string) (*domain.PlayerRating, error) {
	r, err := s.store.GetRatingWithRank(ctx, playerID)
	if err != nil {
		if domain.IsNotFoundError(err) {
			return nil, err
		}
		return nil, domain.ExternalError("getting rating", err)
	}
	return r, nil
}

func (s *LedgerService) publish(ctx context.Context, eventType, subject string, data interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, domain.NewEvent(eventType, subject, data)); err != nil {
		s.logger.Warn("failed to publish ledger event", "type", eventType, "error", err)
	}
}

func validatePaired(m domain.PairedMatch) error {
	if m.ReporterID == "" || m.WinnerID == "" || m.LoserID == "" {
		return domain.ErrMissingPlayerID
	}
	if m.WinnerID == m.LoserID {
		return fmt.Errorf("%w: winner and loser must differ", domain.ErrValidation)
	}
	if m.ReporterID != m.WinnerID && m.ReporterID != m.LoserID {
		return fmt.Errorf("%w: reporter must be one of the players", domain.ErrValidation)
	}
	return nil
}
