// Package tournament runs single-elimination brackets. All tournaments live in
// one in-memory table that is written out as a whole snapshot after every
// mutation and read back on startup.
package tournament

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gosimple/slug"

	"github.com/summit-bot/internal/domain"
)

// SnapshotStore persists the serialized tournament table under a single key.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, key string) ([]byte, bool, error)
	SaveSnapshot(ctx context.Context, key string, blob []byte) error
}

// SoloRecorder receives the ledger copy of every bracket result.
type SoloRecorder interface {
	RecordSoloMatch(ctx context.Context, match domain.SoloMatch) error
}

// NameResolver looks up a player's display name.
type NameResolver interface {
	DisplayName(ctx context.Context, playerID string) (string, error)
}

// EventSink receives tournament transitions.
type EventSink interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Manager owns the tournament table. One mutex guards every tournament; the
// expected load is a handful of commands per minute.
type Manager struct {
	mu          sync.Mutex
	tournaments map[int]*domain.Tournament

	store   SnapshotStore
	key     string
	ledger  SoloRecorder
	names   NameResolver
	events  EventSink
	shuffle func(n int, swap func(i, j int))
	now     func() time.Time
	logger  *slog.Logger
}

// NewManager creates an empty manager. Call Load to restore the last snapshot.
func NewManager(store SnapshotStore, key string, ledger SoloRecorder, names NameResolver, logger *slog.Logger) *Manager {
	return &Manager{
		tournaments: make(map[int]*domain.Tournament),
		store:       store,
		key:         key,
		ledger:      ledger,
		names:       names,
		shuffle:     rand.Shuffle,
		now:         time.Now,
		logger:      logger,
	}
}

// SetEventSink attaches a receiver for tournament transitions.
func (m *Manager) SetEventSink(events EventSink) {
	m.events = events
}

// SetShuffle replaces the random permutation used when seeding round 1.
func (m *Manager) SetShuffle(shuffle func(n int, swap func(i, j int))) {
	m.shuffle = shuffle
}

// Topic returns the live feed topic for a tournament.
func Topic(name string) string {
	return "tournament:" + slug.Make(name)
}

// Load replaces the in-memory table with the stored snapshot. A missing
// snapshot leaves the table empty.
func (m *Manager) Load(ctx context.Context) error {
	blob, ok, err := m.store.LoadSnapshot(ctx, m.key)
	if err != nil {
		return domain.ExternalError("loading tournament snapshot", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tournaments = make(map[int]*domain.Tournament)
	if !ok {
		return nil
	}

	table, err := decodeSnapshot(blob)
	if err != nil {
		return err
	}
	m.tournaments = table

	m.logger.Info("tournament snapshot loaded", "tournaments", len(table))
	return nil
}

// Reset clears every tournament and creates a new one. This is the path the
// chat command uses: one tournament at a time.
func (m *Manager) Reset(ctx context.Context, name, format string, maxPlayers int) (domain.Tournament, error) {
	if err := validateCreate(name, maxPlayers); err != nil {
		return domain.Tournament{}, err
	}

	m.mu.Lock()
	cleared := len(m.tournaments)
	m.tournaments = make(map[int]*domain.Tournament)
	t := m.createLocked(name, format, maxPlayers)
	m.saveLocked(ctx)
	out := t.Clone()
	m.mu.Unlock()

	m.logger.Info("tournaments reset", "cleared", cleared, "tournament", name)
	m.publish(ctx, domain.EventTournamentCreated, out)
	return out, nil
}

// Create adds a tournament alongside any existing ones.
func (m *Manager) Create(ctx context.Context, name, format string, maxPlayers int) (domain.Tournament, error) {
	if err := validateCreate(name, maxPlayers); err != nil {
		return domain.Tournament{}, err
	}

	m.mu.Lock()
	if m.findLocked(name) != nil {
		m.mu.Unlock()
		return domain.Tournament{}, domain.ErrTournamentExists
	}
	t := m.createLocked(name, format, maxPlayers)
	m.saveLocked(ctx)
	out := t.Clone()
	m.mu.Unlock()

	m.publish(ctx, domain.EventTournamentCreated, out)
	return out, nil
}

// Join registers a player.
func (m *Manager) Join(ctx context.Context, name, playerID string) (domain.Tournament, error) {
	if playerID == "" {
		return domain.Tournament{}, domain.ErrMissingPlayerID
	}

	m.mu.Lock()
	t := m.findLocked(name)
	if t == nil {
		m.mu.Unlock()
		return domain.Tournament{}, domain.ErrTournamentNotFound
	}
	if t.Status != domain.TournamentRegistration {
		m.mu.Unlock()
		return domain.Tournament{}, domain.ErrNotRegistering
	}
	if len(t.Players) >= t.MaxPlayers {
		m.mu.Unlock()
		return domain.Tournament{}, domain.ErrTournamentFull
	}
	if t.HasPlayer(playerID) {
		m.mu.Unlock()
		return domain.Tournament{}, domain.ErrAlreadyRegistered
	}

	t.Players = append(t.Players, playerID)
	m.saveLocked(ctx)
	out := t.Clone()
	m.mu.Unlock()

	m.logger.Info("player joined tournament", "tournament", out.Name, "player_id", playerID, "players", len(out.Players))
	m.publish(ctx, domain.EventRegistrationChanged, out)
	return out, nil
}

// Remove unregisters a player before the tournament starts.
func (m *Manager) Remove(ctx context.Context, name, playerID string) (domain.Tournament, error) {
	m.mu.Lock()
	t := m.findLocked(name)
	if t == nil {
		m.mu.Unlock()
		return domain.Tournament{}, domain.ErrTournamentNotFound
	}
	if t.Status != domain.TournamentRegistration {
		m.mu.Unlock()
		return domain.Tournament{}, domain.ErrNotRegistering
	}

	idx := -1
	for i, p := range t.Players {
		if p == playerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return domain.Tournament{}, domain.ErrNotRegistered
	}

	t.Players = append(t.Players[:idx], t.Players[idx+1:]...)
	m.saveLocked(ctx)
	out := t.Clone()
	m.mu.Unlock()

	m.logger.Info("player removed from tournament", "tournament", out.Name, "player_id", playerID)
	m.publish(ctx, domain.EventRegistrationChanged, out)
	return out, nil
}

// Start shuffles the registered players and seeds round 1. With an odd count
// the last shuffled player gets no match.
func (m *Manager) Start(ctx context.Context, name string) (domain.Tournament, error) {
	m.mu.Lock()

	t := m.findLocked(name)
	if t == nil {
		m.mu.Unlock()
		return domain.Tournament{}, domain.ErrTournamentNotFound
	}
	if t.Status != domain.TournamentRegistration {
		m.mu.Unlock()
		return domain.Tournament{}, domain.ErrNotRegistering
	}
	if len(t.Players) < 2 {
		m.mu.Unlock()
		return domain.Tournament{}, domain.ErrNotEnoughPlayers
	}

	seeded := append([]string{}, t.Players...)
	m.shuffle(len(seeded), func(i, j int) {
		seeded[i], seeded[j] = seeded[j], seeded[i]
	})

	t.Matches = pairRound(seeded, 1, 1)
	t.Status = domain.TournamentInProgress
	m.saveLocked(ctx)
	out := t.Clone()
	m.mu.Unlock()

	if len(seeded)%2 == 1 {
		m.logger.Warn("odd player count, last seed has no round 1 match",
			"tournament", out.Name, "player_id", seeded[len(seeded)-1])
	}
	m.logger.Info("tournament started", "tournament", out.Name, "players", len(out.Players), "matches", len(out.Matches))
	m.publish(ctx, domain.EventTournamentStarted, out)
	return out, nil
}

// ReportResult records the outcome of a bracket match from one participant's
// point of view. When this completes the round, the next round is created.
func (m *Manager) ReportResult(ctx context.Context, name string, matchID int, reporterID string, isWinner bool, details domain.ReportDetails) (domain.ReportOutcome, error) {
	m.mu.Lock()

	t := m.findLocked(name)
	if t == nil {
		m.mu.Unlock()
		return domain.ReportOutcome{}, domain.ErrTournamentNotFound
	}
	if t.Status != domain.TournamentInProgress {
		m.mu.Unlock()
		return domain.ReportOutcome{}, domain.ErrNotInProgress
	}
	match := t.Match(matchID)
	if match == nil {
		m.mu.Unlock()
		return domain.ReportOutcome{}, domain.ErrMatchNotFound
	}
	if match.Status == domain.MatchCompleted {
		m.mu.Unlock()
		return domain.ReportOutcome{}, domain.ErrMatchCompleted
	}
	if !match.HasPlayer(reporterID) {
		m.mu.Unlock()
		return domain.ReportOutcome{}, domain.ErrNotParticipant
	}

	winner := match.Opponent(reporterID)
	if isWinner {
		winner = reporterID
	}
	details.ReportedBy = reporterID
	match.Winner = &winner
	match.Status = domain.MatchCompleted
	match.Details = &details

	reported := *match
	opponentID := match.Opponent(reporterID)

	// match points into t.Matches and is stale once the next round is appended.
	outcome := domain.ReportOutcome{Tournament: t.Name, Match: reported}
	outcome.NextRound = advanceRound(t, reported.Round)
	m.saveLocked(ctx)
	snapshot := t.Clone()
	m.mu.Unlock()

	m.logger.Info("tournament result reported",
		"tournament", snapshot.Name,
		"match_id", matchID,
		"winner", winner,
		"reported_by", reporterID,
	)

	m.recordLedger(ctx, snapshot.Name, reporterID, opponentID, isWinner, details)

	m.publish(ctx, domain.EventResultReported, snapshot)
	if len(outcome.NextRound) > 0 {
		m.logger.Info("round advanced", "tournament", snapshot.Name, "round", outcome.NextRound[0].Round, "matches", len(outcome.NextRound))
		m.publish(ctx, domain.EventRoundAdvanced, snapshot)
	}
	return outcome, nil
}

// RoundStatus reports progress of the current round: the highest round that
// still has pending matches, or the last round once everything is reported.
func (m *Manager) RoundStatus(name string) (domain.RoundStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.findLocked(name)
	if t == nil {
		return domain.RoundStatus{}, domain.ErrTournamentNotFound
	}

	round := t.MaxRound()
	if pending := t.PendingMatches(); len(pending) > 0 {
		round = 0
		for _, match := range pending {
			if match.Round > round {
				round = match.Round
			}
		}
	}

	status := domain.RoundStatus{
		Tournament:     t.Name,
		Round:          round,
		TournamentDone: t.Status == domain.TournamentCompleted,
	}
	for _, match := range t.RoundMatches(round) {
		status.Total++
		if match.Status == domain.MatchCompleted {
			status.Completed++
		} else {
			status.Pending = append(status.Pending, match)
		}
	}
	status.RoundComplete = status.Total > 0 && status.Completed == status.Total
	if t.Status == domain.TournamentInProgress {
		_, err := finalWinner(t)
		status.ReadyToFinish = err == nil
	}
	return status, nil
}

// PlayerMatch finds the pending match of a player in any running tournament.
func (m *Manager) PlayerMatch(playerID string) (domain.PlayerAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.sortedIDsLocked() {
		t := m.tournaments[id]
		if t.Status != domain.TournamentInProgress {
			continue
		}
		for _, match := range t.Matches {
			if match.Status == domain.MatchPending && match.HasPlayer(playerID) {
				return domain.PlayerAssignment{
					TournamentID:   t.ID,
					TournamentName: t.Name,
					Match:          match,
				}, nil
			}
		}
	}
	return domain.PlayerAssignment{}, domain.ErrMatchNotFound
}

// Complete closes a tournament whose bracket converged to a single final.
func (m *Manager) Complete(ctx context.Context, name string) (domain.Tournament, error) {
	m.mu.Lock()

	t := m.findLocked(name)
	if t == nil {
		m.mu.Unlock()
		return domain.Tournament{}, domain.ErrTournamentNotFound
	}
	if t.Status != domain.TournamentInProgress {
		m.mu.Unlock()
		return domain.Tournament{}, domain.ErrNotInProgress
	}
	if len(t.PendingMatches()) > 0 {
		m.mu.Unlock()
		return domain.Tournament{}, domain.ErrMatchesPending
	}
	winner, err := finalWinner(t)
	if err != nil {
		m.mu.Unlock()
		return domain.Tournament{}, err
	}

	t.Winner = &winner
	t.Status = domain.TournamentCompleted
	m.saveLocked(ctx)
	out := t.Clone()
	m.mu.Unlock()

	m.logger.Info("tournament completed", "tournament", out.Name, "winner", winner)
	m.publish(ctx, domain.EventTournamentDone, out)
	return out, nil
}

// Get returns a tournament by name (case-insensitive) or slug.
func (m *Manager) Get(name string) (domain.Tournament, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.findLocked(name)
	if t == nil {
		return domain.Tournament{}, domain.ErrTournamentNotFound
	}
	return t.Clone(), nil
}

// List returns every tournament ordered by id.
func (m *Manager) List() []domain.Tournament {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Tournament, 0, len(m.tournaments))
	for _, id := range m.sortedIDsLocked() {
		out = append(out, m.tournaments[id].Clone())
	}
	return out
}

func validateCreate(name string, maxPlayers int) error {
	if name == "" {
		return domain.ErrEmptyName
	}
	if !isPowerOfTwo(maxPlayers) {
		return domain.ErrNotPowerOfTwo
	}
	return nil
}

// isPowerOfTwo accepts 2, 4, 8, ...; a one-player bracket is not a bracket.
func isPowerOfTwo(n int) bool {
	return n >= 2 && n&(n-1) == 0
}

func (m *Manager) createLocked(name, format string, maxPlayers int) *domain.Tournament {
	t := &domain.Tournament{
		ID:         len(m.tournaments) + 1,
		Name:       name,
		Format:     format,
		MaxPlayers: maxPlayers,
		Players:    []string{},
		Matches:    []domain.TournamentMatch{},
		Status:     domain.TournamentRegistration,
	}
	m.tournaments[t.ID] = t
	m.logger.Info("tournament created", "tournament", name, "format", format, "max_players", maxPlayers)
	return t
}

func (m *Manager) findLocked(name string) *domain.Tournament {
	for _, id := range m.sortedIDsLocked() {
		t := m.tournaments[id]
		if t.NameMatches(name) || slug.Make(t.Name) == name {
			return t
		}
	}
	return nil
}

func (m *Manager) sortedIDsLocked() []int {
	ids := make([]int, 0, len(m.tournaments))
	for id := range m.tournaments {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// saveLocked writes the whole table. A failed save is logged and the next
// mutation writes the full state again.
func (m *Manager) saveLocked(ctx context.Context) {
	blob, err := encodeSnapshot(m.tournaments)
	if err != nil {
		m.logger.Error("failed to encode tournament snapshot", "error", err)
		return
	}
	if err := m.store.SaveSnapshot(ctx, m.key, blob); err != nil {
		m.logger.Error("failed to save tournament snapshot", "key", m.key, "error", err)
	}
}

func (m *Manager) recordLedger(ctx context.Context, tournamentName, reporterID, opponentID string, isWinner bool, details domain.ReportDetails) {
	if m.ledger == nil {
		return
	}
	solo := domain.SoloMatch{
		ReporterID:   reporterID,
		ReporterName: m.displayName(ctx, reporterID),
		OpponentName: m.displayName(ctx, opponentID),
		IsWinner:     isWinner,
		ReportedAt:   m.now(),
		Details: domain.MatchDetails{
			FirstPlayer: details.FirstPlayer,
			Duration:    details.MatchTime,
			DeckURL:     details.DeckURL,
			Comment:     fmt.Sprintf("[Tournament: %s] %s", tournamentName, details.Comment),
		},
	}
	if err := m.ledger.RecordSoloMatch(ctx, solo); err != nil {
		m.logger.Error("failed to record tournament result in ledger",
			"tournament", tournamentName,
			"player_id", reporterID,
			"error", err,
		)
	}
}

func (m *Manager) displayName(ctx context.Context, playerID string) string {
	if m.names == nil {
		return playerID
	}
	name, err := m.names.DisplayName(ctx, playerID)
	if err != nil || name == "" {
		return playerID
	}
	return name
}

func (m *Manager) publish(ctx context.Context, eventType string, t domain.Tournament) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, domain.NewEvent(eventType, Topic(t.Name), t)); err != nil {
		m.logger.Warn("failed to publish tournament event", "type", eventType, "tournament", t.Name, "error", err)
	}
}

// advanceRound creates the next round once every match of round is reported
// and at least two winners exist. Winners are paired in match id order.
func advanceRound(t *domain.Tournament, round int) []domain.TournamentMatch {
	current := t.RoundMatches(round)
	for _, match := range current {
		if match.Status != domain.MatchCompleted {
			return nil
		}
	}
	if len(t.RoundMatches(round+1)) > 0 {
		return nil
	}

	sort.Slice(current, func(i, j int) bool { return current[i].ID < current[j].ID })
	winners := make([]string, 0, len(current))
	for _, match := range current {
		if match.Winner != nil {
			winners = append(winners, *match.Winner)
		}
	}
	if len(winners) < 2 {
		return nil
	}

	next := pairRound(winners, round+1, nextMatchID(t))
	t.Matches = append(t.Matches, next...)
	return next
}

func pairRound(players []string, round, firstID int) []domain.TournamentMatch {
	matches := make([]domain.TournamentMatch, 0, len(players)/2)
	for i := 0; i+1 < len(players); i += 2 {
		matches = append(matches, domain.TournamentMatch{
			ID:      firstID + len(matches),
			Round:   round,
			Player1: players[i],
			Player2: players[i+1],
			Status:  domain.MatchPending,
		})
	}
	return matches
}

func nextMatchID(t *domain.Tournament) int {
	max := 0
	for _, match := range t.Matches {
		if match.ID > max {
			max = match.ID
		}
	}
	return max + 1
}

// finalWinner returns the winner of the only match in the last round.
func finalWinner(t *domain.Tournament) (string, error) {
	if len(t.PendingMatches()) > 0 {
		return "", domain.ErrMatchesPending
	}
	final := t.RoundMatches(t.MaxRound())
	if len(final) != 1 || final[0].Winner == nil {
		return "", domain.ErrBracketUnresolved
	}
	return *final[0].Winner, nil
}

func encodeSnapshot(table map[int]*domain.Tournament) ([]byte, error) {
	out := make(map[string]*domain.Tournament, len(table))
	for id, t := range table {
		out[strconv.Itoa(id)] = t
	}
	return json.Marshal(out)
}

func decodeSnapshot(blob []byte) (map[int]*domain.Tournament, error) {
	var raw map[string]*domain.Tournament
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, fmt.Errorf("decoding tournament snapshot: %w", err)
	}

	table := make(map[int]*domain.Tournament, len(raw))
	for key, t := range raw {
		id, err := strconv.Atoi(key)
		if err != nil || t == nil {
			return nil, fmt.Errorf("decoding tournament snapshot: bad entry %q", key)
		}
		if t.Players == nil {
			t.Players = []string{}
		}
		if t.Matches == nil {
			t.Matches = []domain.TournamentMatch{}
		}
		t.ID = id
		table[id] = t
	}
	return table, nil
}
