package domain

import "strings"

// TournamentStatus represents the lifecycle state of a tournament
type TournamentStatus string

const (
	TournamentRegistration TournamentStatus = "registration"
	TournamentInProgress   TournamentStatus = "in_progress"
	TournamentCompleted    TournamentStatus = "completed"
)

// MatchStatus represents whether a bracket match has been reported
type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchCompleted MatchStatus = "completed"
)

// ReportDetails is the metadata a player submits with a bracket result.
type ReportDetails struct {
	DeckURL     string `json:"deck_url"`
	FirstPlayer string `json:"first_player"`
	MatchTime   string `json:"match_time"`
	Comment     string `json:"match_comment"`
	ReportedBy  string `json:"reported_by"`
}

// TournamentMatch is one pairing in the bracket. Winner stays nil until reported.
type TournamentMatch struct {
	ID      int            `json:"id"`
	Round   int            `json:"round"`
	Player1 string         `json:"player1"`
	Player2 string         `json:"player2"`
	Winner  *string        `json:"winner"`
	Status  MatchStatus    `json:"status"`
	Details *ReportDetails `json:"details,omitempty"`
}

// HasPlayer reports whether playerID is one of the two participants.
func (m *TournamentMatch) HasPlayer(playerID string) bool {
	return m.Player1 == playerID || m.Player2 == playerID
}

// Opponent returns the other participant.
func (m *TournamentMatch) Opponent(playerID string) string {
	if m.Player1 == playerID {
		return m.Player2
	}
	return m.Player1
}

// Tournament is the whole persisted state of one bracket. The JSON shape is the
// snapshot format and must round-trip exactly.
type Tournament struct {
	ID         int               `json:"-"`
	Name       string            `json:"name"`
	Format     string            `json:"format"`
	MaxPlayers int               `json:"max_players"`
	Players    []string          `json:"players"`
	Matches    []TournamentMatch `json:"matches"`
	Status     TournamentStatus  `json:"status"`
	Winner     *string           `json:"winner"`
}

// NameMatches compares tournament names case-insensitively.
func (t *Tournament) NameMatches(name string) bool {
	return strings.EqualFold(t.Name, name)
}

// HasPlayer reports whether playerID is registered.
func (t *Tournament) HasPlayer(playerID string) bool {
	for _, p := range t.Players {
		if p == playerID {
			return true
		}
	}
	return false
}

// Match returns a pointer into the match list so callers can mutate it.
func (t *Tournament) Match(id int) *TournamentMatch {
	for i := range t.Matches {
		if t.Matches[i].ID == id {
			return &t.Matches[i]
		}
	}
	return nil
}

// RoundMatches returns the matches of a round in creation order.
func (t *Tournament) RoundMatches(round int) []TournamentMatch {
	var out []TournamentMatch
	for _, m := range t.Matches {
		if m.Round == round {
			out = append(out, m)
		}
	}
	return out
}

// MaxRound returns the highest round number, or 0 with no matches.
func (t *Tournament) MaxRound() int {
	max := 0
	for _, m := range t.Matches {
		if m.Round > max {
			max = m.Round
		}
	}
	return max
}

// PendingMatches returns every match not yet reported.
func (t *Tournament) PendingMatches() []TournamentMatch {
	var out []TournamentMatch
	for _, m := range t.Matches {
		if m.Status != MatchCompleted {
			out = append(out, m)
		}
	}
	return out
}

// Clone returns a deep copy safe to hand out of the manager's lock.
func (t *Tournament) Clone() Tournament {
	c := *t
	c.Players = append([]string{}, t.Players...)
	c.Matches = make([]TournamentMatch, len(t.Matches))
	for i, m := range t.Matches {
		if m.Winner != nil {
			w := *m.Winner
			m.Winner = &w
		}
		if m.Details != nil {
			d := *m.Details
			m.Details = &d
		}
		c.Matches[i] = m
	}
	if t.Winner != nil {
		w := *t.Winner
		c.Winner = &w
	}
	return c
}

// RoundStatus summarises the current round of a tournament.
type RoundStatus struct {
	Tournament     string            `json:"tournament"`
	Round          int               `json:"round"`
	Total          int               `json:"total"`
	Completed      int               `json:"completed"`
	Pending        []TournamentMatch `json:"pending"`
	RoundComplete  bool              `json:"round_complete"`
	ReadyToFinish  bool              `json:"ready_to_finish"`
	TournamentDone bool              `json:"tournament_done"`
}

// ReportOutcome is returned from a bracket result report.
type ReportOutcome struct {
	Tournament string            `json:"tournament"`
	Match      TournamentMatch   `json:"match"`
	NextRound  []TournamentMatch `json:"next_round,omitempty"`
}

// PlayerAssignment is a player's pending match and the tournament it belongs to.
type PlayerAssignment struct {
	TournamentID   int             `json:"tournament_id"`
	TournamentName string          `json:"tournament_name"`
	Match          TournamentMatch `json:"match"`
}
