package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// MatchKind tags the two shapes a reported match can take.
type MatchKind string

const (
	MatchKindPaired MatchKind = "paired"
	MatchKindSolo   MatchKind = "solo"
)

// MatchDetails is the optional metadata attached to a reported match.
// Fields are kept as entered; parsing happens when stats are computed.
type MatchDetails struct {
	FirstPlayer string          `json:"first_player,omitempty"`
	Duration    string          `json:"duration,omitempty"`
	DeckURL     string          `json:"deck_url,omitempty"`
	Comment     string          `json:"comment,omitempty"`
	DeckData    json.RawMessage `json:"deck_data,omitempty"`
}

// WentFirst reports whether the reporter said they were the first player.
func (d MatchDetails) WentFirst() bool {
	return strings.Contains(strings.ToLower(d.FirstPlayer), "y")
}

// Minutes parses the reported duration. ok is false for empty or malformed values.
func (d MatchDetails) Minutes() (float64, bool) {
	raw := strings.TrimSpace(d.Duration)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// MatchResult is either a PairedMatch or a SoloMatch.
type MatchResult interface {
	Kind() MatchKind
	Reporter() string
}

// PairedMatch is a match between two known players. ReporterWon mirrors the
// reporter's own outcome, so it is true when ReporterID == WinnerID.
type PairedMatch struct {
	ReporterID   string       `json:"reporter_id"`
	ReporterName string       `json:"reporter_name"`
	WinnerID     string       `json:"winner_id"`
	WinnerName   string       `json:"winner_name"`
	LoserID      string       `json:"loser_id"`
	LoserName    string       `json:"loser_name"`
	ReporterWon  bool         `json:"reporter_won"`
	ReportedAt   time.Time    `json:"reported_at"`
	Details      MatchDetails `json:"details"`
}

func (PairedMatch) Kind() MatchKind     { return MatchKindPaired }
func (m PairedMatch) Reporter() string { return m.ReporterID }

// OpponentID returns the id of the player who did not report.
func (m PairedMatch) OpponentID() string {
	if m.ReporterID == m.WinnerID {
		return m.LoserID
	}
	return m.WinnerID
}

// SoloMatch is a self-reported match where the opponent is free text.
type SoloMatch struct {
	ReporterID   string       `json:"reporter_id"`
	ReporterName string       `json:"reporter_name"`
	OpponentName string       `json:"opponent_name"`
	IsWinner     bool         `json:"is_winner"`
	ReportedAt   time.Time    `json:"reported_at"`
	Details      MatchDetails `json:"details"`
}

func (SoloMatch) Kind() MatchKind     { return MatchKindSolo }
func (m SoloMatch) Reporter() string { return m.ReporterID }

// MatchEnvelope is the wire form of a MatchResult.
type MatchEnvelope struct {
	Kind   MatchKind    `json:"kind"`
	Paired *PairedMatch `json:"paired,omitempty"`
	Solo   *SoloMatch   `json:"solo,omitempty"`
}

// Envelope wraps a result for encoding.
func Envelope(r MatchResult) MatchEnvelope {
	switch m := r.(type) {
	case PairedMatch:
		return MatchEnvelope{Kind: MatchKindPaired, Paired: &m}
	case SoloMatch:
		return MatchEnvelope{Kind: MatchKindSolo, Solo: &m}
	}
	return MatchEnvelope{}
}

// Result unwraps the envelope, validating that the payload matches the tag.
func (e MatchEnvelope) Result() (MatchResult, error) {
	switch e.Kind {
	case MatchKindPaired:
		if e.Paired == nil || e.Paired.ReporterID == "" || e.Paired.WinnerID == "" || e.Paired.LoserID == "" {
			return nil, ErrInvalidRequest
		}
		return *e.Paired, nil
	case MatchKindSolo:
		if e.Solo == nil || e.Solo.ReporterID == "" {
			return nil, ErrInvalidRequest
		}
		return *e.Solo, nil
	}
	return nil, ErrUnknownMatchKind
}

// MatchRecord is a stored match of either kind, as returned by history queries.
type MatchRecord struct {
	ID           int64        `json:"id"`
	Kind         MatchKind    `json:"kind"`
	ReporterID   string       `json:"reporter_id"`
	ReporterName string       `json:"reporter_name,omitempty"`
	WinnerID     string       `json:"winner_id,omitempty"`
	WinnerName   string       `json:"winner_name,omitempty"`
	LoserID      string       `json:"loser_id,omitempty"`
	LoserName    string       `json:"loser_name,omitempty"`
	OpponentName string       `json:"opponent_name,omitempty"`
	ReporterWon  bool         `json:"reporter_won"`
	ReportedAt   time.Time    `json:"reported_at"`
	Details      MatchDetails `json:"details"`
}

// Avatar extracts the avatar name from the deck snapshot. ok is false when the
// record has no snapshot or the snapshot is not valid JSON.
func (r MatchRecord) Avatar() (string, bool) {
	if len(r.Details.DeckData) == 0 || string(r.Details.DeckData) == "null" {
		return "", false
	}
	var deck struct {
		Avatar []struct {
			Name string `json:"name"`
		} `json:"avatar"`
	}
	if err := json.Unmarshal(r.Details.DeckData, &deck); err != nil {
		return "", false
	}
	if len(deck.Avatar) == 0 || deck.Avatar[0].Name == "" {
		return "Unknown", true
	}
	return deck.Avatar[0].Name, true
}
