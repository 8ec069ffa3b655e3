package domain

// LeaderboardEntry represents a single entry in the rating leaderboard
type LeaderboardEntry struct {
	Rank        int64  `json:"rank"`
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Rating      int    `json:"rating"`
}

// RecordOrder controls the ordering of match history queries.
type RecordOrder string

const (
	OrderRecentFirst RecordOrder = "recent_first"
	OrderOldestFirst RecordOrder = "oldest_first"
)

// WinLoss is a win/loss tally for one grouping key.
type WinLoss struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
}

// WinRate returns the percentage of wins, or 0 with no games.
func (w WinLoss) WinRate() float64 {
	total := w.Wins + w.Losses
	if total == 0 {
		return 0
	}
	return float64(w.Wins) / float64(total) * 100
}

// PlayerStats contains aggregate statistics over a player's reported matches
type PlayerStats struct {
	PlayerID            string             `json:"player_id"`
	TotalMatches        int                `json:"total_matches"`
	Wins                int                `json:"wins"`
	WinRate             float64            `json:"win_rate"`
	FirstPlayerMatches  int                `json:"first_player_matches"`
	FirstPlayerWins     int                `json:"first_player_wins"`
	FirstPlayerWinRate  float64            `json:"first_player_win_rate"`
	AverageMatchMinutes float64            `json:"average_match_minutes"`
	ByAvatar            map[string]WinLoss `json:"by_avatar,omitempty"`
	Rating              *PlayerRating      `json:"rating,omitempty"`
}
