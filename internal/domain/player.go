package domain

import "time"

// DefaultRating is the rating a player starts with before their first match.
const DefaultRating = 1500

// PlayerRating is a player's Elo standing. Created lazily on the first
// reported match and never deleted.
type PlayerRating struct {
	PlayerID    string    `json:"player_id"`
	DisplayName string    `json:"display_name"`
	Rating      int       `json:"rating"`
	Rank        int64     `json:"rank,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PlayerInfo is a lightweight player information struct used for caching
type PlayerInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}
