// Package rating implements the Elo update used for the overall standings.
package rating

import (
	"math"

	"github.com/summit-bot/internal/domain"
)

// DefaultKFactor is the k-factor used when none is configured.
const DefaultKFactor = 32

// Expected returns the logistic expected score of a player against an opponent.
func Expected(player, opponent int) float64 {
	return 1 / (1 + math.Pow(10, float64(opponent-player)/400))
}

// Update returns the player's new rating after a single match. Halves round to
// even so replaying the same history always reproduces the same leaderboard.
func Update(player, opponent int, didWin bool, k float64) (int, error) {
	if !(k > 0) || math.IsInf(k, 0) {
		return 0, domain.ErrInvalidKFactor
	}
	actual := 0.0
	if didWin {
		actual = 1
	}
	next := float64(player) + k*(actual-Expected(player, opponent))
	return int(math.RoundToEven(next)), nil
}

// Engine is an Update bound to a validated k-factor.
type Engine struct {
	k float64
}

// NewEngine creates an engine, rejecting a non-positive k-factor.
func NewEngine(k float64) (*Engine, error) {
	if !(k > 0) || math.IsInf(k, 0) {
		return nil, domain.ErrInvalidKFactor
	}
	return &Engine{k: k}, nil
}

// KFactor returns the configured k-factor.
func (e *Engine) KFactor() float64 {
	return e.k
}

// Update recomputes only the player's side. To move both players, call it
// twice with the roles swapped and the outcome inverted.
func (e *Engine) Update(player, opponent int, didWin bool) int {
	next, _ := Update(player, opponent, didWin, e.k)
	return next
}
