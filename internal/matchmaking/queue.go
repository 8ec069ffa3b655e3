// Package matchmaking holds the looking-for-game queue and direct challenges.
// State is process-local and short-lived; a restart clears it.
package matchmaking

import (
	"log/slog"
	"sync"
	"time"

	"github.com/summit-bot/internal/domain"
)

// PairStatus is the outcome of a pairing attempt
type PairStatus int

const (
	// NoMatch means nobody else is waiting and the caller is not queued.
	NoMatch PairStatus = iota
	// Matched means an opponent was found and both entries were removed.
	Matched
	// AlreadyQueued means the caller is waiting and nobody else is.
	AlreadyQueued
)

func (s PairStatus) String() string {
	switch s {
	case Matched:
		return "matched"
	case AlreadyQueued:
		return "already_queued"
	default:
		return "no_match"
	}
}

// Entry is one player waiting for an opponent
type Entry struct {
	PlayerID   string        `json:"player_id"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	TTL        time.Duration `json:"ttl"`
}

// ExpiresAt returns the moment the entry stops being eligible.
func (e Entry) ExpiresAt() time.Time {
	return e.EnqueuedAt.Add(e.TTL)
}

// Expired reports whether the entry is older than its own ttl.
func (e Entry) Expired(now time.Time) bool {
	return now.Sub(e.EnqueuedAt) > e.TTL
}

// PairResult is returned from TryPair
type PairResult struct {
	Status     PairStatus `json:"status"`
	OpponentID string     `json:"opponent_id,omitempty"`
}

// Queue is the process-wide registry of players looking for a game. Expiry is
// lazy: every read or pairing sweeps first, nothing runs in the background.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
	logger  *slog.Logger
}

// NewQueue creates an empty queue
func NewQueue(logger *slog.Logger) *Queue {
	return &Queue{
		now:    time.Now,
		logger: logger,
	}
}

// SetClock replaces the time source.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// Enqueue adds the player or refreshes their existing entry in place, keeping
// their position in scan order.
func (q *Queue) Enqueue(playerID string, ttl time.Duration) (Entry, error) {
	if playerID == "" {
		return Entry{}, domain.ErrMissingPlayerID
	}
	if ttl <= 0 {
		return Entry{}, domain.ErrInvalidTTL
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	entry := Entry{PlayerID: playerID, EnqueuedAt: q.now(), TTL: ttl}
	if i := q.indexOf(playerID); i >= 0 {
		q.entries[i] = entry
	} else {
		q.entries = append(q.entries, entry)
	}
	q.logger.Info("player queued", "player_id", playerID, "ttl", ttl)
	return entry, nil
}

// TryPair looks for the first eligible opponent in scan order. On a match both
// the caller's entry (if any) and the opponent's entry are removed.
func (q *Queue) TryPair(playerID string) PairResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.sweepLocked()

	for _, e := range q.entries {
		if e.PlayerID == playerID {
			continue
		}
		q.removeLocked(e.PlayerID)
		q.removeLocked(playerID)
		q.logger.Info("players paired", "player_id", playerID, "opponent_id", e.PlayerID)
		return PairResult{Status: Matched, OpponentID: e.PlayerID}
	}

	if q.indexOf(playerID) >= 0 {
		return PairResult{Status: AlreadyQueued}
	}
	return PairResult{Status: NoMatch}
}

// Cancel removes the player's entry.
func (q *Queue) Cancel(playerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.removeLocked(playerID) {
		return domain.ErrNotQueued
	}
	q.logger.Info("player left queue", "player_id", playerID)
	return nil
}

// SweepExpired removes every entry older than its ttl and returns how many were dropped.
func (q *Queue) SweepExpired() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sweepLocked()
}

// PeekAnyActive reports whether anyone is currently waiting.
func (q *Queue) PeekAnyActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sweepLocked()
	return len(q.entries) > 0
}

// Entries returns a copy of the active entries in scan order.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sweepLocked()
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Len returns the number of active entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sweepLocked()
	return len(q.entries)
}

func (q *Queue) sweepLocked() int {
	now := q.now()
	kept := q.entries[:0]
	dropped := 0
	for _, e := range q.entries {
		if e.Expired(now) {
			dropped++
			q.logger.Debug("queue entry expired", "player_id", e.PlayerID)
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	return dropped
}

func (q *Queue) indexOf(playerID string) int {
	for i, e := range q.entries {
		if e.PlayerID == playerID {
			return i
		}
	}
	return -1
}

func (q *Queue) removeLocked(playerID string) bool {
	i := q.indexOf(playerID)
	if i < 0 {
		return false
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	return true
}
