package matchmaking

import (
	"log/slog"
	"sync"
	"time"

	"github.com/summit-bot/internal/domain"
)

// DefaultChallengeTimeout is how long a direct challenge stays open.
const DefaultChallengeTimeout = 5 * time.Minute

// Challenge is a point-to-point match invitation
type Challenge struct {
	ChallengerID string    `json:"challenger_id"`
	ChallengedID string    `json:"challenged_id"`
	IssuedAt     time.Time `json:"issued_at"`
}

type challengeKey struct {
	challenger string
	challenged string
}

// Challenges tracks open invitations. Like the queue, expiry is checked lazily
// when a challenge is touched.
type Challenges struct {
	mu      sync.Mutex
	open    map[challengeKey]Challenge
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewChallenges creates an empty registry; a non-positive timeout uses the default.
func NewChallenges(timeout time.Duration, logger *slog.Logger) *Challenges {
	if timeout <= 0 {
		timeout = DefaultChallengeTimeout
	}
	return &Challenges{
		open:    make(map[challengeKey]Challenge),
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

// SetClock replaces the time source.
func (c *Challenges) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Issue opens (or re-opens) a challenge from challenger to challenged.
func (c *Challenges) Issue(challengerID, challengedID string) (Challenge, error) {
	if challengerID == "" || challengedID == "" {
		return Challenge{}, domain.ErrMissingPlayerID
	}
	if challengerID == challengedID {
		return Challenge{}, domain.ErrSelfChallenge
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := Challenge{ChallengerID: challengerID, ChallengedID: challengedID, IssuedAt: c.now()}
	c.open[challengeKey{challengerID, challengedID}] = ch
	c.logger.Info("challenge issued", "challenger_id", challengerID, "challenged_id", challengedID)
	return ch, nil
}

// Accept closes the challenge and returns it so the caller can set up the match.
func (c *Challenges) Accept(challengedID, challengerID string) (Challenge, error) {
	ch, err := c.take(challengedID, challengerID)
	if err != nil {
		return Challenge{}, err
	}
	c.logger.Info("challenge accepted", "challenger_id", challengerID, "challenged_id", challengedID)
	return ch, nil
}

// Decline closes the challenge without a match.
func (c *Challenges) Decline(challengedID, challengerID string) (Challenge, error) {
	ch, err := c.take(challengedID, challengerID)
	if err != nil {
		return Challenge{}, err
	}
	c.logger.Info("challenge declined", "challenger_id", challengerID, "challenged_id", challengedID)
	return ch, nil
}

// Pending returns the open, unexpired challenges addressed to a player.
func (c *Challenges) Pending(challengedID string) []Challenge {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var out []Challenge
	for key, ch := range c.open {
		if c.expired(ch, now) {
			delete(c.open, key)
			continue
		}
		if ch.ChallengedID == challengedID {
			out = append(out, ch)
		}
	}
	return out
}

func (c *Challenges) take(challengedID, challengerID string) (Challenge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := challengeKey{challengerID, challengedID}
	ch, ok := c.open[key]
	if !ok {
		return Challenge{}, domain.ErrChallengeNotFound
	}
	delete(c.open, key)
	if c.expired(ch, c.now()) {
		return Challenge{}, domain.ErrChallengeExpired
	}
	return ch, nil
}

func (c *Challenges) expired(ch Challenge, now time.Time) bool {
	return now.Sub(ch.IssuedAt) > c.timeout
}
