package domain

import (
	"errors"
	"fmt"
)

// Error categories. Every specific error below wraps exactly one of them.
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrStateConflict   = errors.New("state conflict")
	ErrExternalService = errors.New("external service error")
)

// ErrInternalError is reported to clients in place of unexpected failures
var ErrInternalError = errors.New("internal server error")

// Domain errors
var (
	ErrInvalidRequest   = fmt.Errorf("%w: invalid request", ErrValidation)
	ErrInvalidKFactor   = fmt.Errorf("%w: k-factor must be greater than zero", ErrValidation)
	ErrInvalidTTL       = fmt.Errorf("%w: queue time must be positive", ErrValidation)
	ErrEmptyName        = fmt.Errorf("%w: tournament name is required", ErrValidation)
	ErrNotPowerOfTwo    = fmt.Errorf("%w: maximum players must be a power of 2 (4, 8, 16, 32, etc)", ErrValidation)
	ErrSelfChallenge    = fmt.Errorf("%w: you cannot challenge yourself", ErrValidation)
	ErrMissingPlayerID  = fmt.Errorf("%w: player id is required", ErrValidation)
	ErrUnknownMatchKind = fmt.Errorf("%w: unknown match result kind", ErrValidation)

	ErrPlayerNotFound     = fmt.Errorf("%w: player rating", ErrNotFound)
	ErrTournamentNotFound = fmt.Errorf("%w: tournament", ErrNotFound)
	ErrMatchNotFound      = fmt.Errorf("%w: match", ErrNotFound)
	ErrNotQueued          = fmt.Errorf("%w: player is not in the queue", ErrNotFound)
	ErrChallengeNotFound  = fmt.Errorf("%w: challenge", ErrNotFound)
	ErrNoMatches          = fmt.Errorf("%w: no matches recorded", ErrNotFound)

	ErrTournamentExists   = fmt.Errorf("%w: a tournament with that name already exists", ErrStateConflict)
	ErrNotRegistering     = fmt.Errorf("%w: tournament is not accepting registrations", ErrStateConflict)
	ErrTournamentFull     = fmt.Errorf("%w: tournament is full", ErrStateConflict)
	ErrAlreadyRegistered  = fmt.Errorf("%w: player is already registered", ErrStateConflict)
	ErrNotRegistered      = fmt.Errorf("%w: player is not registered", ErrStateConflict)
	ErrNotEnoughPlayers   = fmt.Errorf("%w: not enough players to start tournament", ErrStateConflict)
	ErrNotInProgress      = fmt.Errorf("%w: tournament is not in progress", ErrStateConflict)
	ErrMatchCompleted     = fmt.Errorf("%w: match has already been reported", ErrStateConflict)
	ErrNotParticipant     = fmt.Errorf("%w: player is not part of this match", ErrStateConflict)
	ErrMatchesPending     = fmt.Errorf("%w: matches are still pending", ErrStateConflict)
	ErrBracketUnresolved  = fmt.Errorf("%w: bracket did not converge to a single final", ErrStateConflict)
	ErrChallengeExpired   = fmt.Errorf("%w: challenge has expired", ErrStateConflict)

	ErrRatingContention = fmt.Errorf("%w: rating changed concurrently, retries exhausted", ErrStateConflict)
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidationError checks if an error was caused by bad input
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsStateConflictError checks if an operation was invalid for the current lifecycle state
func IsStateConflictError(err error) bool {
	return errors.Is(err, ErrStateConflict)
}

// ExternalError wraps a storage or network failure in the external-service category.
func ExternalError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrExternalService, err)
}

// RatingUpdateError reports a paired match that was stored but whose
// reporter rating was not moved. Retrying the whole report would store the
// match twice; only the rating step may be repeated.
type RatingUpdateError struct {
	MatchID int64
	Match   PairedMatch
	Err     error
}

func (e *RatingUpdateError) Error() string {
	return fmt.Sprintf("match %d recorded but rating not updated: %v", e.MatchID, e.Err)
}

func (e *RatingUpdateError) Unwrap() error {
	return e.Err
}
