package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event types published to the ledger event log and the live feed
const (
	EventMatchRecorded       = "match_recorded"
	EventRatingUpdated       = "rating_updated"
	EventTournamentCreated   = "tournament_created"
	EventRegistrationChanged = "registration_changed"
	EventTournamentStarted   = "tournament_started"
	EventResultReported      = "result_reported"
	EventRoundAdvanced       = "round_advanced"
	EventTournamentDone      = "tournament_completed"
	EventQueueChanged        = "queue_changed"
)

// Event is an append-only record of something that changed.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Subject   string      `json:"subject"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(eventType, subject string, data interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
	}
}
