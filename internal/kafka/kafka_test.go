package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/summit-bot/internal/config"
	"github.com/summit-bot/internal/domain"
	"github.com/summit-bot/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecodeResult(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		wantKind domain.MatchKind
		wantErr  bool
	}{
		{
			name:     "paired",
			value:    `{"kind":"paired","paired":{"reporter_id":"1","winner_id":"1","loser_id":"2","details":{"first_player":"y"}}}`,
			wantKind: domain.MatchKindPaired,
		},
		{
			name:     "solo",
			value:    `{"kind":"solo","solo":{"reporter_id":"1","opponent_name":"Someone","is_winner":true}}`,
			wantKind: domain.MatchKindSolo,
		},
		{name: "unknown kind", value: `{"kind":"draw"}`, wantErr: true},
		{name: "missing payload", value: `{"kind":"paired"}`, wantErr: true},
		{name: "missing loser", value: `{"kind":"paired","paired":{"reporter_id":"1","winner_id":"1"}}`, wantErr: true},
		{name: "not json", value: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := DecodeResult([]byte(tt.value))
			if tt.wantErr {
				if !domain.IsValidationError(err) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Kind() != tt.wantKind {
				t.Errorf("kind = %s, want %s", result.Kind(), tt.wantKind)
			}
		})
	}
}

type flakyHandler struct {
	failures int
	err      error
	recorded []domain.MatchResult
	calls    int
}

func (h *flakyHandler) Record(_ context.Context, result domain.MatchResult) error {
	h.calls++
	if h.failures > 0 {
		h.failures--
		return h.err
	}
	h.recorded = append(h.recorded, result)
	return nil
}

func (h *flakyHandler) ApplyRating(context.Context, domain.PairedMatch) (*service.RatingChange, error) {
	return nil, errors.New("not expected")
}

// splitLedger stores the record on the first Record call and then fails the
// rating step ratingFailures times, like a ledger whose rating write is down.
type splitLedger struct {
	ratingFailures int
	rows           int
	recordCalls    int
	applyCalls     int
	rating         int
}

func (l *splitLedger) Record(_ context.Context, result domain.MatchResult) error {
	l.recordCalls++
	match := result.(domain.PairedMatch)
	l.rows++
	if err := l.rate(); err != nil {
		return &domain.RatingUpdateError{MatchID: int64(l.rows), Match: match, Err: err}
	}
	return nil
}

func (l *splitLedger) ApplyRating(context.Context, domain.PairedMatch) (*service.RatingChange, error) {
	l.applyCalls++
	if err := l.rate(); err != nil {
		return nil, err
	}
	return &service.RatingChange{Before: 1500, After: l.rating}, nil
}

func (l *splitLedger) rate() error {
	if l.ratingFailures > 0 {
		l.ratingFailures--
		return domain.ExternalError("writing rating", errors.New("connection reset"))
	}
	l.rating = 1516
	return nil
}

func TestProcessBatchRetriesExternalErrors(t *testing.T) {
	handler := &flakyHandler{failures: 2, err: domain.ExternalError("inserting", errors.New("connection reset"))}
	c := &Consumer{
		config:  &config.KafkaConfig{RetryAttempts: 3},
		handler: handler,
		logger:  discardLogger(),
	}

	c.processBatch([]domain.MatchResult{domain.SoloMatch{ReporterID: "1"}})

	if len(handler.recorded) != 1 || handler.calls != 3 {
		t.Errorf("expected success on third attempt, calls=%d recorded=%d", handler.calls, len(handler.recorded))
	}
}

func TestProcessBatchResumesRatingWithoutReinserting(t *testing.T) {
	ledger := &splitLedger{ratingFailures: 2}
	c := &Consumer{
		config:  &config.KafkaConfig{RetryAttempts: 3},
		handler: ledger,
		logger:  discardLogger(),
	}

	c.processBatch([]domain.MatchResult{domain.PairedMatch{
		ReporterID: "a", WinnerID: "a", LoserID: "b",
	}})

	if ledger.rows != 1 || ledger.recordCalls != 1 {
		t.Errorf("match stored %d times over %d record calls, want 1", ledger.rows, ledger.recordCalls)
	}
	if ledger.applyCalls != 2 {
		t.Errorf("expected two rating retries, got %d", ledger.applyCalls)
	}
	if ledger.rating != 1516 {
		t.Errorf("rating = %d, want 1516", ledger.rating)
	}
}

func TestProcessBatchDoesNotRetryValidation(t *testing.T) {
	handler := &flakyHandler{failures: 1, err: domain.ErrMissingPlayerID}
	c := &Consumer{
		config:  &config.KafkaConfig{RetryAttempts: 3},
		handler: handler,
		logger:  discardLogger(),
	}

	c.processBatch([]domain.MatchResult{
		domain.SoloMatch{ReporterID: "1"},
		domain.SoloMatch{ReporterID: "2"},
	})

	if handler.calls != 2 || len(handler.recorded) != 1 || handler.recorded[0].Reporter() != "2" {
		t.Errorf("expected one failure and one success, calls=%d recorded=%v", handler.calls, handler.recorded)
	}
}

func TestPublisherSendsEvent(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event domain.Event
		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}
		if event.Type != domain.EventMatchRecorded || event.Subject != "42" {
			return fmt.Errorf("unexpected event %+v", event)
		}
		return nil
	})

	p := NewPublisherWithProducer(producer, "ledger-events", discardLogger())
	if err := p.Publish(context.Background(), domain.NewEvent(domain.EventMatchRecorded, "42", nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPublisherWrapsFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewPublisherWithProducer(producer, "ledger-events", discardLogger())
	err := p.Publish(context.Background(), domain.NewEvent(domain.EventRoundAdvanced, "tournament:cup", nil))
	if !errors.Is(err, domain.ErrExternalService) || !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
	p.Close()
}
