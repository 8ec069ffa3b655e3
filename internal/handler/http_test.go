package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/summit-bot/internal/domain"
	"github.com/summit-bot/internal/matchmaking"
	"github.com/summit-bot/internal/tournament"
	"github.com/summit-bot/internal/websocket"
)

type fakeLedger struct {
	recorded []domain.MatchResult
	entries  []domain.LeaderboardEntry
	ratings  map[string]*domain.PlayerRating
	err      error
	limit    int
	order    domain.RecordOrder
}

func (f *fakeLedger) Record(_ context.Context, result domain.MatchResult) error {
	if f.err != nil {
		return f.err
	}
	f.recorded = append(f.recorded, result)
	return nil
}

func (f *fakeLedger) TopRatings(_ context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	f.limit = limit
	return f.entries, f.err
}

func (f *fakeLedger) RatingOf(_ context.Context, playerID string) (*domain.PlayerRating, error) {
	r, ok := f.ratings[playerID]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	return r, nil
}

func (f *fakeLedger) GetAggregateStats(_ context.Context, playerID string) (*domain.PlayerStats, error) {
	return nil, domain.ErrNoMatches
}

func (f *fakeLedger) GetMatchesFor(_ context.Context, playerID string, limit int, order domain.RecordOrder) ([]domain.MatchRecord, error) {
	f.limit = limit
	f.order = order
	return []domain.MatchRecord{}, nil
}

type memoryStore struct{ blob []byte }

func (s *memoryStore) LoadSnapshot(context.Context, string) ([]byte, bool, error) {
	return s.blob, s.blob != nil, nil
}

func (s *memoryStore) SaveSnapshot(_ context.Context, _ string, blob []byte) error {
	s.blob = blob
	return nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestHandler(t *testing.T) (*Handler, *fakeLedger) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := &fakeLedger{ratings: make(map[string]*domain.PlayerRating)}
	manager := tournament.NewManager(&memoryStore{}, "tournaments", nil, nil, logger)
	h := NewHandler(ledger, manager, matchmaking.NewQueue(logger), websocket.NewHub(logger), logger)
	h.SetAPIKey(testAPIKey)
	return h, ledger
}

const testAPIKey = "test-key"

func do(t *testing.T, h *Handler, method, target, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func TestHealthCheck(t *testing.T) {
	h, _ := newTestHandler(t)
	rec, resp := do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("got %d %+v", rec.Code, resp)
	}
}

func TestReadyCheck(t *testing.T) {
	h, _ := newTestHandler(t)
	h.AddReadinessCheck("postgres", fakePinger{})
	if rec, _ := do(t, h, http.MethodGet, "/ready", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	h.AddReadinessCheck("redis", fakePinger{err: errors.New("connection refused")})
	rec, resp := do(t, h, http.MethodGet, "/ready", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	status := resp.Data.(map[string]interface{})
	if status["redis"] != "unavailable" || status["postgres"] != "ok" {
		t.Errorf("status = %v", status)
	}
}

func TestSubmitMatch(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{
			name:   "paired",
			body:   `{"kind":"paired","paired":{"reporter_id":"1","winner_id":"1","loser_id":"2","reporter_won":true}}`,
			status: http.StatusCreated,
		},
		{
			name:   "solo",
			body:   `{"kind":"solo","solo":{"reporter_id":"1","opponent_name":"bob","is_winner":false}}`,
			status: http.StatusCreated,
		},
		{
			name:   "malformed json",
			body:   `{"kind":`,
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown kind",
			body:   `{"kind":"draft"}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "store down",
			body:   `{"kind":"solo","solo":{"reporter_id":"1"}}`,
			err:    domain.ExternalError("inserting solo match", errors.New("dial tcp: refused")),
			status: http.StatusBadGateway,
		},
		{
			name:   "contention",
			body:   `{"kind":"paired","paired":{"reporter_id":"1","winner_id":"1","loser_id":"2"}}`,
			err:    domain.ErrRatingContention,
			status: http.StatusConflict,
		},
		{
			name:   "stored without rating",
			body:   `{"kind":"paired","paired":{"reporter_id":"1","winner_id":"1","loser_id":"2"}}`,
			err:    &domain.RatingUpdateError{MatchID: 7, Err: domain.ErrRatingContention},
			status: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ledger := newTestHandler(t)
			ledger.err = tt.err
			rec, resp := do(t, h, http.MethodPost, "/api/v1/matches", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%+v)", rec.Code, tt.status, resp)
			}
			if tt.status == http.StatusCreated && len(ledger.recorded) != 1 {
				t.Errorf("recorded %d results, want 1", len(ledger.recorded))
			}
		})
	}
}

func TestSubmitMatchRequiresAPIKey(t *testing.T) {
	body := `{"kind":"solo","solo":{"reporter_id":"1","opponent_name":"bob"}}`
	tests := []struct {
		name       string
		configured string
		sent       string
		status     int
	}{
		{name: "missing key", configured: testAPIKey, status: http.StatusUnauthorized},
		{name: "wrong key", configured: testAPIKey, sent: "guess", status: http.StatusUnauthorized},
		{name: "right key", configured: testAPIKey, sent: testAPIKey, status: http.StatusCreated},
		{name: "no key configured", sent: "anything", status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ledger := newTestHandler(t)
			h.SetAPIKey(tt.configured)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/matches", strings.NewReader(body))
			if tt.sent != "" {
				req.Header.Set("X-API-Key", tt.sent)
			}
			rec := httptest.NewRecorder()
			h.Router().ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status != http.StatusCreated && len(ledger.recorded) != 0 {
				t.Errorf("rejected request reached the ledger")
			}
		})
	}
}

func TestUnexpectedErrorIsHidden(t *testing.T) {
	h, ledger := newTestHandler(t)
	ledger.err = errors.New("nil map write")
	rec, resp := do(t, h, http.MethodGet, "/api/v1/leaderboard", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if resp.Error != domain.ErrInternalError.Error() {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestGetLeaderboardPassesLimit(t *testing.T) {
	h, ledger := newTestHandler(t)
	ledger.entries = []domain.LeaderboardEntry{{Rank: 1, PlayerID: "1", Rating: 1516}}
	rec, _ := do(t, h, http.MethodGet, "/api/v1/leaderboard?limit=25", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ledger.limit != 25 {
		t.Errorf("limit = %d, want 25", ledger.limit)
	}

	do(t, h, http.MethodGet, "/api/v1/leaderboard?limit=abc", "")
	if ledger.limit != 0 {
		t.Errorf("invalid limit passed through as %d", ledger.limit)
	}
}

func TestPlayerEndpoints(t *testing.T) {
	h, ledger := newTestHandler(t)
	ledger.ratings["42"] = &domain.PlayerRating{PlayerID: "42", Rating: 1484, Rank: 3}

	if rec, _ := do(t, h, http.MethodGet, "/api/v1/players/42/rating", ""); rec.Code != http.StatusOK {
		t.Errorf("rating status = %d", rec.Code)
	}
	if rec, _ := do(t, h, http.MethodGet, "/api/v1/players/7/rating", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown rating status = %d", rec.Code)
	}
	if rec, _ := do(t, h, http.MethodGet, "/api/v1/players/42/stats", ""); rec.Code != http.StatusNotFound {
		t.Errorf("stats without matches status = %d", rec.Code)
	}

	rec, _ := do(t, h, http.MethodGet, "/api/v1/players/42/matches?limit=5&order=oldest_first", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("matches status = %d", rec.Code)
	}
	if ledger.limit != 5 || ledger.order != domain.OrderOldestFirst {
		t.Errorf("limit=%d order=%q", ledger.limit, ledger.order)
	}
}

func TestTournamentEndpoints(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()
	if _, err := h.tournaments.Create(ctx, "Summer Open", "constructed", 4); err != nil {
		t.Fatal(err)
	}
	if _, err := h.tournaments.Join(ctx, "Summer Open", "1"); err != nil {
		t.Fatal(err)
	}

	rec, resp := do(t, h, http.MethodGet, "/api/v1/tournaments/summer-open", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	view := resp.Data.(map[string]interface{})
	if view["name"] != "Summer Open" || view["id"].(float64) != 1 {
		t.Errorf("view = %v", view)
	}

	rec, resp = do(t, h, http.MethodGet, "/api/v1/tournaments/", "")
	if rec.Code != http.StatusOK || len(resp.Data.([]interface{})) != 1 {
		t.Errorf("list = %d %+v", rec.Code, resp)
	}

	if rec, _ := do(t, h, http.MethodGet, "/api/v1/tournaments/winter", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown tournament status = %d", rec.Code)
	}
}

func TestGetQueue(t *testing.T) {
	h, _ := newTestHandler(t)
	if _, err := h.queue.Enqueue("1", 30*time.Minute); err != nil {
		t.Fatal(err)
	}
	_, resp := do(t, h, http.MethodGet, "/api/v1/queue", "")
	data := resp.Data.(map[string]interface{})
	if data["waiting"].(float64) != 1 {
		t.Errorf("waiting = %v", data["waiting"])
	}
}
