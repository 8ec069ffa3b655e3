package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/summit-bot/internal/domain"
	"github.com/summit-bot/internal/matchmaking"
	"github.com/summit-bot/internal/tournament"
	"github.com/summit-bot/internal/websocket"
)

// Ledger is the part of the match ledger the API exposes
type Ledger interface {
	Record(ctx context.Context, result domain.MatchResult) error
	TopRatings(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
	RatingOf(ctx context.Context, playerID string) (*domain.PlayerRating, error)
	GetAggregateStats(ctx context.Context, playerID string) (*domain.PlayerStats, error)
	GetMatchesFor(ctx context.Context, playerID string, limit int, order domain.RecordOrder) ([]domain.MatchRecord, error)
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the community API
type Handler struct {
	ledger      Ledger
	tournaments *tournament.Manager
	queue       *matchmaking.Queue
	hub         *websocket.Hub
	checks      map[string]Pinger
	apiKey      string
	logger      *slog.Logger
}

var (
	errSubmissionDisabled = errors.New("match submission is disabled")
	errUnauthorized       = errors.New("missing or invalid api key")
)

// NewHandler creates a new HTTP handler
func NewHandler(
	ledger Ledger,
	tournaments *tournament.Manager,
	queue *matchmaking.Queue,
	hub *websocket.Hub,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		ledger:      ledger,
		tournaments: tournaments,
		queue:       queue,
		hub:         hub,
		checks:      make(map[string]Pinger),
		logger:      logger,
	}
}

// AddReadinessCheck registers a dependency for /ready
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.checks[name] = p
}

// SetAPIKey sets the shared secret required on write routes. With no key
// configured the write routes refuse every request.
func (h *Handler) SetAPIKey(key string) {
	h.apiKey = key
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/leaderboard", h.GetLeaderboard)
		r.With(h.requireAPIKey).Post("/matches", h.SubmitMatch)

		r.Route("/players/{playerID}", func(r chi.Router) {
			r.Get("/rating", h.GetPlayerRating)
			r.Get("/stats", h.GetPlayerStats)
			r.Get("/matches", h.GetPlayerMatches)
		})

		r.Route("/tournaments", func(r chi.Router) {
			r.Get("/", h.ListTournaments)
			r.Get("/{name}", h.GetTournament)
			r.Get("/{name}/round", h.GetRoundStatus)
		})

		r.Get("/queue", h.GetQueue)

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-API-Key, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAPIKey guards routes that write to the ledger. The key is read from
// the X-API-Key header.
func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiKey == "" {
			h.writeError(w, http.StatusForbidden, errSubmissionDisabled)
			return
		}
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(h.apiKey)) != 1 {
			h.writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeDomainError maps an error category to a status code. Unexpected
// errors are logged and hidden from the client.
func (h *Handler) writeDomainError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsValidationError(err):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case domain.IsStateConflictError(err):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrExternalService):
		h.logger.Error("dependency failure", "op", op, "error", err)
		h.writeError(w, http.StatusBadGateway, domain.ErrExternalService)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
		"leaderboard":       h.hub.GetSubscriberCount(websocket.TopicLeaderboard),
		"queue":             h.hub.GetSubscriberCount(websocket.TopicQueue),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck pings every registered dependency
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	status := make(map[string]string, len(h.checks))
	ready := true
	for name, p := range h.checks {
		if err := p.Ping(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", "dependency", name, "error", err)
			status[name] = "unavailable"
			ready = false
			continue
		}
		status[name] = "ok"
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{Success: false, Data: status, Error: "not ready"})
		return
	}
	h.writeSuccess(w, status)
}

// GetLeaderboard returns the top rated players
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.TopRatings(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		h.writeDomainError(w, "get leaderboard", err)
		return
	}
	h.writeSuccess(w, entries)
}

// SubmitMatch accepts a tagged match result
func (h *Handler) SubmitMatch(w http.ResponseWriter, r *http.Request) {
	var envelope domain.MatchEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, err := envelope.Result()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	err = h.ledger.Record(r.Context(), result)
	var partial *domain.RatingUpdateError
	if errors.As(err, &partial) {
		// Stored already; a client retry would duplicate the match.
		h.logger.Error("match stored without rating update", "match_id", partial.MatchID, "error", partial.Err)
		h.writeJSON(w, http.StatusAccepted, APIResponse{
			Success: true,
			Data:    map[string]string{"status": "recorded", "kind": string(result.Kind()), "rating": "not_updated"},
		})
		return
	}
	if err != nil {
		h.writeDomainError(w, "submit match", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    map[string]string{"status": "recorded", "kind": string(result.Kind())},
	})
}

// GetPlayerRating returns a player's rating and rank
func (h *Handler) GetPlayerRating(w http.ResponseWriter, r *http.Request) {
	rating, err := h.ledger.RatingOf(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeDomainError(w, "get rating", err)
		return
	}
	h.writeSuccess(w, rating)
}

// GetPlayerStats returns a player's aggregate stats
func (h *Handler) GetPlayerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.GetAggregateStats(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		h.writeDomainError(w, "get stats", err)
		return
	}
	h.writeSuccess(w, stats)
}

// GetPlayerMatches returns a player's match history
func (h *Handler) GetPlayerMatches(w http.ResponseWriter, r *http.Request) {
	order := domain.RecordOrder(r.URL.Query().Get("order"))
	records, err := h.ledger.GetMatchesFor(r.Context(), chi.URLParam(r, "playerID"), queryInt(r, "limit", 0), order)
	if err != nil {
		h.writeDomainError(w, "get matches", err)
		return
	}
	h.writeSuccess(w, records)
}

// tournamentView adds the id, which the snapshot format keeps as the map key
type tournamentView struct {
	ID int `json:"id"`
	domain.Tournament
}

// ListTournaments returns every tournament
func (h *Handler) ListTournaments(w http.ResponseWriter, r *http.Request) {
	list := h.tournaments.List()
	views := make([]tournamentView, 0, len(list))
	for _, t := range list {
		views = append(views, tournamentView{ID: t.ID, Tournament: t})
	}
	h.writeSuccess(w, views)
}

// GetTournament returns one tournament by name or slug
func (h *Handler) GetTournament(w http.ResponseWriter, r *http.Request) {
	t, err := h.tournaments.Get(chi.URLParam(r, "name"))
	if err != nil {
		h.writeDomainError(w, "get tournament", err)
		return
	}
	h.writeSuccess(w, tournamentView{ID: t.ID, Tournament: t})
}

// GetRoundStatus returns progress of the current round
func (h *Handler) GetRoundStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.tournaments.RoundStatus(chi.URLParam(r, "name"))
	if err != nil {
		h.writeDomainError(w, "get round status", err)
		return
	}
	h.writeSuccess(w, status)
}

// GetQueue returns the players currently looking for a game
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	entries := h.queue.Entries()
	h.writeSuccess(w, map[string]interface{}{
		"waiting": len(entries),
		"entries": entries,
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}
