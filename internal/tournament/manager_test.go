package tournament

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/summit-bot/internal/domain"
)

type memoryStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	saves   int
	failing bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{blobs: make(map[string][]byte)}
}

func (s *memoryStore) LoadSnapshot(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[key]
	return blob, ok, nil
}

func (s *memoryStore) SaveSnapshot(_ context.Context, key string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("disk full")
	}
	s.saves++
	s.blobs[key] = append([]byte{}, blob...)
	return nil
}

type recordingLedger struct {
	mu      sync.Mutex
	matches []domain.SoloMatch
}

func (l *recordingLedger) RecordSoloMatch(_ context.Context, match domain.SoloMatch) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.matches = append(l.matches, match)
	return nil
}

type staticNames map[string]string

func (n staticNames) DisplayName(_ context.Context, playerID string) (string, error) {
	if name, ok := n[playerID]; ok {
		return name, nil
	}
	return "", domain.ErrPlayerNotFound
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) Publish(_ context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func noShuffle(int, func(i, j int)) {}

func newTestManager() (*Manager, *memoryStore, *recordingLedger) {
	store := newMemoryStore()
	ledger := &recordingLedger{}
	names := staticNames{"p1": "Alice", "p2": "Bob"}
	m := NewManager(store, "tournaments", ledger, names, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.SetShuffle(noShuffle)
	return m, store, ledger
}

func mustJoin(t *testing.T, m *Manager, name string, players ...string) {
	t.Helper()
	for _, p := range players {
		if _, err := m.Join(context.Background(), name, p); err != nil {
			t.Fatalf("join %s: %v", p, err)
		}
	}
}

func TestCreateCapacityValidation(t *testing.T) {
	tests := []struct {
		name       string
		maxPlayers int
		wantErr    error
	}{
		{"six", 6, domain.ErrNotPowerOfTwo},
		{"eight", 8, nil},
		{"two", 2, nil},
		{"one", 1, domain.ErrNotPowerOfTwo},
		{"zero", 0, domain.ErrNotPowerOfTwo},
		{"negative", -4, domain.ErrNotPowerOfTwo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, store, _ := newTestManager()
			_, err := m.Create(context.Background(), "Summit Open", "constructed", tt.maxPlayers)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr != nil {
				if !domain.IsValidationError(err) {
					t.Errorf("expected validation category, got %v", err)
				}
				if store.saves != 0 {
					t.Errorf("rejected create must not persist")
				}
			}
		})
	}
}

func TestCreateRejectsDuplicateNameCaseInsensitive(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	if _, err := m.Create(ctx, "Summit Open", "constructed", 4); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Create(ctx, "summit open", "draft", 8); !errors.Is(err, domain.ErrTournamentExists) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if _, err := m.Create(ctx, "", "draft", 8); !errors.Is(err, domain.ErrEmptyName) {
		t.Fatalf("expected empty name rejection, got %v", err)
	}
}

func TestResetClearsExistingTournaments(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	m.Create(ctx, "Old Cup", "constructed", 4)
	m.Create(ctx, "Older Cup", "constructed", 4)

	created, err := m.Reset(ctx, "New Cup", "draft", 8)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if created.ID != 1 {
		t.Errorf("expected id 1 after reset, got %d", created.ID)
	}
	list := m.List()
	if len(list) != 1 || list[0].Name != "New Cup" {
		t.Fatalf("expected only New Cup, got %+v", list)
	}
	if _, err := m.Get("old cup"); !domain.IsNotFoundError(err) {
		t.Errorf("expected old tournament gone, got %v", err)
	}
}

func TestJoinRules(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	m.Create(ctx, "Cup", "constructed", 2)

	mustJoin(t, m, "cup", "p1")
	if _, err := m.Join(ctx, "Cup", "p1"); !errors.Is(err, domain.ErrAlreadyRegistered) {
		t.Errorf("expected already registered, got %v", err)
	}
	mustJoin(t, m, "Cup", "p2")
	if _, err := m.Join(ctx, "Cup", "p3"); !errors.Is(err, domain.ErrTournamentFull) {
		t.Errorf("expected full, got %v", err)
	}
	if _, err := m.Join(ctx, "Nope", "p3"); !domain.IsNotFoundError(err) {
		t.Errorf("expected not found, got %v", err)
	}

	if _, err := m.Start(ctx, "Cup"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Join(ctx, "Cup", "p3"); !errors.Is(err, domain.ErrNotRegistering) {
		t.Errorf("expected not registering after start, got %v", err)
	}
	if _, err := m.Remove(ctx, "Cup", "p1"); !errors.Is(err, domain.ErrNotRegistering) {
		t.Errorf("expected remove rejected after start, got %v", err)
	}
}

func TestRemoveDuringRegistration(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	m.Create(ctx, "Cup", "constructed", 4)
	mustJoin(t, m, "Cup", "p1", "p2", "p3")
	sink := &recordingSink{}
	m.SetEventSink(sink)

	got, err := m.Remove(ctx, "Cup", "p2")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if strings.Join(got.Players, ",") != "p1,p3" {
		t.Errorf("unexpected players %v", got.Players)
	}
	if _, err := m.Remove(ctx, "Cup", "p2"); !errors.Is(err, domain.ErrNotRegistered) {
		t.Errorf("expected not registered, got %v", err)
	}

	// Only the successful removal is announced.
	if types := sink.types(); len(types) != 1 || types[0] != domain.EventRegistrationChanged {
		t.Fatalf("events = %v, want one registration change", types)
	}
	event := sink.events[0]
	if event.Subject != "tournament:cup" {
		t.Errorf("unexpected topic %q", event.Subject)
	}
	if players := event.Data.(domain.Tournament).Players; strings.Join(players, ",") != "p1,p3" {
		t.Errorf("event carries players %v", players)
	}
}

func TestStartRequiresTwoPlayers(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	m.Create(ctx, "Cup", "constructed", 4)
	mustJoin(t, m, "Cup", "p1")

	if _, err := m.Start(ctx, "Cup"); !errors.Is(err, domain.ErrNotEnoughPlayers) {
		t.Fatalf("expected not enough players, got %v", err)
	}
}

func TestFullLifecycle(t *testing.T) {
	m, store, ledger := newTestManager()
	sink := &recordingSink{}
	m.SetEventSink(sink)
	ctx := context.Background()

	m.Create(ctx, "Cup", "constructed", 4)
	mustJoin(t, m, "Cup", "p1", "p2", "p3", "p4")

	started, err := m.Start(ctx, "Cup")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != domain.TournamentInProgress {
		t.Fatalf("expected in progress, got %s", started.Status)
	}
	if len(started.Matches) != 2 {
		t.Fatalf("expected 2 round 1 matches, got %d", len(started.Matches))
	}
	if started.Matches[0].ID != 1 || started.Matches[1].ID != 2 {
		t.Errorf("expected sequential ids, got %d and %d", started.Matches[0].ID, started.Matches[1].ID)
	}

	// p1 beats p2, p4 beats p3 (reported by the loser).
	out, err := m.ReportResult(ctx, "Cup", 1, "p1", true, domain.ReportDetails{FirstPlayer: "y", MatchTime: "25", Comment: "close"})
	if err != nil {
		t.Fatalf("report 1: %v", err)
	}
	if len(out.NextRound) != 0 {
		t.Fatalf("round should not advance with a pending match")
	}
	out, err = m.ReportResult(ctx, "Cup", 2, "p3", false, domain.ReportDetails{})
	if err != nil {
		t.Fatalf("report 2: %v", err)
	}
	if *out.Match.Winner != "p4" {
		t.Errorf("expected p4 to win match 2, got %s", *out.Match.Winner)
	}
	if len(out.NextRound) != 1 {
		t.Fatalf("expected 1 round 2 match, got %d", len(out.NextRound))
	}
	final := out.NextRound[0]
	if final.ID != 3 || final.Round != 2 || final.Player1 != "p1" || final.Player2 != "p4" {
		t.Fatalf("unexpected final %+v", final)
	}

	if _, err := m.Complete(ctx, "Cup"); !errors.Is(err, domain.ErrMatchesPending) {
		t.Fatalf("expected pending rejection, got %v", err)
	}

	assignment, err := m.PlayerMatch("p4")
	if err != nil || assignment.Match.ID != 3 {
		t.Fatalf("expected p4 assigned to match 3, got %+v %v", assignment, err)
	}

	if _, err := m.ReportResult(ctx, "Cup", 3, "p4", true, domain.ReportDetails{}); err != nil {
		t.Fatalf("report final: %v", err)
	}

	status, err := m.RoundStatus("Cup")
	if err != nil {
		t.Fatalf("round status: %v", err)
	}
	if status.Round != 2 || !status.RoundComplete || !status.ReadyToFinish {
		t.Errorf("unexpected status %+v", status)
	}

	done, err := m.Complete(ctx, "Cup")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.TournamentCompleted || done.Winner == nil || *done.Winner != "p4" {
		t.Fatalf("expected p4 champion, got %+v", done)
	}
	if _, err := m.Complete(ctx, "Cup"); !errors.Is(err, domain.ErrNotInProgress) {
		t.Errorf("expected second complete rejected, got %v", err)
	}

	if len(ledger.matches) != 3 {
		t.Fatalf("expected 3 ledger records, got %d", len(ledger.matches))
	}
	first := ledger.matches[0]
	if first.ReporterName != "Alice" || first.OpponentName != "Bob" || !first.IsWinner {
		t.Errorf("unexpected ledger record %+v", first)
	}
	if first.Details.Comment != "[Tournament: Cup] close" || first.Details.Duration != "25" {
		t.Errorf("unexpected ledger details %+v", first.Details)
	}
	if ledger.matches[1].OpponentName != "p4" {
		t.Errorf("unresolved opponent should fall back to id, got %q", ledger.matches[1].OpponentName)
	}

	if store.saves == 0 {
		t.Error("expected snapshots to be saved")
	}
	want := []string{
		domain.EventTournamentCreated,
		domain.EventRegistrationChanged,
		domain.EventRegistrationChanged,
		domain.EventRegistrationChanged,
		domain.EventRegistrationChanged,
		domain.EventTournamentStarted,
		domain.EventResultReported,
		domain.EventResultReported,
		domain.EventRoundAdvanced,
		domain.EventResultReported,
		domain.EventTournamentDone,
	}
	if got := sink.types(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
	if sink.events[0].Subject != "tournament:cup" {
		t.Errorf("unexpected topic %q", sink.events[0].Subject)
	}
}

func TestReportTwiceRejected(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	m.Create(ctx, "Cup", "constructed", 4)
	mustJoin(t, m, "Cup", "p1", "p2", "p3", "p4")
	m.Start(ctx, "Cup")

	if _, err := m.ReportResult(ctx, "Cup", 1, "p1", true, domain.ReportDetails{}); err != nil {
		t.Fatalf("first report: %v", err)
	}
	_, err := m.ReportResult(ctx, "Cup", 1, "p2", true, domain.ReportDetails{})
	if !errors.Is(err, domain.ErrMatchCompleted) || !domain.IsStateConflictError(err) {
		t.Fatalf("expected state conflict, got %v", err)
	}

	got, _ := m.Get("Cup")
	if w := got.Match(1).Winner; w == nil || *w != "p1" {
		t.Errorf("winner changed after rejected report: %v", w)
	}
}

func TestReportRejectsOutsider(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	m.Create(ctx, "Cup", "constructed", 4)
	mustJoin(t, m, "Cup", "p1", "p2", "p3", "p4")
	m.Start(ctx, "Cup")

	if _, err := m.ReportResult(ctx, "Cup", 1, "p3", true, domain.ReportDetails{}); !errors.Is(err, domain.ErrNotParticipant) {
		t.Errorf("expected not participant, got %v", err)
	}
	if _, err := m.ReportResult(ctx, "Cup", 99, "p1", true, domain.ReportDetails{}); !errors.Is(err, domain.ErrMatchNotFound) {
		t.Errorf("expected match not found, got %v", err)
	}
}

func TestOddPlayerDropped(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	m.Create(ctx, "Cup", "constructed", 4)
	mustJoin(t, m, "Cup", "p1", "p2", "p3")

	started, err := m.Start(ctx, "Cup")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(started.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(started.Matches))
	}
	if started.Matches[0].HasPlayer("p3") {
		t.Errorf("last seed should be dropped, got %+v", started.Matches[0])
	}

	if _, err := m.ReportResult(ctx, "Cup", 1, "p1", true, domain.ReportDetails{}); err != nil {
		t.Fatalf("report: %v", err)
	}
	done, err := m.Complete(ctx, "Cup")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if *done.Winner != "p1" {
		t.Errorf("expected p1, got %s", *done.Winner)
	}
}

func TestCompleteWithDroppedWinner(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	m.Create(ctx, "Cup", "constructed", 8)
	mustJoin(t, m, "Cup", "p1", "p2", "p3", "p4", "p5", "p6")
	m.Start(ctx, "Cup")

	// Three round 1 winners give one round 2 match and one dropped winner.
	m.ReportResult(ctx, "Cup", 1, "p1", true, domain.ReportDetails{})
	m.ReportResult(ctx, "Cup", 2, "p3", true, domain.ReportDetails{})
	out, err := m.ReportResult(ctx, "Cup", 3, "p5", true, domain.ReportDetails{})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(out.NextRound) != 1 {
		t.Fatalf("expected 1 round 2 match, got %d", len(out.NextRound))
	}

	// p5 is dropped; the single round 2 match is the final.
	if _, err := m.ReportResult(ctx, "Cup", 4, "p1", true, domain.ReportDetails{}); err != nil {
		t.Fatalf("report final: %v", err)
	}
	if _, err := m.Complete(ctx, "Cup"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// A bracket whose last round has two matches cannot pick a winner.
	tt := &domain.Tournament{
		Status: domain.TournamentInProgress,
		Matches: []domain.TournamentMatch{
			{ID: 1, Round: 1, Player1: "a", Player2: "b", Winner: strPtr("a"), Status: domain.MatchCompleted},
			{ID: 2, Round: 1, Player1: "c", Player2: "d", Winner: strPtr("c"), Status: domain.MatchCompleted},
		},
	}
	if _, err := finalWinner(tt); !errors.Is(err, domain.ErrBracketUnresolved) {
		t.Errorf("expected unresolved bracket, got %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	m, store, _ := newTestManager()
	ctx := context.Background()
	m.Create(ctx, "Cup", "constructed", 4)
	mustJoin(t, m, "Cup", "p1", "p2", "p3", "p4")
	m.Start(ctx, "Cup")
	m.ReportResult(ctx, "Cup", 1, "p1", true, domain.ReportDetails{DeckURL: "https://decks.example/abc"})

	before := m.List()

	reloaded := NewManager(store, "tournaments", nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	after := reloaded.List()

	b1, _ := json.Marshal(before)
	b2, _ := json.Marshal(after)
	if string(b1) != string(b2) {
		t.Fatalf("snapshot did not round-trip:\n%s\n%s", b1, b2)
	}
	if after[0].ID != 1 {
		t.Errorf("expected id restored from key, got %d", after[0].ID)
	}

	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(store.blobs["tournaments"], &raw); err != nil {
		t.Fatalf("decode raw snapshot: %v", err)
	}
	if string(raw["1"]["winner"]) != "null" {
		t.Errorf("expected explicit null winner, got %s", raw["1"]["winner"])
	}
}

func TestLoadWithoutSnapshot(t *testing.T) {
	m, _, _ := newTestManager()
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(m.List()) != 0 {
		t.Error("expected empty table")
	}
}

func TestSaveFailureKeepsMutation(t *testing.T) {
	m, store, _ := newTestManager()
	ctx := context.Background()
	m.Create(ctx, "Cup", "constructed", 4)

	store.failing = true
	if _, err := m.Join(ctx, "Cup", "p1"); err != nil {
		t.Fatalf("join should succeed despite save failure: %v", err)
	}
	got, _ := m.Get("Cup")
	if !got.HasPlayer("p1") {
		t.Fatal("in-memory mutation was rolled back")
	}

	store.failing = false
	mustJoin(t, m, "Cup", "p2")

	reloaded := NewManager(store, "tournaments", nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	reloaded.Load(ctx)
	again, _ := reloaded.Get("Cup")
	if len(again.Players) != 2 {
		t.Errorf("next save should carry the full state, got %v", again.Players)
	}
}

func TestGetBySlug(t *testing.T) {
	m, _, _ := newTestManager()
	m.Create(context.Background(), "Spring Open 2025", "constructed", 8)

	got, err := m.Get("spring-open-2025")
	if err != nil {
		t.Fatalf("get by slug: %v", err)
	}
	if got.Name != "Spring Open 2025" {
		t.Errorf("unexpected tournament %q", got.Name)
	}
}

func strPtr(s string) *string { return &s }
