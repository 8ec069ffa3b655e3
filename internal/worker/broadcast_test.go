package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/summit-bot/internal/config"
	"github.com/summit-bot/internal/domain"
)

type fakeRatings struct {
	entries []domain.LeaderboardEntry
	err     error
	limit   int
}

func (f *fakeRatings) TopRatings(_ context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	f.limit = limit
	return f.entries, f.err
}

type fakeQueue int

func (q fakeQueue) Len() int { return int(q) }

type recordingFeed struct {
	mu          sync.Mutex
	leaderboard [][]domain.LeaderboardEntry
	queue       []int
}

func (f *recordingFeed) BroadcastLeaderboard(entries []domain.LeaderboardEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaderboard = append(f.leaderboard, entries)
}

func (f *recordingFeed) BroadcastQueue(waiting int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, waiting)
}

func (f *recordingFeed) queueCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

type fakeNames struct{ players []domain.PlayerInfo }

func (f fakeNames) GetPlayerNames(_ context.Context, limit int) ([]domain.PlayerInfo, error) {
	if limit < len(f.players) {
		return f.players[:limit], nil
	}
	return f.players, nil
}

type fakeCache struct{ stored []domain.PlayerInfo }

func (c *fakeCache) BatchSetPlayerNames(_ context.Context, players []domain.PlayerInfo) error {
	c.stored = append(c.stored, players...)
	return nil
}

func newTestWorker(t *testing.T, ratings *fakeRatings, feed *recordingFeed) *BroadcastWorker {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Worker.BroadcastInterval = 50 * time.Millisecond
	cfg.Worker.WarmupLimit = 2
	w, err := NewBroadcastWorker(ratings, fakeQueue(3), feed, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func TestRunOnceBroadcastsBoth(t *testing.T) {
	ratings := &fakeRatings{entries: []domain.LeaderboardEntry{{Rank: 1, PlayerID: "1", Rating: 1516}}}
	feed := &recordingFeed{}
	w := newTestWorker(t, ratings, feed)

	w.RunOnce(context.Background())

	if len(feed.leaderboard) != 1 || feed.leaderboard[0][0].PlayerID != "1" {
		t.Errorf("leaderboard broadcasts = %v", feed.leaderboard)
	}
	if len(feed.queue) != 1 || feed.queue[0] != 3 {
		t.Errorf("queue broadcasts = %v", feed.queue)
	}
	if ratings.limit != 10 {
		t.Errorf("limit = %d, want default 10", ratings.limit)
	}
}

func TestRunOnceSkipsLeaderboardOnError(t *testing.T) {
	feed := &recordingFeed{}
	w := newTestWorker(t, &fakeRatings{err: errors.New("pool closed")}, feed)

	w.RunOnce(context.Background())

	if len(feed.leaderboard) != 0 {
		t.Errorf("leaderboard broadcast despite error")
	}
	if len(feed.queue) != 1 {
		t.Errorf("queue broadcast missing")
	}
}

func TestWarmNamesRespectsLimit(t *testing.T) {
	w := newTestWorker(t, &fakeRatings{}, &recordingFeed{})
	cache := &fakeCache{}
	w.SetNameWarmup(fakeNames{players: []domain.PlayerInfo{
		{ID: "1", DisplayName: "ana"},
		{ID: "2", DisplayName: "bo"},
		{ID: "3", DisplayName: "cy"},
	}}, cache)

	if err := w.WarmNames(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(cache.stored) != 2 {
		t.Errorf("cached %d names, want 2", len(cache.stored))
	}
}

func TestStartSchedulesBroadcast(t *testing.T) {
	feed := &recordingFeed{}
	w := newTestWorker(t, &fakeRatings{}, feed)

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for feed.queueCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("got %d broadcasts, want at least 2", feed.queueCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
