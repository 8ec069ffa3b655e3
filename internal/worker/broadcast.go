package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/summit-bot/internal/config"
	"github.com/summit-bot/internal/domain"
)

// nameWarmupInterval refreshes cached display names well inside their ttl
const nameWarmupInterval = 6 * time.Hour

// LeaderboardSource provides the current leaderboard head
type LeaderboardSource interface {
	TopRatings(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
}

// QueueSource reports how many players are waiting
type QueueSource interface {
	Len() int
}

// Broadcaster pushes snapshots to live feed subscribers
type Broadcaster interface {
	BroadcastLeaderboard(entries []domain.LeaderboardEntry)
	BroadcastQueue(waiting int)
}

// NameSource lists known players with their last display name
type NameSource interface {
	GetPlayerNames(ctx context.Context, limit int) ([]domain.PlayerInfo, error)
}

// NameCache stores display names for fast lookup
type NameCache interface {
	BatchSetPlayerNames(ctx context.Context, players []domain.PlayerInfo) error
}

// BroadcastWorker periodically pushes the leaderboard and queue size to the
// live feed and keeps the display-name cache warm.
type BroadcastWorker struct {
	scheduler gocron.Scheduler
	ratings   LeaderboardSource
	queue     QueueSource
	feed      Broadcaster
	names     NameSource
	cache     NameCache
	config    *config.Config
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewBroadcastWorker creates a new broadcast worker
func NewBroadcastWorker(
	ratings LeaderboardSource,
	queue QueueSource,
	feed Broadcaster,
	cfg *config.Config,
	logger *slog.Logger,
) (*BroadcastWorker, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	return &BroadcastWorker{
		scheduler: scheduler,
		ratings:   ratings,
		queue:     queue,
		feed:      feed,
		config:    cfg,
		logger:    logger,
	}, nil
}

// SetNameWarmup enables copying display names from names into cache
func (w *BroadcastWorker) SetNameWarmup(names NameSource, cache NameCache) {
	w.names = names
	w.cache = cache
}

// Start schedules the jobs and starts the scheduler
func (w *BroadcastWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	_, err := w.scheduler.NewJob(
		gocron.DurationJob(w.config.Worker.BroadcastInterval),
		gocron.NewTask(func() { w.RunOnce(ctx) }),
		gocron.WithName("broadcast"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("scheduling broadcast: %w", err)
	}

	if w.names != nil && w.cache != nil {
		_, err = w.scheduler.NewJob(
			gocron.DurationJob(nameWarmupInterval),
			gocron.NewTask(func() {
				if err := w.WarmNames(ctx); err != nil {
					w.logger.Error("name cache warmup failed", "error", err)
				}
			}),
			gocron.WithName("name-warmup"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return fmt.Errorf("scheduling name warmup: %w", err)
		}
	}

	w.scheduler.Start()
	w.running = true
	w.logger.Info("broadcast worker started", "interval", w.config.Worker.BroadcastInterval)
	return nil
}

// Stop waits for running jobs and shuts the scheduler down
func (w *BroadcastWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false

	if err := w.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("stopping scheduler: %w", err)
	}
	w.logger.Info("broadcast worker stopped")
	return nil
}

// RunOnce runs a single broadcast cycle
func (w *BroadcastWorker) RunOnce(ctx context.Context) {
	entries, err := w.ratings.TopRatings(ctx, w.config.Leaderboard.DefaultLimit)
	if err != nil {
		w.logger.Error("failed to load leaderboard for broadcast", "error", err)
	} else {
		w.feed.BroadcastLeaderboard(entries)
	}

	w.feed.BroadcastQueue(w.queue.Len())
}

// WarmNames copies up to WarmupLimit display names into the cache
func (w *BroadcastWorker) WarmNames(ctx context.Context) error {
	if w.names == nil || w.cache == nil {
		return nil
	}

	startTime := time.Now()
	players, err := w.names.GetPlayerNames(ctx, w.config.Worker.WarmupLimit)
	if err != nil {
		return err
	}
	if err := w.cache.BatchSetPlayerNames(ctx, players); err != nil {
		return err
	}

	w.logger.Debug("name cache warmed",
		"players", len(players),
		"duration", time.Since(startTime),
	)
	return nil
}
