package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/summit-bot/internal/config"
	"github.com/summit-bot/internal/domain"
)

// Store provides the Redis-backed tournament snapshot and display-name cache
type Store struct {
	client  *redis.Client
	nameTTL time.Duration
	logger  *slog.Logger
}

// NewStore creates a new Redis store
func NewStore(cfg *config.RedisConfig, nameTTL time.Duration, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewStoreWithClient(client, nameTTL, logger), nil
}

// NewStoreWithClient wraps an existing client
func NewStoreWithClient(client *redis.Client, nameTTL time.Duration, logger *slog.Logger) *Store {
	return &Store{
		client:  client,
		nameTTL: nameTTL,
		logger:  logger,
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// snapshotKey returns the Redis key for a stored snapshot
func (s *Store) snapshotKey(key string) string {
	return fmt.Sprintf("summit:snapshot:%s", key)
}

// playerInfoKey returns the Redis key for player info cache
func (s *Store) playerInfoKey(playerID string) string {
	return fmt.Sprintf("player:%s:info", playerID)
}

// LoadSnapshot reads a stored blob. ok is false when the key was never saved.
func (s *Store) LoadSnapshot(ctx context.Context, key string) ([]byte, bool, error) {
	blob, err := s.client.Get(ctx, s.snapshotKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("loading snapshot: %w", err)
	}
	return blob, true, nil
}

// SaveSnapshot replaces the blob stored under key. Snapshots never expire.
func (s *Store) SaveSnapshot(ctx context.Context, key string, blob []byte) error {
	if err := s.client.Set(ctx, s.snapshotKey(key), blob, 0).Err(); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// SetPlayerName caches a display name
func (s *Store) SetPlayerName(ctx context.Context, playerID, displayName string) error {
	key := s.playerInfoKey(playerID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "display_name", displayName)
	if s.nameTTL > 0 {
		pipe.Expire(ctx, key, s.nameTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("setting player info: %w", err)
	}
	return nil
}

// GetPlayerName retrieves a cached display name
func (s *Store) GetPlayerName(ctx context.Context, playerID string) (*domain.PlayerInfo, error) {
	key := s.playerInfoKey(playerID)
	result, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("getting player info: %w", err)
	}

	if len(result) == 0 || result["display_name"] == "" {
		return nil, domain.ErrPlayerNotFound
	}

	return &domain.PlayerInfo{
		ID:          playerID,
		DisplayName: result["display_name"],
	}, nil
}

// BatchSetPlayerNames caches many display names using pipelining
func (s *Store) BatchSetPlayerNames(ctx context.Context, players []domain.PlayerInfo) error {
	if len(players) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, p := range players {
		key := s.playerInfoKey(p.ID)
		pipe.HSet(ctx, key, "display_name", p.DisplayName)
		if s.nameTTL > 0 {
			pipe.Expire(ctx, key, s.nameTTL)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch setting player info: %w", err)
	}
	return nil
}
