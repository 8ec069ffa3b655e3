package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/summit-bot/internal/config"
	"github.com/summit-bot/internal/domain"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS player_ratings (
			player_id VARCHAR(64) PRIMARY KEY,
			seq BIGSERIAL UNIQUE,
			display_name VARCHAR(255) NOT NULL DEFAULT '',
			rating INT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS match_records (
			id BIGSERIAL PRIMARY KEY,
			reporter_id VARCHAR(64) NOT NULL,
			reporter_name VARCHAR(255) NOT NULL DEFAULT '',
			winner_id VARCHAR(64) NOT NULL,
			winner_name VARCHAR(255) NOT NULL DEFAULT '',
			loser_id VARCHAR(64) NOT NULL,
			loser_name VARCHAR(255) NOT NULL DEFAULT '',
			did_win BOOLEAN NOT NULL,
			first_player VARCHAR(32) NOT NULL DEFAULT '',
			match_time VARCHAR(32) NOT NULL DEFAULT '',
			deck_url TEXT NOT NULL DEFAULT '',
			match_comment TEXT NOT NULL DEFAULT '',
			deck_data JSONB,
			reported_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS solo_match_reports (
			id BIGSERIAL PRIMARY KEY,
			reporter_id VARCHAR(64) NOT NULL,
			reporter_name VARCHAR(255) NOT NULL DEFAULT '',
			opponent_name VARCHAR(255) NOT NULL DEFAULT '',
			is_winner BOOLEAN NOT NULL,
			first_player VARCHAR(32) NOT NULL DEFAULT '',
			match_time VARCHAR(32) NOT NULL DEFAULT '',
			deck_url TEXT NOT NULL DEFAULT '',
			match_comment TEXT NOT NULL DEFAULT '',
			deck_data JSONB,
			reported_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			key VARCHAR(128) PRIMARY KEY,
			blob BYTEA NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_player_ratings_rank ON player_ratings(rating DESC, seq ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_match_records_reporter ON match_records(reporter_id, reported_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_match_records_winner ON match_records(winner_id, reported_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_match_records_loser ON match_records(loser_id, reported_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_solo_reports_reporter ON solo_match_reports(reporter_id, reported_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// InsertPairedMatch appends a paired match record
func (r *Repository) InsertPairedMatch(ctx context.Context, m domain.PairedMatch) (int64, error) {
	query := `
		INSERT INTO match_records (
			reporter_id, reporter_name, winner_id, winner_name, loser_id, loser_name, did_win,
			first_player, match_time, deck_url, match_comment, deck_data, reported_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`
	var id int64
	err := r.pool.QueryRow(ctx, query,
		m.ReporterID,
		m.ReporterName,
		m.WinnerID,
		m.WinnerName,
		m.LoserID,
		m.LoserName,
		m.ReporterWon,
		m.Details.FirstPlayer,
		m.Details.Duration,
		m.Details.DeckURL,
		m.Details.Comment,
		nullableJSON(m.Details.DeckData),
		m.ReportedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting match record: %w", err)
	}
	return id, nil
}

// InsertSoloMatch appends a solo match report
func (r *Repository) InsertSoloMatch(ctx context.Context, m domain.SoloMatch) (int64, error) {
	query := `
		INSERT INTO solo_match_reports (
			reporter_id, reporter_name, opponent_name, is_winner,
			first_player, match_time, deck_url, match_comment, deck_data, reported_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	var id int64
	err := r.pool.QueryRow(ctx, query,
		m.ReporterID,
		m.ReporterName,
		m.OpponentName,
		m.IsWinner,
		m.Details.FirstPlayer,
		m.Details.Duration,
		m.Details.DeckURL,
		m.Details.Comment,
		nullableJSON(m.Details.DeckData),
		m.ReportedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting solo match: %w", err)
	}
	return id, nil
}

// GetRating retrieves a player's stored rating
func (r *Repository) GetRating(ctx context.Context, playerID string) (*domain.PlayerRating, error) {
	query := `
		SELECT player_id, display_name, rating, created_at, updated_at
		FROM player_ratings
		WHERE player_id = $1
	`
	var pr domain.PlayerRating
	err := r.pool.QueryRow(ctx, query, playerID).Scan(
		&pr.PlayerID,
		&pr.DisplayName,
		&pr.Rating,
		&pr.CreatedAt,
		&pr.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting rating: %w", err)
	}
	return &pr, nil
}

// CompareAndSetRating writes a rating only if the row still holds expected.
// With a nil expected the row is inserted, and the write fails if another
// report created it first.
func (r *Repository) CompareAndSetRating(ctx context.Context, playerID, displayName string, expected *int, newRating int) (bool, error) {
	now := time.Now()

	if expected == nil {
		query := `
			INSERT INTO player_ratings (player_id, display_name, rating, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (player_id) DO NOTHING
		`
		result, err := r.pool.Exec(ctx, query, playerID, displayName, newRating, now)
		if err != nil {
			return false, fmt.Errorf("inserting rating: %w", err)
		}
		return result.RowsAffected() == 1, nil
	}

	query := `
		UPDATE player_ratings
		SET rating = $3,
			display_name = COALESCE(NULLIF($2, ''), display_name),
			updated_at = $4
		WHERE player_id = $1 AND rating = $5
	`
	result, err := r.pool.Exec(ctx, query, playerID, displayName, newRating, now, *expected)
	if err != nil {
		return false, fmt.Errorf("updating rating: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// GetTopRatings returns the leaderboard head. Equal ratings keep the order in
// which players first appeared.
func (r *Repository) GetTopRatings(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	query := `
		SELECT player_id, display_name, rating,
			   ROW_NUMBER() OVER (ORDER BY rating DESC, seq ASC) AS rank
		FROM player_ratings
		ORDER BY rating DESC, seq ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("getting top ratings: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var entry domain.LeaderboardEntry
		if err := rows.Scan(&entry.PlayerID, &entry.DisplayName, &entry.Rating, &entry.Rank); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetRatingWithRank retrieves a player's rating and leaderboard position
func (r *Repository) GetRatingWithRank(ctx context.Context, playerID string) (*domain.PlayerRating, error) {
	query := `
		WITH ranked AS (
			SELECT player_id, display_name, rating, created_at, updated_at,
				   ROW_NUMBER() OVER (ORDER BY rating DESC, seq ASC) AS rank
			FROM player_ratings
		)
		SELECT player_id, display_name, rating, rank, created_at, updated_at
		FROM ranked
		WHERE player_id = $1
	`
	var pr domain.PlayerRating
	err := r.pool.QueryRow(ctx, query, playerID).Scan(
		&pr.PlayerID,
		&pr.DisplayName,
		&pr.Rating,
		&pr.Rank,
		&pr.CreatedAt,
		&pr.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting rating with rank: %w", err)
	}
	return &pr, nil
}

// GetPlayerNames returns the most recently active players for cache warmup
func (r *Repository) GetPlayerNames(ctx context.Context, limit int) ([]domain.PlayerInfo, error) {
	query := `
		SELECT player_id, display_name
		FROM player_ratings
		WHERE display_name <> ''
		ORDER BY updated_at DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("getting player names: %w", err)
	}
	defer rows.Close()

	var players []domain.PlayerInfo
	for rows.Next() {
		var p domain.PlayerInfo
		if err := rows.Scan(&p.ID, &p.DisplayName); err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// LoadSnapshot reads a stored blob. ok is false when the key was never saved.
func (r *Repository) LoadSnapshot(ctx context.Context, key string) ([]byte, bool, error) {
	var blob []byte
	err := r.pool.QueryRow(ctx, `SELECT blob FROM snapshots WHERE key = $1`, key).Scan(&blob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("loading snapshot: %w", err)
	}
	return blob, true, nil
}

// SaveSnapshot replaces the blob stored under key
func (r *Repository) SaveSnapshot(ctx context.Context, key string, blob []byte) error {
	query := `
		INSERT INTO snapshots (key, blob, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key)
		DO UPDATE SET blob = $2, updated_at = $3
	`
	if _, err := r.pool.Exec(ctx, query, key, blob, time.Now()); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
