package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Server      ServerConfig      `yaml:"server"`
	Discord     DiscordConfig     `yaml:"discord"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Rating      RatingConfig      `yaml:"rating"`
	Matchmaking MatchmakingConfig `yaml:"matchmaking"`
	Tournament  TournamentConfig  `yaml:"tournament"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	Worker      WorkerConfig      `yaml:"worker"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel converts the configured level name to a slog level
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	// APIKey guards match submission; empty disables it.
	APIKey string `yaml:"api_key"`
}

// DiscordConfig holds the bot session configuration
type DiscordConfig struct {
	Token         string        `yaml:"token"`
	Prefix        string        `yaml:"prefix"`
	GuildID       string        `yaml:"guild_id"`
	LFGChannelID  string        `yaml:"lfg_channel_id"`
	OwnerID       string        `yaml:"owner_id"`
	NameCacheTTL  time.Duration `yaml:"name_cache_ttl"`
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration. ResultsTopic carries
// match results into the ledger, EventsTopic receives the ledger event log.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ResultsTopic  string        `yaml:"results_topic"`
	EventsTopic   string        `yaml:"events_topic"`
	GroupID       string        `yaml:"group_id"`
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// RatingConfig holds Elo configuration
type RatingConfig struct {
	KFactor          float64 `yaml:"k_factor"`
	DefaultRating    int     `yaml:"default_rating"`
	MaxUpdateRetries int     `yaml:"max_update_retries"`
}

// MatchmakingConfig holds queue and challenge configuration
type MatchmakingConfig struct {
	DefaultTTL       time.Duration `yaml:"default_ttl"`
	MinTTL           time.Duration `yaml:"min_ttl"`
	MaxTTL           time.Duration `yaml:"max_ttl"`
	ChallengeTimeout time.Duration `yaml:"challenge_timeout"`
}

// TournamentConfig holds tournament persistence configuration
type TournamentConfig struct {
	SnapshotBackend string `yaml:"snapshot_backend"`
	SnapshotKey     string `yaml:"snapshot_key"`
}

// LeaderboardConfig holds leaderboard-specific configuration
type LeaderboardConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
	HistoryLimit int `yaml:"history_limit"`
}

// WorkerConfig holds the scheduled broadcast configuration
type WorkerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	WarmupLimit       int           `yaml:"warmup_limit"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Discord defaults
	if c.Discord.Token == "" {
		c.Discord.Token = os.Getenv("TOKEN")
	}
	if c.Discord.Prefix == "" {
		c.Discord.Prefix = "!"
	}
	if c.Discord.NameCacheTTL == 0 {
		c.Discord.NameCacheTTL = 24 * time.Hour
	}
	if c.Discord.LookupTimeout == 0 {
		c.Discord.LookupTimeout = 5 * time.Second
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 2
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.Database == "" {
		c.Postgres.Database = "summit"
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 10
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 2
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.ResultsTopic == "" {
		c.Kafka.ResultsTopic = "match-results"
	}
	if c.Kafka.EventsTopic == "" {
		c.Kafka.EventsTopic = "ledger-events"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "summit-bot"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 50
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}

	// Rating defaults
	if c.Rating.KFactor == 0 {
		c.Rating.KFactor = 32
	}
	if c.Rating.DefaultRating == 0 {
		c.Rating.DefaultRating = 1500
	}
	if c.Rating.MaxUpdateRetries == 0 {
		c.Rating.MaxUpdateRetries = 5
	}

	// Matchmaking defaults
	if c.Matchmaking.DefaultTTL == 0 {
		c.Matchmaking.DefaultTTL = 30 * time.Minute
	}
	if c.Matchmaking.MinTTL == 0 {
		c.Matchmaking.MinTTL = 5 * time.Minute
	}
	if c.Matchmaking.MaxTTL == 0 {
		c.Matchmaking.MaxTTL = 120 * time.Minute
	}
	if c.Matchmaking.ChallengeTimeout == 0 {
		c.Matchmaking.ChallengeTimeout = 5 * time.Minute
	}

	// Tournament defaults
	if c.Tournament.SnapshotBackend == "" {
		c.Tournament.SnapshotBackend = "postgres"
	}
	if c.Tournament.SnapshotKey == "" {
		c.Tournament.SnapshotKey = "tournaments"
	}

	// Leaderboard defaults
	if c.Leaderboard.DefaultLimit == 0 {
		c.Leaderboard.DefaultLimit = 10
	}
	if c.Leaderboard.MaxLimit == 0 {
		c.Leaderboard.MaxLimit = 100
	}
	if c.Leaderboard.HistoryLimit == 0 {
		c.Leaderboard.HistoryLimit = 10
	}

	// Worker defaults
	if c.Worker.BroadcastInterval == 0 {
		c.Worker.BroadcastInterval = 1 * time.Minute
	}
	if c.Worker.WarmupLimit == 0 {
		c.Worker.WarmupLimit = 500
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Server.Enabled = true
	cfg.Worker.Enabled = true
	return cfg
}
