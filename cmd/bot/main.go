package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/summit-bot/internal/config"
	"github.com/summit-bot/internal/discord"
	"github.com/summit-bot/internal/handler"
	"github.com/summit-bot/internal/kafka"
	"github.com/summit-bot/internal/matchmaking"
	"github.com/summit-bot/internal/postgres"
	"github.com/summit-bot/internal/rating"
	"github.com/summit-bot/internal/redis"
	"github.com/summit-bot/internal/service"
	"github.com/summit-bot/internal/tournament"
	"github.com/summit-bot/internal/websocket"
	"github.com/summit-bot/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	envPath := flag.String("env", ".env", "Path to dotenv file")
	flag.Parse()

	// The bot token usually lives in .env; a missing file is fine.
	envErr := godotenv.Load(*envPath)

	// Load configuration
	cfg, cfgErr := config.Load(*configPath)
	if cfgErr != nil {
		cfg = config.DefaultConfig()
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if envErr != nil && !os.IsNotExist(envErr) {
		logger.Warn("failed to load env file", "path", *envPath, "error", envErr)
	}
	if cfgErr != nil {
		logger.Warn("failed to load config file, using defaults", "error", cfgErr)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	redisStore, err := redis.NewStore(&cfg.Redis, cfg.Discord.NameCacheTTL, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	postgresRepo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer postgresRepo.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := postgresRepo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Every event reaches the live feed; Kafka is added when enabled.
	events := service.FanOut{wsHub}
	var publisher *kafka.Publisher
	if cfg.Kafka.Enabled {
		publisher, err = kafka.NewPublisher(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka publisher, continuing without event log", "error", err)
		} else {
			events = append(events, publisher)
		}
	}

	// Initialize core services
	engine, err := rating.NewEngine(cfg.Rating.KFactor)
	if err != nil {
		logger.Error("invalid rating configuration", "error", err)
		os.Exit(1)
	}
	ledger := service.NewLedgerService(postgresRepo, engine, cfg, logger)
	ledger.SetEventSink(events)

	names := discord.NewNames(redisStore, nil, cfg.Discord.LookupTimeout, logger)

	var snapshots tournament.SnapshotStore = postgresRepo
	if cfg.Tournament.SnapshotBackend == "redis" {
		snapshots = redisStore
	}
	tournaments := tournament.NewManager(snapshots, cfg.Tournament.SnapshotKey, ledger, names, logger)
	tournaments.SetEventSink(events)
	if err := tournaments.Load(ctx); err != nil {
		logger.Error("failed to load tournaments", "backend", cfg.Tournament.SnapshotBackend, "error", err)
		os.Exit(1)
	}

	queue := matchmaking.NewQueue(logger)
	challenges := matchmaking.NewChallenges(cfg.Matchmaking.ChallengeTimeout, logger)

	// Initialize Kafka consumer for match result ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.ResultsTopic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, ledger, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	// Discord session
	bot := discord.NewBot(ledger, queue, challenges, tournaments, names, cfg, logger)
	bot.SetEventSink(events)
	if cfg.Discord.Token == "" {
		logger.Warn("no discord token configured, running without chat commands")
	} else if err := bot.Open(); err != nil {
		logger.Error("failed to open discord session", "error", err)
		os.Exit(1)
	} else {
		logger.Info("discord session opened", "prefix", cfg.Discord.Prefix)
	}

	// Scheduled broadcasts
	var broadcaster *worker.BroadcastWorker
	if cfg.Worker.Enabled {
		broadcaster, err = worker.NewBroadcastWorker(ledger, queue, wsHub, cfg, logger)
		if err != nil {
			logger.Error("failed to create broadcast worker", "error", err)
			os.Exit(1)
		}
		broadcaster.SetNameWarmup(postgresRepo, redisStore)
		if err := broadcaster.Start(ctx); err != nil {
			logger.Error("failed to start broadcast worker", "error", err)
			os.Exit(1)
		}
	}

	// HTTP API
	var server *http.Server
	if cfg.Server.Enabled {
		httpHandler := handler.NewHandler(ledger, tournaments, queue, wsHub, logger)
		httpHandler.AddReadinessCheck("postgres", postgresRepo)
		httpHandler.AddReadinessCheck("redis", redisStore)
		httpHandler.SetAPIKey(cfg.Server.APIKey)
		if cfg.Server.APIKey == "" {
			logger.Warn("no API key configured, match submission over HTTP is disabled")
		}

		server = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      httpHandler.Router(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}

		go func() {
			logger.Info("starting HTTP server", "port", cfg.Server.Port)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "error", err)
				os.Exit(1)
			}
		}()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := bot.Close(); err != nil {
		logger.Error("failed to close discord session", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if broadcaster != nil {
		if err := broadcaster.Stop(); err != nil {
			logger.Error("failed to stop broadcast worker", "error", err)
		}
	}

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown HTTP server", "error", err)
		}
	}

	wsHub.Stop()

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("failed to close Kafka publisher", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
