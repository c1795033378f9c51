package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	infradb "github.com/eviration/very-good-auctions/internal/adapters/database"
	"github.com/eviration/very-good-auctions/internal/config"
	pkgdb "github.com/eviration/very-good-auctions/pkg/database"
	pkgevents "github.com/eviration/very-good-auctions/pkg/events"
)

// Standalone outbox relay. Run this when the API is deployed with the
// in-process relay disabled, or to drain a backlog independently.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Unable to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("Unable to create connection pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if pingErr := pool.Ping(ctx); pingErr != nil {
		logger.Error("Unable to ping database", "error", pingErr)
		os.Exit(1)
	}
	logger.Info("Postgres Connected")

	amqpConn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Error("Failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer amqpConn.Close()
	logger.Info("RabbitMQ Connected")

	publisher, err := pkgevents.NewRabbitMQPublisher(amqpConn, cfg.RabbitMQ.Exchange)
	if err != nil {
		logger.Error("Failed to create RabbitMQ publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	txManager := pkgdb.NewPostgresTransactionManager(pool, cfg.Database.LockTimeout)
	outboxRepo := infradb.NewPostgresOutboxRepository(pool)

	relay := pkgevents.NewOutboxRelay(
		outboxRepo,
		publisher,
		txManager,
		cfg.Outbox.BatchSize,
		cfg.Outbox.Interval,
		cfg.RabbitMQ.Exchange,
		logger,
	)

	logger.Info("Starting Outbox Relay worker")
	if err := relay.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("Relay stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Relay stopped")
}
