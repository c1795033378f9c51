package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/eviration/very-good-auctions/internal/adapters/api"
	infradb "github.com/eviration/very-good-auctions/internal/adapters/database"
	"github.com/eviration/very-good-auctions/internal/config"
	"github.com/eviration/very-good-auctions/internal/domain/auction"
	"github.com/eviration/very-good-auctions/internal/idempotency"
	"github.com/eviration/very-good-auctions/internal/scheduler"
	"github.com/eviration/very-good-auctions/pkg/auth"
	pkgdb "github.com/eviration/very-good-auctions/pkg/database"
	pkgevents "github.com/eviration/very-good-auctions/pkg/events"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load environment variables (local overrides .env)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Unable to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateAPI(); err != nil {
		logger.Error("Invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 1. Initialize Postgres Connection Pool
	dbConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Error("Unable to parse database config", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
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

	// 2. Connect to RabbitMQ
	amqpConn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Error("Failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer amqpConn.Close()
	logger.Info("RabbitMQ Connected")

	rabbitPublisher, err := pkgevents.NewRabbitMQPublisher(amqpConn, cfg.RabbitMQ.Exchange)
	if err != nil {
		logger.Error("Failed to create RabbitMQ publisher", "error", err)
		os.Exit(1)
	}
	defer rabbitPublisher.Close()

	// 3. Connect to Redis (idempotency arena; bids still work without it)
	var idemStore auction.IdempotencyStore
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if pingErr := rdb.Ping(ctx).Err(); pingErr != nil {
		logger.Warn("Redis connection failed, retry detection disabled", "error", pingErr)
	} else {
		logger.Info("Redis Connected")
		idemStore = idempotency.NewRedisStore(rdb, cfg.Idempotency.TTL)
	}

	// 4. Load the auth public key
	publicKeyPEM, err := os.ReadFile(cfg.Auth.PublicKeyPath)
	if err != nil {
		logger.Error("Unable to read auth public key", "error", err)
		os.Exit(1)
	}
	signer, err := auth.NewSignerFromPublicKey(publicKeyPEM, cfg.Auth.Issuer)
	if err != nil {
		logger.Error("Unable to create token signer", "error", err)
		os.Exit(1)
	}

	// 5. Initialize Repositories (Infrastructure Layer)
	txManager := pkgdb.NewPostgresTransactionManager(pool, cfg.Database.LockTimeout)
	itemRepo := infradb.NewPostgresItemRepository(pool)
	eventRepo := infradb.NewPostgresEventRepository(pool)
	bidRepo := infradb.NewPostgresBidRepository(pool)
	silentRepo := infradb.NewPostgresSilentBidRepository(pool)
	outboxRepo := infradb.NewPostgresOutboxRepository(pool)

	// 6. Initialize the Engine (Domain Layer)
	engine := auction.NewEngine(txManager, pool, itemRepo, eventRepo, bidRepo, silentRepo, outboxRepo, idemStore, logger)

	// 7. Outbox Relay
	outboxRelay := pkgevents.NewOutboxRelay(
		outboxRepo,
		rabbitPublisher,
		txManager,
		cfg.Outbox.BatchSize,
		cfg.Outbox.Interval,
		cfg.RabbitMQ.Exchange,
		logger,
	)

	// 8. Event Finalizer
	finalizer := scheduler.NewFinalizer(engine, cfg.Finalizer.Spec, logger)
	if startErr := finalizer.Start(ctx); startErr != nil {
		logger.Error("Failed to start finalizer", "error", startErr)
		os.Exit(1)
	}
	defer finalizer.Stop()

	// 9. HTTP Server
	handler := api.NewHandler(engine, signer, logger)

	// Use h2c for HTTP/2 without TLS (common for internal services / local dev)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h2c.NewHandler(handler.Router(), &http2.Server{}),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting Outbox Relay")
		return outboxRelay.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("Starting Bid Engine API", "addr", cfg.Server.Addr)
		if serveErr := srv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			return serveErr
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		return srv.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
