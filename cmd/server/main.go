package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/MoneyMitra/internal/api"
	"github.com/honeynil/MoneyMitra/internal/config"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/auth"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/kafka"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/llm"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/redis"
	"github.com/honeynil/MoneyMitra/internal/observability"
	"github.com/honeynil/MoneyMitra/internal/repository"
	"github.com/honeynil/MoneyMitra/internal/repository/memory"
	core "github.com/honeynil/MoneyMitra/internal/repository/postgres"
	service "github.com/honeynil/MoneyMitra/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Инициализируем логи, метрики, трейсы
	shutdownTracing := observability.Setup(ctx, "moneymitra", cfg.LogLevel, cfg.OTLPEndpoint)
	defer shutdownTracing(context.Background())

	var (
		profileRepo     repository.ProfileRepository
		transactionRepo repository.TransactionRepository
		redisClient     redis.RedisClient
		producer        kafka.KafkaProducer
	)

	switch cfg.LedgerBackend {
	case config.BackendMemory:
		store := memory.NewStore()
		profileRepo = store.Profiles()
		transactionRepo = store.Transactions()
		redisClient = redis.NewMemoryClient()
		producer = kafka.NopProducer{}
		slog.Warn("using in-memory ledger, data is lost on restart")

	default:
		// Подключаемся к Postgres
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			slog.Error("failed to open Postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			slog.Error("failed to connect to Postgres", "error", err)
			os.Exit(1)
		}
		profileRepo = core.NewPostgresProfileRepository(db)
		transactionRepo = core.NewPostgresTransactionRepository(db)

		client, err := redis.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			slog.Error("failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		redisClient = client

		producer = kafka.NewProducer(cfg.KafkaBrokers)

		// Настраиваем Kafka-консьюмер для алертов сверки
		consumer := kafka.NewAlertConsumer(cfg.KafkaBrokers, cfg.KafkaAlertsTopic, cfg.KafkaAlertsGroup, core.NewPostgresIncidentRepository(db))
		go consumer.Consume(ctx)
		defer consumer.Close()
	}
	defer redisClient.Close()
	defer producer.Close()

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTAudience)
	if err != nil {
		slog.Error("failed to create token verifier", "error", err)
		os.Exit(1)
	}

	// A nil interface keeps the advice endpoint answering 502.
	var completer llm.Completer
	if cfg.GeminiAPIKey != "" {
		gemini, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			slog.Error("failed to create Gemini client, advice disabled", "error", err)
		} else {
			completer = gemini
			defer gemini.Close()
		}
	} else {
		slog.Warn("GEMINI_API_KEY not set, advice disabled")
	}

	// Инициализируем сервисы
	ledger := service.NewLedgerService(profileRepo, transactionRepo, redisClient, producer, service.LedgerConfig{
		TransfersTopic:          cfg.KafkaTransfersTopic,
		AlertsTopic:             cfg.KafkaAlertsTopic,
		TransferMaxAttempts:     cfg.TransferMaxAttempts,
		CompensationMaxAttempts: cfg.CompensationMaxAttempts,
		StartingBalance:         cfg.StartingBalance,
		BalanceCacheTTL:         cfg.BalanceCacheTTL,
	})
	advice := service.NewAdviceService(profileRepo, transactionRepo, completer)

	// Настраиваем роутер
	router := api.SetupRouter(api.Deps{
		Ledger:         ledger,
		Advice:         advice,
		Verifier:       verifier,
		Redis:          redisClient,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("starting server", "addr", cfg.HTTPAddr, "backend", cfg.LedgerBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	slog.Info("server stopped")
}
