package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/honeynil/MoneyMitra/internal/models"
	"github.com/honeynil/MoneyMitra/internal/money"
	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	HTTPAddr        string
	LedgerBackend   string
	PostgresDSN     string
	RedisAddr       string
	ShutdownTimeout time.Duration

	KafkaBrokers        []string
	KafkaTransfersTopic string
	KafkaAlertsTopic    string
	KafkaAlertsGroup    string

	JWTSecret   string
	JWTAudience string

	GeminiAPIKey string
	GeminiModel  string

	OTLPEndpoint string
	LogLevel     string

	TransferMaxAttempts     int
	CompensationMaxAttempts int
	StartingBalance         money.Amount
	BalanceCacheTTL         time.Duration
	IdempotencyTTL          time.Duration
}

// Load reads the environment, after merging a .env file when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using environment and defaults", "error", err)
	}

	cfg := &Config{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		LedgerBackend:       strings.ToLower(getEnv("LEDGER_BACKEND", BackendPostgres)),
		PostgresDSN:         getEnv("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=moneymitra sslmode=disable"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:        splitList(getEnv("KAFKA_BROKERS", getEnv("KAFKA_BROKER", "localhost:9092"))),
		KafkaTransfersTopic: getEnv("KAFKA_TRANSFERS_TOPIC", "transfers"),
		KafkaAlertsTopic:    getEnv("KAFKA_ALERTS_TOPIC", "ledger-alerts"),
		KafkaAlertsGroup:    getEnv("KAFKA_ALERTS_GROUP", "ledger-reconciliation"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		JWTAudience:         getEnv("JWT_AUDIENCE", "authenticated"),
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.TransferMaxAttempts, err = getInt("TRANSFER_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.CompensationMaxAttempts, err = getInt("COMPENSATION_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.BalanceCacheTTL, err = getDuration("BALANCE_CACHE_TTL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	cfg.StartingBalance = models.DefaultStartingBalance
	if raw, ok := os.LookupEnv("STARTING_BALANCE"); ok && raw != "" {
		if cfg.StartingBalance, err = money.Parse(raw); err != nil {
			return nil, fmt.Errorf("STARTING_BALANCE: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	slog.Info("config loaded",
		"http_addr", cfg.HTTPAddr,
		"ledger_backend", cfg.LedgerBackend,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"advice_enabled", cfg.GeminiAPIKey != "",
		"tracing_enabled", cfg.OTLPEndpoint != "",
	)
	return cfg, nil
}

func (c *Config) validate() error {
	if c.LedgerBackend != BackendPostgres && c.LedgerBackend != BackendMemory {
		return fmt.Errorf("LEDGER_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMemory, c.LedgerBackend)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.TransferMaxAttempts < 1 {
		return fmt.Errorf("TRANSFER_MAX_ATTEMPTS must be at least 1")
	}
	if c.CompensationMaxAttempts < 1 {
		return fmt.Errorf("COMPENSATION_MAX_ATTEMPTS must be at least 1")
	}
	if c.StartingBalance < 0 {
		return fmt.Errorf("STARTING_BALANCE cannot be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
