package config

import (
	"testing"
	"time"

	"github.com/honeynil/MoneyMitra/internal/models"
	"github.com/honeynil/MoneyMitra/internal/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, BackendPostgres, cfg.LedgerBackend)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "ledger-alerts", cfg.KafkaAlertsTopic)
	assert.Equal(t, 3, cfg.TransferMaxAttempts)
	assert.Equal(t, 5, cfg.CompensationMaxAttempts)
	assert.Equal(t, models.DefaultStartingBalance, cfg.StartingBalance)
	assert.Equal(t, time.Minute, cfg.BalanceCacheTTL)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("LEDGER_BACKEND", "Memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("TRANSFER_MAX_ATTEMPTS", "5")
	t.Setenv("STARTING_BALANCE", "1000.50")
	t.Setenv("IDEMPOTENCY_TTL", "1h")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.LedgerBackend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5, cfg.TransferMaxAttempts)
	assert.Equal(t, money.Amount(100050), cfg.StartingBalance)
	assert.Equal(t, time.Hour, cfg.IdempotencyTTL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"missing secret":   {"JWT_SECRET": ""},
		"unknown backend":  {"LEDGER_BACKEND": "mongo"},
		"bad attempts":     {"TRANSFER_MAX_ATTEMPTS": "zero"},
		"zero attempts":    {"COMPENSATION_MAX_ATTEMPTS": "0"},
		"bad duration":     {"BALANCE_CACHE_TTL": "soon"},
		"negative balance": {"STARTING_BALANCE": "-1"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "secret")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
