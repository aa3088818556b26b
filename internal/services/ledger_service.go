package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	stderrors "errors"

	"github.com/google/uuid"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/kafka"
	"github.com/honeynil/MoneyMitra/internal/infrastructure/redis"
	"github.com/honeynil/MoneyMitra/internal/models"
	"github.com/honeynil/MoneyMitra/internal/money"
	"github.com/honeynil/MoneyMitra/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
)

type LedgerService interface {
	CreateProfile(ctx context.Context, callerID uuid.UUID, req CreateProfileRequest) (*models.Profile, error)
	GetProfile(ctx context.Context, callerID uuid.UUID) (*models.Profile, error)
	GetBalance(ctx context.Context, callerID uuid.UUID) (money.Amount, error)
	Transfer(ctx context.Context, callerID uuid.UUID, req TransferRequest) error
	GetTransactionHistory(ctx context.Context, callerID uuid.UUID, limit int) ([]models.HistoryEntry, error)
	GetSpendingByCategory(ctx context.Context, callerID uuid.UUID) (*models.SpendingSummary, error)
}

type CreateProfileRequest struct {
	Name  string `json:"name" validate:"max=100"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"required"`
}

type TransferRequest struct {
	ReceiverPhone string       `json:"receiverPhone" validate:"required"`
	Amount        money.Amount `json:"amount"`
	Category      string       `json:"category"`
	Description   string       `json:"description" validate:"max=280"`
}

type LedgerConfig struct {
	TransfersTopic          string
	AlertsTopic             string
	TransferMaxAttempts     int
	CompensationMaxAttempts int
	StartingBalance         money.Amount
	BalanceCacheTTL         time.Duration
	// RetryInterval is the first backoff delay for conflict and reversal retries.
	RetryInterval time.Duration
}

func (c LedgerConfig) withDefaults() LedgerConfig {
	if c.TransfersTopic == "" {
		c.TransfersTopic = "transfers"
	}
	if c.AlertsTopic == "" {
		c.AlertsTopic = "ledger-alerts"
	}
	if c.TransferMaxAttempts < 1 {
		c.TransferMaxAttempts = 3
	}
	if c.CompensationMaxAttempts < 1 {
		c.CompensationMaxAttempts = 5
	}
	if c.BalanceCacheTTL <= 0 {
		c.BalanceCacheTTL = time.Minute
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 50 * time.Millisecond
	}
	return c
}

type ledgerService struct {
	profileRepo     repository.ProfileRepository
	transactionRepo repository.TransactionRepository
	redisClient     redis.RedisClient
	producer        kafka.KafkaProducer
	cfg             LedgerConfig
	guard           *balanceGuard
}

func NewLedgerService(
	profileRepo repository.ProfileRepository,
	transactionRepo repository.TransactionRepository,
	redisClient redis.RedisClient,
	producer kafka.KafkaProducer,
	cfg LedgerConfig,
) *ledgerService {
	return &ledgerService{
		profileRepo:     profileRepo,
		transactionRepo: transactionRepo,
		redisClient:     redisClient,
		producer:        producer,
		cfg:             cfg.withDefaults(),
		guard:           &balanceGuard{},
	}
}

func balanceKey(id uuid.UUID) string {
	return fmt.Sprintf("profile:%s:balance", id)
}

func (s *ledgerService) CreateProfile(ctx context.Context, callerID uuid.UUID, req CreateProfileRequest) (*models.Profile, error) {
	ctx, span := otel.Tracer("ledger-service").Start(ctx, "CreateProfile")
	defer span.End()

	phone, err := models.NormalizePhone(req.Phone)
	if err != nil {
		span.SetStatus(codes.Error, "invalid phone")
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	if name == "" && email != "" {
		name, _, _ = strings.Cut(email, "@")
	}

	profile := &models.Profile{
		ID:      callerID,
		Phone:   phone,
		Balance: s.cfg.StartingBalance,
		Name:    name,
		Email:   email,
	}
	if err := s.profileRepo.Create(ctx, profile); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile creation failed")
		slog.Error("failed to create profile", "user_id", callerID, "error", err)
		return nil, err
	}

	slog.Info("profile created", "user_id", callerID, "balance", profile.Balance)
	return profile, nil
}

func (s *ledgerService) GetProfile(ctx context.Context, callerID uuid.UUID) (*models.Profile, error) {
	ctx, span := otel.Tracer("ledger-service").Start(ctx, "GetProfile")
	defer span.End()

	profile, err := s.profileRepo.GetByID(ctx, callerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile lookup failed")
		return nil, err
	}
	return profile, nil
}

// GetBalance reads through the Redis cache. Cache errors fall back to the store.
func (s *ledgerService) GetBalance(ctx context.Context, callerID uuid.UUID) (money.Amount, error) {
	ctx, span := otel.Tracer("ledger-service").Start(ctx, "GetBalance")
	defer span.End()

	key := balanceKey(callerID)
	cached, err := s.redisClient.Get(ctx, key)
	if err == nil {
		if paise, perr := strconv.ParseInt(cached, 10, 64); perr == nil {
			return money.Amount(paise), nil
		}
		slog.Warn("discarding malformed cached balance", "user_id", callerID, "value", cached)
	} else if !stderrors.Is(err, redis.ErrKeyNotFound) {
		slog.Warn("balance cache unavailable", "user_id", callerID, "error", err)
	}

	snap := s.guard.snapshot(callerID)
	profile, err := s.profileRepo.GetByID(ctx, callerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "balance lookup failed")
		slog.Error("failed to get balance", "user_id", callerID, "error", err)
		return 0, err
	}

	cached = strconv.FormatInt(int64(profile.Balance), 10)
	stored := s.guard.storeIfQuiet(callerID, snap, func() {
		if err := s.redisClient.Set(ctx, key, cached, s.cfg.BalanceCacheTTL); err != nil {
			slog.Warn("failed to cache balance", "user_id", callerID, "error", err)
		}
	})
	if !stored {
		slog.Debug("balance not cached, transfer in flight", "user_id", callerID)
	}
	return profile.Balance, nil
}

func (s *ledgerService) invalidateBalances(ctx context.Context, ids ...uuid.UUID) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, balanceKey(id))
	}
	if err := s.redisClient.Del(context.WithoutCancel(ctx), keys...); err != nil {
		slog.Error("failed to invalidate cached balances", "keys", keys, "error", err)
	}
}

func (s *ledgerService) GetTransactionHistory(ctx context.Context, callerID uuid.UUID, limit int) ([]models.HistoryEntry, error) {
	ctx, span := otel.Tracer("ledger-service").Start(ctx, "GetTransactionHistory")
	defer span.End()

	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	txs, err := s.transactionRepo.ListByParticipant(ctx, callerID, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history lookup failed")
		slog.Error("failed to get transaction history", "user_id", callerID, "error", err)
		return nil, err
	}

	counterparties := make(map[uuid.UUID]*models.Profile)
	history := make([]models.HistoryEntry, 0, len(txs))
	for _, tx := range txs {
		entry := models.HistoryEntry{Transaction: tx, Direction: tx.DirectionFor(callerID)}
		otherID := tx.Counterparty(callerID)
		other, seen := counterparties[otherID]
		if !seen {
			other, err = s.profileRepo.GetByID(ctx, otherID)
			if err != nil {
				slog.Warn("counterparty lookup failed", "user_id", callerID, "counterparty_id", otherID, "error", err)
				other = nil
			}
			counterparties[otherID] = other
		}
		if other != nil {
			entry.CounterpartyPhone = other.Phone
			entry.CounterpartyName = other.Name
		}
		history = append(history, entry)
	}

	slog.Info("transaction history retrieved", "user_id", callerID, "count", len(history))
	return history, nil
}

func (s *ledgerService) GetSpendingByCategory(ctx context.Context, callerID uuid.UUID) (*models.SpendingSummary, error) {
	ctx, span := otel.Tracer("ledger-service").Start(ctx, "GetSpendingByCategory")
	defer span.End()

	spend, err := s.transactionRepo.SpendingByCategory(ctx, callerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "spending aggregation failed")
		slog.Error("failed to aggregate spending", "user_id", callerID, "error", err)
		return nil, err
	}

	summary := &models.SpendingSummary{Categories: spend}
	for _, c := range spend {
		summary.Total += c.Total
	}
	return summary, nil
}
