package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/honeynil/MoneyMitra/internal/models"
	pkgerrors "github.com/honeynil/MoneyMitra/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

func (r *PostgresTransactionRepository) Create(ctx context.Context, tx *models.Transaction) (err error) {
	ctx, done := startCall(ctx, "CreateTransaction")
	defer func() { done(err) }()

	if err = validateTransaction(tx); err != nil {
		slog.Error("refusing to record transaction", "method", "Create", "error", err)
		return err
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Create", "error", err)
		err = fmt.Errorf("%w: failed to begin transaction: %w", pkgerrors.ErrPersistence, err)
		return err
	}

	query := `
		INSERT INTO transactions (sender_id, receiver_id, amount, category, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err = dbTx.QueryRowContext(ctx, query,
		tx.SenderID,
		tx.ReceiverID,
		int64(tx.Amount),
		string(tx.Category),
		nullString(tx.Description),
	).Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "method", "Create", "error", rbErr)
			err = fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
		} else {
			slog.Error("failed to create transaction", "method", "Create", "sender_id", tx.SenderID, "receiver_id", tx.ReceiverID, "error", err)
		}
		err = fmt.Errorf("%w: failed to create transaction: %w", pkgerrors.ErrPersistence, err)
		return err
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Create", "error", err)
		err = fmt.Errorf("%w: failed to commit transaction: %w", pkgerrors.ErrPersistence, err)
		return err
	}

	slog.Info("transaction created", "method", "Create", "id", tx.ID, "sender_id", tx.SenderID, "receiver_id", tx.ReceiverID, "amount", tx.Amount, "category", tx.Category)
	return nil
}

func (r *PostgresTransactionRepository) ListByParticipant(ctx context.Context, userID uuid.UUID, limit int) (txs []models.Transaction, err error) {
	ctx, done := startCall(ctx, "ListTransactionsByParticipant",
		attribute.String("user_id", userID.String()),
		attribute.Int("limit", limit),
	)
	defer func() { done(err) }()

	if limit <= 0 {
		err = fmt.Errorf("%w: limit must be positive", pkgerrors.ErrInvalidInput)
		return nil, err
	}

	query := `
		SELECT id, sender_id, receiver_id, amount, category, COALESCE(description, ''), created_at
		FROM transactions
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		slog.Error("failed to list transactions", "method", "ListByParticipant", "user_id", userID, "error", err)
		err = fmt.Errorf("%w: failed to list transactions: %w", pkgerrors.ErrPersistence, err)
		return nil, err
	}
	defer rows.Close()

	txs = make([]models.Transaction, 0, limit)
	for rows.Next() {
		var tx models.Transaction
		if err = rows.Scan(&tx.ID, &tx.SenderID, &tx.ReceiverID, &tx.Amount, &tx.Category, &tx.Description, &tx.CreatedAt); err != nil {
			err = fmt.Errorf("%w: failed to scan transaction: %w", pkgerrors.ErrPersistence, err)
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("%w: failed to iterate transactions: %w", pkgerrors.ErrPersistence, err)
		return nil, err
	}

	slog.Info("transactions listed", "method", "ListByParticipant", "user_id", userID, "count", len(txs))
	return txs, nil
}

func (r *PostgresTransactionRepository) SpendingByCategory(ctx context.Context, senderID uuid.UUID) (spend []models.CategorySpend, err error) {
	ctx, done := startCall(ctx, "SpendingByCategory", attribute.String("user_id", senderID.String()))
	defer func() { done(err) }()

	query := `
		SELECT category, SUM(amount) AS total
		FROM transactions
		WHERE sender_id = $1
		GROUP BY category
		ORDER BY total DESC, category
	`
	rows, err := r.db.QueryContext(ctx, query, senderID)
	if err != nil {
		slog.Error("failed to aggregate spending", "method", "SpendingByCategory", "user_id", senderID, "error", err)
		err = fmt.Errorf("%w: failed to aggregate spending: %w", pkgerrors.ErrPersistence, err)
		return nil, err
	}
	defer rows.Close()

	spend = []models.CategorySpend{}
	for rows.Next() {
		var s models.CategorySpend
		if err = rows.Scan(&s.Category, &s.Total); err != nil {
			err = fmt.Errorf("%w: failed to scan spending row: %w", pkgerrors.ErrPersistence, err)
			return nil, err
		}
		spend = append(spend, s)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("%w: failed to iterate spending rows: %w", pkgerrors.ErrPersistence, err)
		return nil, err
	}
	return spend, nil
}

func validateTransaction(tx *models.Transaction) error {
	if tx == nil {
		return pkgerrors.ErrNilTransaction
	}
	if tx.SenderID == uuid.Nil || tx.ReceiverID == uuid.Nil {
		return fmt.Errorf("%w: sender and receiver are required", pkgerrors.ErrInvalidInput)
	}
	if tx.SenderID == tx.ReceiverID {
		return pkgerrors.ErrSelfTransfer
	}
	if tx.Amount <= 0 {
		return pkgerrors.ErrInvalidAmount
	}
	if _, err := models.ParseCategory(string(tx.Category)); err != nil || tx.Category == "" {
		return fmt.Errorf("%w: %q", pkgerrors.ErrInvalidCategory, tx.Category)
	}
	return nil
}
