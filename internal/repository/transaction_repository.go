package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/honeynil/MoneyMitra/internal/models"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	// ListByParticipant returns transactions where userID is sender or receiver, newest first.
	ListByParticipant(ctx context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error)
	SpendingByCategory(ctx context.Context, senderID uuid.UUID) ([]models.CategorySpend, error)
}
