package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/honeynil/MoneyMitra/internal/models"
	"github.com/honeynil/MoneyMitra/internal/money"
)

type ProfileRepository interface {
	Create(ctx context.Context, profile *models.Profile) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	GetByPhone(ctx context.Context, phone string) (*models.Profile, error)
	// CompareAndSwapBalance sets the balance to next only if it still equals expected.
	// It returns ErrConflict when no row matched.
	CompareAndSwapBalance(ctx context.Context, id uuid.UUID, expected, next money.Amount) error
}
