package repository

import (
	"context"

	"github.com/honeynil/MoneyMitra/internal/models"
)

type IncidentRepository interface {
	Create(ctx context.Context, incident *models.LedgerIncident) error
}
