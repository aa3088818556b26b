package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/honeynil/MoneyMitra/internal/models"
	pkgerrors "github.com/honeynil/MoneyMitra/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresIncidentRepository struct {
	db *sql.DB
}

func NewPostgresIncidentRepository(db *sql.DB) *PostgresIncidentRepository {
	return &PostgresIncidentRepository{db: db}
}

// Create is idempotent on the incident id; redelivered alerts are ignored.
func (r *PostgresIncidentRepository) Create(ctx context.Context, incident *models.LedgerIncident) (err error) {
	if incident == nil {
		return pkgerrors.ErrNilIncident
	}
	ctx, done := startCall(ctx, "CreateIncident", attribute.String("incident_id", incident.ID.String()))
	defer func() { done(err) }()

	creditAt := sql.NullTime{Time: incident.CreditAt, Valid: !incident.CreditAt.IsZero()}
	query := `
		INSERT INTO ledger_incidents
			(id, sender_id, receiver_id, amount, stage, debit_at, credit_at, cause, reversal_error, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.db.ExecContext(ctx, query,
		incident.ID,
		incident.SenderID,
		incident.ReceiverID,
		int64(incident.Amount),
		string(incident.Stage),
		incident.DebitAt,
		creditAt,
		incident.Cause,
		incident.ReversalErr,
		incident.DetectedAt,
	)
	if err != nil {
		slog.Error("failed to record ledger incident", "method", "Create", "incident_id", incident.ID, "error", err)
		err = fmt.Errorf("%w: failed to record ledger incident: %w", pkgerrors.ErrPersistence, err)
		return err
	}

	slog.Warn("ledger incident recorded", "method", "Create", "incident_id", incident.ID,
		"sender_id", incident.SenderID, "receiver_id", incident.ReceiverID, "amount", incident.Amount, "stage", incident.Stage)
	return nil
}
