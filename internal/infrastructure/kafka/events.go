package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/MoneyMitra/internal/models"
	"github.com/honeynil/MoneyMitra/internal/money"
)

const (
	EventTransferCompleted = "transfer.completed"
	EventCompensationAlert = "ledger.compensation_failed"
)

// TransferEvent is published after a transfer is committed.
type TransferEvent struct {
	Type          string          `json:"type"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	SenderID      uuid.UUID       `json:"sender_id"`
	ReceiverID    uuid.UUID       `json:"receiver_id"`
	Amount        money.Amount    `json:"amount"`
	Category      models.Category `json:"category"`
	CreatedAt     time.Time       `json:"created_at"`
}

func NewTransferEvent(tx *models.Transaction) TransferEvent {
	return TransferEvent{
		Type:          EventTransferCompleted,
		TransactionID: tx.ID,
		SenderID:      tx.SenderID,
		ReceiverID:    tx.ReceiverID,
		Amount:        tx.Amount,
		Category:      tx.Category,
		CreatedAt:     tx.CreatedAt,
	}
}

// CompensationAlert reports a transfer left half-applied.
type CompensationAlert struct {
	Type     string                `json:"type"`
	Incident models.LedgerIncident `json:"incident"`
}

func NewCompensationAlert(incident models.LedgerIncident) CompensationAlert {
	return CompensationAlert{Type: EventCompensationAlert, Incident: incident}
}

var errMalformedAlert = errors.New("malformed compensation alert")

func DecodeCompensationAlert(data []byte) (models.LedgerIncident, error) {
	var alert CompensationAlert
	if err := json.Unmarshal(data, &alert); err != nil {
		return models.LedgerIncident{}, fmt.Errorf("%w: %w", errMalformedAlert, err)
	}
	if alert.Type != EventCompensationAlert {
		return models.LedgerIncident{}, fmt.Errorf("%w: unexpected type %q", errMalformedAlert, alert.Type)
	}
	inc := alert.Incident
	if inc.ID == uuid.Nil || inc.SenderID == uuid.Nil || inc.ReceiverID == uuid.Nil {
		return models.LedgerIncident{}, fmt.Errorf("%w: missing identifiers", errMalformedAlert)
	}
	return inc, nil
}
