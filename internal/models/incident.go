package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/MoneyMitra/internal/money"
)

type CompensationStage string

const (
	StageCredit CompensationStage = "credit"
	StageRecord CompensationStage = "record"
)

// LedgerIncident is a transfer left half-applied after a failed reversal.
type LedgerIncident struct {
	ID          uuid.UUID         `json:"id"`
	SenderID    uuid.UUID         `json:"sender_id"`
	ReceiverID  uuid.UUID         `json:"receiver_id"`
	Amount      money.Amount      `json:"amount"`
	Stage       CompensationStage `json:"stage"`
	DebitAt     time.Time         `json:"debit_at"`
	CreditAt    time.Time         `json:"credit_at"`
	Cause       string            `json:"cause"`
	ReversalErr string            `json:"reversal_error"`
	DetectedAt  time.Time         `json:"detected_at"`
}
