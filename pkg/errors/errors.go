package errors

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrProfileNotFound     = errors.New("profile not found")
	ErrProfileExists       = errors.New("profile already exists")
	ErrPhoneTaken          = errors.New("phone number is already registered")
	ErrNilProfile          = errors.New("profile is nil")
	ErrNilTransaction      = errors.New("transaction is nil")
	ErrNilIncident         = errors.New("incident is nil")
	ErrInvalidAmount       = errors.New("amount must be a positive value with at most two decimal places")
	ErrInvalidCategory     = errors.New("invalid category")
	ErrInvalidPhone        = errors.New("please enter a valid phone number")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrReceiverNotFound    = errors.New("receiver not found")
	ErrSelfTransfer        = errors.New("cannot send money to yourself")
	ErrConflict            = errors.New("balance changed concurrently, please retry")
	ErrPersistence         = errors.New("ledger store unavailable")
	ErrCompensationFailure = errors.New("transfer could not be completed and has been flagged for reconciliation")
	ErrRequestInProgress   = errors.New("request already in progress")
	ErrAdviceUnavailable   = errors.New("AI service unavailable")
)

// CompensationError reports a transfer whose partial effects could not be reversed.
// The ledger is inconsistent until an operator reconciles it.
type CompensationError struct {
	SenderID   uuid.UUID
	ReceiverID uuid.UUID
	// Amount is in paise.
	Amount      int64
	Stage       string
	DebitAt     time.Time
	CreditAt    time.Time
	Cause       error
	ReversalErr error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation failed at %s stage (sender %s, receiver %s, amount ₹%s): cause: %v; reversal: %v",
		e.Stage, e.SenderID, e.ReceiverID, decimal.New(e.Amount, -2).StringFixed(2), e.Cause, e.ReversalErr)
}

// Is matches ErrCompensationFailure only. Cause is not unwrapped: a compensation
// failure must never read as a retryable Conflict.
func (e *CompensationError) Is(target error) bool {
	return target == ErrCompensationFailure
}
