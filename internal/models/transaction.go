package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/MoneyMitra/internal/money"
	pkgerrors "github.com/honeynil/MoneyMitra/pkg/errors"
)

type Transaction struct {
	ID          uuid.UUID    `json:"id"`
	SenderID    uuid.UUID    `json:"sender_id"`
	ReceiverID  uuid.UUID    `json:"receiver_id"`
	Amount      money.Amount `json:"amount"`
	Category    Category     `json:"category"`
	Description string       `json:"description,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

type Category string

const (
	CategoryFood          Category = "Food"
	CategoryTravel        Category = "Travel"
	CategoryBills         Category = "Bills"
	CategoryShopping      Category = "Shopping"
	CategoryEntertainment Category = "Entertainment"
	CategoryOther         Category = "Other"
)

var Categories = []Category{
	CategoryFood,
	CategoryTravel,
	CategoryBills,
	CategoryShopping,
	CategoryEntertainment,
	CategoryOther,
}

// ParseCategory defaults an empty label to Other and matches case-insensitively.
func ParseCategory(raw string) (Category, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return CategoryOther, nil
	}
	for _, c := range Categories {
		if strings.EqualFold(raw, string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", pkgerrors.ErrInvalidCategory, raw)
}

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// DirectionFor reports whether userID sent or received the transaction.
func (t Transaction) DirectionFor(userID uuid.UUID) Direction {
	if t.SenderID == userID {
		return DirectionSent
	}
	return DirectionReceived
}

// Counterparty returns the other participant from userID's point of view.
func (t Transaction) Counterparty(userID uuid.UUID) uuid.UUID {
	if t.SenderID == userID {
		return t.ReceiverID
	}
	return t.SenderID
}

// HistoryEntry is a transaction as seen by one participant.
type HistoryEntry struct {
	Transaction
	Direction         Direction `json:"direction"`
	CounterpartyPhone string    `json:"counterparty_phone,omitempty"`
	CounterpartyName  string    `json:"counterparty_name,omitempty"`
}

type CategorySpend struct {
	Category Category     `json:"category"`
	Total    money.Amount `json:"total"`
}

type SpendingSummary struct {
	Total      money.Amount    `json:"total"`
	Categories []CategorySpend `json:"categories"`
}
