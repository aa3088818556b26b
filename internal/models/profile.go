package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/MoneyMitra/internal/money"
	pkgerrors "github.com/honeynil/MoneyMitra/pkg/errors"
)

// DefaultStartingBalance is credited to every profile at signup (50,000 rupees).
const DefaultStartingBalance = money.Amount(50_000 * 100)

type Profile struct {
	ID        uuid.UUID    `json:"id"`
	Phone     string       `json:"phone"`
	Balance   money.Amount `json:"balance"`
	Name      string       `json:"name,omitempty"`
	Email     string       `json:"email,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

var phonePattern = regexp.MustCompile(`^(\+91|91)?([6-9]\d{9})$`)

// NormalizePhone strips whitespace and the Indian country prefix and returns the
// 10-digit national number.
func NormalizePhone(raw string) (string, error) {
	compact := strings.Join(strings.Fields(raw), "")
	m := phonePattern.FindStringSubmatch(compact)
	if m == nil {
		return "", pkgerrors.ErrInvalidPhone
	}
	return m[2], nil
}
