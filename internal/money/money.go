// Package money holds currency amounts as integer paise.
package money

import (
	"bytes"
	"fmt"

	pkgerrors "github.com/honeynil/MoneyMitra/pkg/errors"
	"github.com/shopspring/decimal"
)

// MaxAmount bounds any single amount the service accepts (10 billion rupees).
const MaxAmount Amount = 1_000_000_000_000

// Amount is a value in minor units (paise). On the wire it is a number in rupees.
type Amount int64

// FromRupees converts whole rupees to an Amount.
func FromRupees(rupees int64) Amount {
	return Amount(rupees * 100)
}

// FromDecimal converts a rupee value to paise. Values with more than two
// fractional digits or beyond MaxAmount yield ErrInvalidAmount. Sign is kept.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	minor := d.Shift(2)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than two decimal places", pkgerrors.ErrInvalidAmount, d.String())
	}
	limit := decimal.NewFromInt(int64(MaxAmount))
	if minor.Abs().GreaterThan(limit) {
		return 0, fmt.Errorf("%w: %s exceeds the maximum amount", pkgerrors.ErrInvalidAmount, d.String())
	}
	return Amount(minor.IntPart()), nil
}

// Parse reads a rupee value such as "120", "120.5" or "0.75".
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", pkgerrors.ErrInvalidAmount, s)
	}
	return FromDecimal(d)
}

func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// Rupees renders the amount with the rupee sign, e.g. ₹80.00.
func (a Amount) Rupees() string {
	return "₹" + a.String()
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted number. null leaves the amount at zero.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	parsed, err := Parse(string(bytes.Trim(data, `"`)))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
