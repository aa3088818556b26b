package money

import (
	"encoding/json"
	"testing"

	pkgerrors "github.com/honeynil/MoneyMitra/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Amount
	}{
		{"120", 12000},
		{"120.5", 12050},
		{"0.75", 75},
		{"1.500", 150},
		{"-3", -300},
		{"0", 0},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Parse(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"abc", "", "1.005", "10000000001", "NaN"} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
		})
	}
}

func TestAmount_JSON(t *testing.T) {
	t.Run("marshal as rupee number", func(t *testing.T) {
		out, err := json.Marshal(map[string]Amount{"balance": 5000050})
		require.NoError(t, err)
		assert.JSONEq(t, `{"balance": 50000.50}`, string(out))
	})

	t.Run("unmarshal number and string", func(t *testing.T) {
		var req struct {
			A Amount `json:"a"`
			B Amount `json:"b"`
			C Amount `json:"c"`
		}
		require.NoError(t, json.Unmarshal([]byte(`{"a": 80, "b": "12.25", "c": null}`), &req))
		assert.Equal(t, Amount(8000), req.A)
		assert.Equal(t, Amount(1225), req.B)
		assert.Equal(t, Amount(0), req.C)
	})

	t.Run("unmarshal rejects sub-paise precision", func(t *testing.T) {
		var a Amount
		err := json.Unmarshal([]byte(`0.001`), &a)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	})
}

func TestAmount_Rupees(t *testing.T) {
	assert.Equal(t, "₹80.00", FromRupees(80).Rupees())
	assert.Equal(t, "₹0.05", Amount(5).Rupees())
}
