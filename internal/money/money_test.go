package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd_SameCurrency(t *testing.T) {
	a := New(5000, "usd")
	b := New(3000, "USD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(8000), sum.AmountMinor)
	assert.Equal(t, "USD", sum.Currency)
}

func TestAdd_CurrencyMismatch(t *testing.T) {
	a := New(5000, "USD")
	b := New(3000, "EUR")

	_, err := a.Add(b)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)

	_, err = a.Sub(b)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestValidCurrency(t *testing.T) {
	assert.True(t, ValidCurrency("USD"))
	assert.True(t, ValidCurrency("GBP"))
	assert.False(t, ValidCurrency("usd"))
	assert.False(t, ValidCurrency("US"))
	assert.False(t, ValidCurrency("DOLLARS"))
	assert.False(t, ValidCurrency(""))
}
