package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func q(code, buy, sell string) RateQuote {
	return RateQuote{
		CurrencyCode: code,
		Buy:          decimal.RequireFromString(buy),
		Sell:         decimal.RequireFromString(sell),
	}
}

func TestRateQuoteValid(t *testing.T) {
	assert.True(t, q("USD", "43.21", "43.55").Valid())
	assert.False(t, q("USD", "0", "43.55").Valid())
	assert.False(t, q("USD", "43.21", "-1").Valid())
	assert.False(t, RateQuote{CurrencyCode: "", Buy: decimal.NewFromInt(1), Sell: decimal.NewFromInt(1)}.Valid())
}

func TestMergeQuotesLastWinsAndSorts(t *testing.T) {
	merged := MergeQuotes([]RateQuote{
		q("USD", "43.21", "43.55"),
		q("EUR", "46.80", "47.15"),
		q("USD", "44.00", "44.40"),
	})

	assert.Len(t, merged, 2)
	assert.Equal(t, "EUR", merged[0].CurrencyCode)
	assert.Equal(t, "USD", merged[1].CurrencyCode)
	assert.True(t, merged[1].Buy.Equal(decimal.RequireFromString("44.00")))
}

func TestMergeQuotesEmpty(t *testing.T) {
	assert.Empty(t, MergeQuotes(nil))
}
