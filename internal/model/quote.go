package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// RateQuote is a single extracted exchange rate row.
type RateQuote struct {
	CurrencyCode  string           `json:"currency_code"`
	Buy           decimal.Decimal  `json:"buy"`
	Sell          decimal.Decimal  `json:"sell"`
	ChangePercent *decimal.Decimal `json:"change_percent,omitempty"`
}

// Valid reports whether the quote satisfies the model invariants:
// a non-empty code and strictly positive buy/sell values.
func (q RateQuote) Valid() bool {
	return q.CurrencyCode != "" && q.Buy.IsPositive() && q.Sell.IsPositive()
}

// MergeQuotes collapses duplicate currency codes (last entry wins) and
// returns the result sorted by code ascending.
func MergeQuotes(quotes []RateQuote) []RateQuote {
	byCode := make(map[string]RateQuote, len(quotes))
	for _, q := range quotes {
		byCode[q.CurrencyCode] = q
	}
	out := make([]RateQuote, 0, len(byCode))
	for _, q := range byCode {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CurrencyCode < out[j].CurrencyCode })
	return out
}

// QuoteBatch is the outcome of one extraction pass over a source document.
type QuoteBatch struct {
	Source      string      `json:"source"`
	Fingerprint string      `json:"fingerprint"`
	Quotes      []RateQuote `json:"quotes"`
	FetchedAt   time.Time   `json:"fetched_at"`
}
