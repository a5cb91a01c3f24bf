// Package normalize parses locale-ambiguous numeric text and resolves
// localized currency names to ISO codes.
package normalize

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cybokron/ratewatch/internal/model"
)

// ParseNumber parses decimal text whose separator convention is unknown.
//
// When both comma and dot are present, the separator appearing last is the
// decimal separator and the other is stripped as a thousands separator.
// With a single separator kind, the format decides: turkish reads a lone
// comma as decimal, standard reads a lone dot as decimal; the opposite
// separator is still accepted as decimal when it is the only one present,
// since real bank tables mix conventions within a page.
func ParseNumber(text string, format model.NumberFormat) (decimal.Decimal, bool) {
	cleaned := stripNonNumeric(text)
	if cleaned == "" || cleaned == "-" {
		return decimal.Zero, false
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(cleaned, ",") > 1 {
			// Multiple commas can only be thousands separators.
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else if format == model.FormatStandard && looksLikeThousands(cleaned, lastComma) {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(cleaned, ".") > 1 {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		} else if format == model.FormatTurkish && looksLikeThousands(cleaned, lastDot) {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		}
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParsePositive is ParseNumber restricted to strictly positive results.
func ParsePositive(text string, format model.NumberFormat) (decimal.Decimal, bool) {
	d, ok := ParseNumber(text, format)
	if !ok || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

// looksLikeThousands reports whether the separator at idx sits exactly three
// digits from the end, the grouping position of a thousands separator.
func looksLikeThousands(s string, idx int) bool {
	return len(s)-idx-1 == 3
}

// stripNonNumeric keeps digits, comma, dot, and a leading minus.
func stripNonNumeric(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9', r == ',', r == '.':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
