package repair

import (
	"fmt"
	"strings"
)

// ratesSystemPrompt asks for extracted rate rows directly. Used by the
// extraction fallback when the normal extractor degrades.
const ratesSystemPrompt = `You extract foreign-exchange rates from bank rate tables.

Rules:
- Return ONLY valid JSON, no prose, matching exactly: {"rates":[{"code":"USD","buy":43.21,"sell":43.55,"change":-0.12}]}
- "code" is the ISO 4217 alpha code in uppercase
- "buy" and "sell" are the bank's buy and sell prices as numbers; "change" is the daily percent change and may be omitted
- Skip rows where you cannot identify both a currency and both prices
- Never invent values that are not present in the table`

// configSystemPrompt asks for a parsing configuration, not data. The
// contract is central to the safety model: the model may only describe
// where values live, as CSS selectors and cell indices.
const configSystemPrompt = `You repair the parsing configuration for a broken bank exchange-rate scraper.

You are given a snapshot of the page's table content. Respond with ONLY valid JSON, no prose, matching exactly:
{
  "row_selector": "<CSS selector matching one rate row>",
  "columns": {
    "currency": {"index": 0},
    "buy": {"index": 1},
    "sell": {"index": 2},
    "change": {"index": 3}
  },
  "currency_name_map": {"amerikan dolari": "USD"},
  "number_format": "turkish",
  "skip_header_rows": 1
}

Rules:
- Selectors must be plain CSS selectors. No XPath, no functions, no URLs, no escape sequences.
- Column "index" is the zero-based cell position; an optional "selector" may locate the value inside the row instead.
- "number_format" is "turkish" when decimals use a comma, "standard" when they use a dot.
- "currency_name_map" maps lowercase localized currency names to ISO codes; include it when the table has no visible codes.
- Omit "change" if the table has no change column.
- Describe only where values live. Do not return rate data.`

// ratesUserPrompt embeds the bounded table snapshot for direct extraction.
func ratesUserPrompt(source, snapshot string, knownCodes []string) string {
	return fmt.Sprintf(`Bank: %s
Known currency codes: %s

Table content (cells separated by " | "):
%s`, source, strings.Join(knownCodes, ", "), snapshot)
}

// configUserPrompt embeds the snapshot for config generation.
func configUserPrompt(source, snapshot string) string {
	return fmt.Sprintf(`Bank: %s

Table content (one line per row, cells separated by " | "):
%s

Return the parsing configuration JSON.`, source, snapshot)
}
