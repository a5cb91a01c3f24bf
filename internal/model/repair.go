package model

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// NumberFormat selects how ambiguous decimal separators are resolved.
type NumberFormat string

const (
	// FormatTurkish treats a lone comma as the decimal separator.
	FormatTurkish NumberFormat = "turkish"
	// FormatStandard treats a lone dot as the decimal separator.
	FormatStandard NumberFormat = "standard"
)

// ColumnRef locates one value inside a table row, either by cell index or
// by a CSS selector scoped to the row.
type ColumnRef struct {
	Index    int    `json:"index"`
	Selector string `json:"selector,omitempty"`
}

// RepairColumns maps quote fields to row positions.
type RepairColumns struct {
	Currency ColumnRef  `json:"currency"`
	Buy      ColumnRef  `json:"buy"`
	Sell     ColumnRef  `json:"sell"`
	Change   *ColumnRef `json:"change,omitempty"`
}

// RepairConfig is a declarative, data-only description of how to locate and
// parse rate rows in a source document. It is produced by an external model
// and must never carry anything executable: the selector fields are screened
// against a denylist before the config is trusted, and the interpreter in
// internal/repair only ever reads them as CSS selectors.
type RepairConfig struct {
	RowSelector     string            `json:"row_selector"`
	Columns         RepairColumns     `json:"columns"`
	CurrencyNameMap map[string]string `json:"currency_name_map,omitempty"`
	NumberFormat    NumberFormat      `json:"number_format"`
	SkipHeaderRows  int               `json:"skip_header_rows"`
}

// selectorDenylist blocks patterns that would let a generated selector reach
// outside the document or trigger evaluation in downstream consumers.
var selectorDenylist = []string{
	"document(",
	"<?",
	"?>",
	"generate-id",
	"url(",
	"expression(",
	"@import",
	"\\",
}

// CheckSelector rejects selector text containing a denylisted pattern.
func CheckSelector(sel string) error {
	lowered := strings.ToLower(sel)
	for _, bad := range selectorDenylist {
		if strings.Contains(lowered, bad) {
			return eris.Errorf("repair config: selector contains forbidden pattern %q", bad)
		}
	}
	return nil
}

// Validate checks structural soundness and the selector denylist.
// A config that fails Validate must never be applied to a document.
func (c *RepairConfig) Validate() error {
	if strings.TrimSpace(c.RowSelector) == "" {
		return eris.New("repair config: row_selector is required")
	}
	if c.SkipHeaderRows < 0 {
		return eris.New("repair config: skip_header_rows must be non-negative")
	}
	switch c.NumberFormat {
	case FormatTurkish, FormatStandard:
	case "":
		c.NumberFormat = FormatTurkish
	default:
		return eris.Errorf("repair config: unknown number_format %q", c.NumberFormat)
	}

	refs := []ColumnRef{c.Columns.Currency, c.Columns.Buy, c.Columns.Sell}
	if c.Columns.Change != nil {
		refs = append(refs, *c.Columns.Change)
	}
	for _, ref := range refs {
		if ref.Index < 0 {
			return eris.New("repair config: column index must be non-negative")
		}
		if err := CheckSelector(ref.Selector); err != nil {
			return err
		}
	}
	if err := CheckSelector(c.RowSelector); err != nil {
		return err
	}
	return nil
}

// ParseRepairConfig is the only way to build a RepairConfig from untrusted
// bytes. It decodes and validates; the zero-trust path for model output.
func ParseRepairConfig(data []byte) (*RepairConfig, error) {
	var cfg RepairConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, eris.Wrap(err, "repair config: decode")
	}

	// Column indices default to zero, so presence has to be checked on the
	// raw document: a config naming neither a currency nor a buy column
	// cannot locate anything and is rejected outright.
	var raw struct {
		Columns map[string]json.RawMessage `json:"columns"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "repair config: decode columns")
	}
	if _, hasCur := raw.Columns["currency"]; !hasCur {
		if _, hasBuy := raw.Columns["buy"]; !hasBuy {
			return nil, eris.New("repair config: at least one of currency or buy column is required")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
