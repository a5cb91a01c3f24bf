package repair

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/cybokron/ratewatch/internal/model"
	"github.com/cybokron/ratewatch/internal/normalize"
)

// Apply runs a validated RepairConfig against a document. It is the fixed,
// non-extensible interpreter side of the config generator: the config only
// says where to look, never what to execute. A document with zero matching
// rows yields an empty list, never an error.
//
// The caller is responsible for having built cfg through
// model.ParseRepairConfig; Apply still refuses configs that fail Validate
// as a second line of defense.
func Apply(cfg *model.RepairConfig, doc *goquery.Document, knownCodes map[string]struct{}) []model.RateQuote {
	if cfg == nil || cfg.Validate() != nil {
		return nil
	}

	var quotes []model.RateQuote
	doc.Find(cfg.RowSelector).Each(func(i int, row *goquery.Selection) {
		if i < cfg.SkipHeaderRows {
			return
		}

		currencyText, ok := columnText(row, cfg.Columns.Currency)
		if !ok {
			return
		}
		code, ok := normalize.CodeFromText(currencyText, cfg.CurrencyNameMap, knownCodes)
		if !ok {
			return
		}

		buyText, ok := columnText(row, cfg.Columns.Buy)
		if !ok {
			return
		}
		buy, ok := normalize.ParsePositive(buyText, cfg.NumberFormat)
		if !ok {
			return
		}

		sellText, ok := columnText(row, cfg.Columns.Sell)
		if !ok {
			return
		}
		sell, ok := normalize.ParsePositive(sellText, cfg.NumberFormat)
		if !ok {
			return
		}

		q := model.RateQuote{CurrencyCode: code, Buy: buy, Sell: sell}
		if cfg.Columns.Change != nil {
			if changeText, ok := columnText(row, *cfg.Columns.Change); ok {
				if change, ok := normalize.ParseNumber(changeText, cfg.NumberFormat); ok {
					q.ChangePercent = &change
				}
			}
		}
		quotes = append(quotes, q)
	})

	return model.MergeQuotes(quotes)
}

// columnText resolves one ColumnRef within a row: the selector takes
// precedence when present, otherwise the cell at the given index.
func columnText(row *goquery.Selection, ref model.ColumnRef) (string, bool) {
	if ref.Selector != "" {
		sel := row.Find(ref.Selector)
		if sel.Length() == 0 {
			return "", false
		}
		return sel.First().Text(), true
	}
	cells := row.Find("td, th")
	if ref.Index >= cells.Length() {
		return "", false
	}
	return cells.Eq(ref.Index).Text(), true
}
