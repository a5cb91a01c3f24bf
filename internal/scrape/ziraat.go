package scrape

import (
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/cybokron/ratewatch/internal/model"
	"github.com/cybokron/ratewatch/internal/normalize"
)

// Ziraat extracts rates from markup that carries the values as data
// attributes rather than positional cells.
type Ziraat struct{}

// NewZiraat creates the Ziraat extractor.
func NewZiraat() *Ziraat { return &Ziraat{} }

func (z *Ziraat) Source() model.SourceDescriptor {
	return model.SourceDescriptor{
		ID:           "ziraat",
		DisplayName:  "Ziraat Bankası",
		Slug:         "ziraat",
		FetchURL:     "https://www.ziraatbank.com.tr/tr/fiyatlar-ve-oranlar/doviz-kurlari",
		AllowedHosts: []string{"ziraatbank.com.tr"},
	}
}

func (z *Ziraat) MinQuotes() int { return 6 }

func (z *Ziraat) KnownCodes() map[string]struct{} { return codeSet() }

func (z *Ziraat) Extract(doc *goquery.Document) []model.RateQuote {
	known := z.KnownCodes()
	var quotes []model.RateQuote

	doc.Find("[data-currency]").Each(func(_ int, row *goquery.Selection) {
		code, ok := normalize.CodeFromText(row.AttrOr("data-currency", ""), nil, known)
		if !ok {
			return
		}
		buy, ok := normalize.ParsePositive(row.AttrOr("data-buy", ""), model.FormatStandard)
		if !ok {
			return
		}
		sell, ok := normalize.ParsePositive(row.AttrOr("data-sell", ""), model.FormatStandard)
		if !ok {
			return
		}
		q := model.RateQuote{CurrencyCode: code, Buy: buy, Sell: sell}
		if change, ok := normalize.ParseNumber(row.AttrOr("data-change", ""), model.FormatStandard); ok {
			q.ChangePercent = &change
		}
		quotes = append(quotes, q)
	})

	quotes = model.MergeQuotes(quotes)
	if len(quotes) < z.MinQuotes() {
		zap.L().Warn("extraction below expected minimum",
			zap.String("source", z.Source().Slug),
			zap.Int("quotes", len(quotes)),
			zap.Int("minimum", z.MinQuotes()),
		)
	}
	return quotes
}

var _ Extractor = (*Ziraat)(nil)
