package scrape

import (
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/cybokron/ratewatch/internal/model"
	"github.com/cybokron/ratewatch/internal/normalize"
)

// YapiKredi extracts a table whose name column embeds the ISO code in
// parentheses, e.g. "Amerikan Doları (USD)".
type YapiKredi struct{}

// NewYapiKredi creates the Yapı Kredi extractor.
func NewYapiKredi() *YapiKredi { return &YapiKredi{} }

func (y *YapiKredi) Source() model.SourceDescriptor {
	return model.SourceDescriptor{
		ID:           "yapikredi",
		DisplayName:  "Yapı Kredi",
		Slug:         "yapikredi",
		FetchURL:     "https://www.yapikredi.com.tr/yatirimci-kosesi/doviz-bilgileri",
		AllowedHosts: []string{"yapikredi.com.tr"},
	}
}

func (y *YapiKredi) MinQuotes() int { return 5 }

func (y *YapiKredi) KnownCodes() map[string]struct{} { return codeSet() }

func (y *YapiKredi) Extract(doc *goquery.Document) []model.RateQuote {
	known := y.KnownCodes()
	var quotes []model.RateQuote

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}
		code, ok := normalize.CodeFromText(cellText(cells.Eq(0)), turkishCurrencyNames, known)
		if !ok {
			return
		}
		buy, ok := normalize.ParsePositive(cells.Eq(1).Text(), model.FormatTurkish)
		if !ok {
			return
		}
		sell, ok := normalize.ParsePositive(cells.Eq(2).Text(), model.FormatTurkish)
		if !ok {
			return
		}
		q := model.RateQuote{CurrencyCode: code, Buy: buy, Sell: sell}
		if cells.Length() > 3 {
			if change, ok := normalize.ParseNumber(cells.Eq(3).Text(), model.FormatTurkish); ok {
				q.ChangePercent = &change
			}
		}
		quotes = append(quotes, q)
	})

	quotes = model.MergeQuotes(quotes)
	if len(quotes) < y.MinQuotes() {
		zap.L().Warn("extraction below expected minimum",
			zap.String("source", y.Source().Slug),
			zap.Int("quotes", len(quotes)),
			zap.Int("minimum", y.MinQuotes()),
		)
	}
	return quotes
}

var _ Extractor = (*YapiKredi)(nil)
