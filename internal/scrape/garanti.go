package scrape

import (
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/cybokron/ratewatch/internal/model"
	"github.com/cybokron/ratewatch/internal/normalize"
)

// Garanti extracts a positional table whose first column carries localized
// currency names without ISO codes.
type Garanti struct{}

// NewGaranti creates the Garanti extractor.
func NewGaranti() *Garanti { return &Garanti{} }

func (g *Garanti) Source() model.SourceDescriptor {
	return model.SourceDescriptor{
		ID:           "garanti",
		DisplayName:  "Garanti BBVA",
		Slug:         "garanti",
		FetchURL:     "https://www.garantibbva.com.tr/doviz-kurlari",
		AllowedHosts: []string{"garantibbva.com.tr"},
	}
}

func (g *Garanti) MinQuotes() int { return 5 }

func (g *Garanti) KnownCodes() map[string]struct{} { return codeSet() }

func (g *Garanti) Extract(doc *goquery.Document) []model.RateQuote {
	known := g.KnownCodes()
	var quotes []model.RateQuote

	doc.Find("table tr").Each(func(i int, row *goquery.Selection) {
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
	if len(quotes) < g.MinQuotes() {
		zap.L().Warn("extraction below expected minimum",
			zap.String("source", g.Source().Slug),
			zap.Int("quotes", len(quotes)),
			zap.Int("minimum", g.MinQuotes()),
		)
	}
	return quotes
}

var _ Extractor = (*Garanti)(nil)
