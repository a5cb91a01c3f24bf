package scrape

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/cybokron/ratewatch/internal/model"
	"github.com/cybokron/ratewatch/internal/normalize"
)

// TCMB extracts the central bank's indicative rate table. Columns are
// positional: currency, unit, forex buying, forex selling.
type TCMB struct{}

// NewTCMB creates the TCMB extractor.
func NewTCMB() *TCMB { return &TCMB{} }

func (t *TCMB) Source() model.SourceDescriptor {
	return model.SourceDescriptor{
		ID:           "tcmb",
		DisplayName:  "Türkiye Cumhuriyet Merkez Bankası",
		Slug:         "tcmb",
		FetchURL:     "https://www.tcmb.gov.tr/kurlar/kurlar_tr.html",
		AllowedHosts: []string{"tcmb.gov.tr"},
	}
}

func (t *TCMB) MinQuotes() int { return 8 }

func (t *TCMB) KnownCodes() map[string]struct{} { return codeSet() }

func (t *TCMB) Extract(doc *goquery.Document) []model.RateQuote {
	var quotes []model.RateQuote
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 4 {
			return
		}
		code, ok := normalize.CodeFromText(cells.Eq(0).Text(), turkishCurrencyNames, t.KnownCodes())
		if !ok {
			return
		}
		buy, ok := normalize.ParsePositive(cells.Eq(2).Text(), model.FormatTurkish)
		if !ok {
			return
		}
		sell, ok := normalize.ParsePositive(cells.Eq(3).Text(), model.FormatTurkish)
		if !ok {
			return
		}
		quotes = append(quotes, model.RateQuote{CurrencyCode: code, Buy: buy, Sell: sell})
	})

	quotes = model.MergeQuotes(quotes)
	if len(quotes) < t.MinQuotes() {
		zap.L().Warn("extraction below expected minimum",
			zap.String("source", t.Source().Slug),
			zap.Int("quotes", len(quotes)),
			zap.Int("minimum", t.MinQuotes()),
		)
	}
	return quotes
}

var _ Extractor = (*TCMB)(nil)

// cellText is a shared helper for extractors that need whitespace-collapsed
// cell text.
func cellText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
