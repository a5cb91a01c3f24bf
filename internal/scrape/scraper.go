// Package scrape fetches bank rate tables, detects structural drift, and
// runs the per-source extraction state machine.
package scrape

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"github.com/cybokron/ratewatch/internal/model"
)

// Extractor is implemented once per source. Extract resolves rate rows
// using source-specific positional or attribute strategies; rows that fail
// to resolve are skipped, never fatal.
type Extractor interface {
	// Source returns the immutable descriptor for this bank.
	Source() model.SourceDescriptor

	// MinQuotes is the expected minimum row count; fewer triggers the AI
	// fallback at the engine level.
	MinQuotes() int

	// KnownCodes is the set of ISO codes this source may legitimately
	// publish. Extraction and AI recovery both filter against it.
	KnownCodes() map[string]struct{}

	Extract(doc *goquery.Document) []model.RateQuote
}

// Recoverer is the AI extraction fallback boundary. Implementations return
// an empty slice (not an error) for expected degraded outcomes: feature
// disabled, cooldown active, or a below-minimum validated result.
type Recoverer interface {
	Recover(ctx context.Context, src model.SourceDescriptor, doc *goquery.Document, fingerprint string, minQuotes int, known map[string]struct{}) ([]model.RateQuote, error)
}
