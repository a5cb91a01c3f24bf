package repair

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cybokron/ratewatch/internal/model"
	"github.com/cybokron/ratewatch/internal/normalize"
	"github.com/cybokron/ratewatch/internal/resilience"
	"github.com/cybokron/ratewatch/internal/scrape"
	"github.com/cybokron/ratewatch/pkg/llm"
)

// DefaultFallbackCooldown bounds repeat AI extraction calls for an
// unchanged page.
const DefaultFallbackCooldown = 6 * time.Hour

// FallbackOptions configures the AI extraction fallback.
type FallbackOptions struct {
	Enabled        bool
	Model          string
	CooldownWindow time.Duration
	MaxTokens      int
	IgnoreCooldown bool
}

// Fallback asks the external model for extracted rates directly when the
// per-source extractor degrades. Every response row is re-validated before
// it counts; a below-minimum validated result reports empty.
type Fallback struct {
	client    llm.Client
	cooldowns *Cooldowns
	opts      FallbackOptions
	now       func() time.Time
}

// NewFallback creates the fallback. client may be nil (no credential),
// which disables it.
func NewFallback(client llm.Client, cooldowns *Cooldowns, opts FallbackOptions) *Fallback {
	if opts.CooldownWindow == 0 {
		opts.CooldownWindow = DefaultFallbackCooldown
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 2048
	}
	return &Fallback{
		client:    client,
		cooldowns: cooldowns,
		opts:      opts,
		now:       time.Now,
	}
}

// Recover implements scrape.Recoverer. Preconditions are checked in order
// and short-circuit to an empty result without any outbound call: feature
// disabled, no credential, or an active cooldown for this exact
// (source, fingerprint) pair.
func (f *Fallback) Recover(ctx context.Context, src model.SourceDescriptor, doc *goquery.Document, fingerprint string, minQuotes int, known map[string]struct{}) ([]model.RateQuote, error) {
	log := zap.L().With(zap.String("source", src.Slug), zap.String("component", "ai_fallback"))

	if !f.opts.Enabled {
		log.Debug("fallback disabled")
		return nil, nil
	}
	if f.client == nil {
		log.Debug("no model credential configured")
		return nil, nil
	}

	if !f.opts.IgnoreCooldown {
		active, err := f.cooldowns.Active(ctx, src.ID, fingerprint, f.opts.CooldownWindow, f.now())
		if err != nil {
			return nil, err
		}
		if active {
			log.Info("cooldown active, skipping AI extraction",
				zap.String("fingerprint", fingerprint),
			)
			return nil, nil
		}
	}

	quotes, err := f.extract(ctx, src, doc, known)

	// The marker is updated after every attempt, success or failure, so an
	// unchanged broken page cannot trigger repeated expensive calls.
	marker := model.CooldownMarker{
		SourceID:        src.ID,
		LastFingerprint: fingerprint,
		LastAttempt:     f.now().UTC(),
		LastQuoteCount:  len(quotes),
	}
	if setErr := f.cooldowns.Set(ctx, marker); setErr != nil {
		log.Error("failed to update cooldown marker", zap.Error(setErr))
	}

	if err != nil {
		return nil, err
	}
	if len(quotes) < minQuotes {
		log.Warn("AI extraction below minimum, discarding",
			zap.Int("quotes", len(quotes)),
			zap.Int("minimum", minQuotes),
		)
		return nil, nil
	}
	return quotes, nil
}

// aiRate is one row of the model's response. Values arrive as JSON numbers
// or localized strings; both are accepted.
type aiRate struct {
	Code   string          `json:"code"`
	Buy    json.RawMessage `json:"buy"`
	Sell   json.RawMessage `json:"sell"`
	Change json.RawMessage `json:"change"`
}

func (f *Fallback) extract(ctx context.Context, src model.SourceDescriptor, doc *goquery.Document, known map[string]struct{}) ([]model.RateQuote, error) {
	snapshot := scrape.Snapshot(doc, scrape.SnapshotMaxRows, scrape.SnapshotMaxChars)
	if snapshot == "" {
		return nil, &resilience.ValidationError{Reason: "document has no table content"}
	}

	codes := make([]string, 0, len(known))
	for code := range known {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	temperature := 0.0
	maxTokens := f.opts.MaxTokens
	resp, err := f.client.ChatCompletion(ctx, llm.ChatCompletionRequest{
		Model: f.opts.Model,
		Messages: []llm.Message{
			{Role: "system", Content: ratesSystemPrompt},
			{Role: "user", Content: ratesUserPrompt(src.DisplayName, snapshot, codes)},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return nil, &resilience.ExternalServiceError{Service: "ai_fallback", Err: err}
	}

	rows, err := decodeRates(resp.Content())
	if err != nil {
		return nil, err
	}

	var quotes []model.RateQuote
	for _, row := range rows {
		code, ok := normalize.CodeFromText(row.Code, nil, known)
		if !ok {
			continue
		}
		buy, ok := decodeRateValue(row.Buy)
		if !ok || !buy.IsPositive() {
			continue
		}
		sell, ok := decodeRateValue(row.Sell)
		if !ok || !sell.IsPositive() {
			continue
		}
		q := model.RateQuote{CurrencyCode: code, Buy: buy, Sell: sell}
		if change, ok := decodeRateValue(row.Change); ok {
			q.ChangePercent = &change
		}
		quotes = append(quotes, q)
	}

	return model.MergeQuotes(quotes), nil
}

// decodeRates accepts {"rates":[...]} or a bare array.
func decodeRates(content string) ([]aiRate, error) {
	cleaned := cleanJSON(content)
	if cleaned == "" {
		return nil, &resilience.ValidationError{Reason: "empty model response"}
	}

	var wrapped struct {
		Rates []aiRate `json:"rates"`
	}
	if err := json.Unmarshal([]byte(cleaned), &wrapped); err == nil && wrapped.Rates != nil {
		return wrapped.Rates, nil
	}

	var bare []aiRate
	if err := json.Unmarshal([]byte(cleaned), &bare); err == nil {
		return bare, nil
	}

	return nil, &resilience.ValidationError{
		Reason: "model response is not a rates payload",
		Err:    eris.Errorf("unparseable content: %.120s", cleaned),
	}
}

// decodeRateValue accepts a JSON number or a locale-formatted string.
func decodeRateValue(raw json.RawMessage) (decimal.Decimal, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero, false
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return decimal.NewFromFloat(num), true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return normalize.ParseNumber(s, model.FormatTurkish)
	}

	return decimal.Zero, false
}

var _ scrape.Recoverer = (*Fallback)(nil)
