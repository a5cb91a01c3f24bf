package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybokron/ratewatch/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func testQuotes(t *testing.T) []model.RateQuote {
	t.Helper()
	change := dec(t, "0.12")
	return []model.RateQuote{
		{CurrencyCode: "EUR", Buy: dec(t, "46.80"), Sell: dec(t, "47.15")},
		{CurrencyCode: "USD", Buy: dec(t, "43.21"), Sell: dec(t, "43.55"), ChangePercent: &change},
	}
}

func TestSQLiteLatestQuotesRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertLatestQuotes(ctx, "tcmb", testQuotes(t)))

	got, err := s.LatestQuotes(ctx, "tcmb")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "EUR", got[0].CurrencyCode)
	assert.Equal(t, "USD", got[1].CurrencyCode)
	assert.True(t, got[1].Buy.Equal(dec(t, "43.21")))
	require.NotNil(t, got[1].ChangePercent)
	assert.True(t, got[1].ChangePercent.Equal(dec(t, "0.12")))
	assert.Nil(t, got[0].ChangePercent)

	// Upsert replaces values in place.
	updated := []model.RateQuote{
		{CurrencyCode: "USD", Buy: dec(t, "44.00"), Sell: dec(t, "44.40")},
	}
	require.NoError(t, s.UpsertLatestQuotes(ctx, "tcmb", updated))

	got, err = s.LatestQuotes(ctx, "tcmb")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[1].Buy.Equal(dec(t, "44.00")))
	assert.Nil(t, got[1].ChangePercent)

	// Other sources unaffected.
	other, err := s.LatestQuotes(ctx, "ziraat")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLiteQuoteHistory(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendQuoteHistory(ctx, "tcmb", testQuotes(t), at))
	require.NoError(t, s.AppendQuoteHistory(ctx, "tcmb", testQuotes(t), at.Add(time.Hour)))

	var n int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM quote_history WHERE source = 'tcmb'`)
	require.NoError(t, row.Scan(&n))
	assert.Equal(t, 4, n)
}

func TestSQLiteRepairConfigLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	rec, err := s.ActiveRepairConfig(ctx, "tcmb")
	require.NoError(t, err)
	assert.Nil(t, rec)

	cfg := &model.RepairConfig{
		RowSelector: "table tr",
		Columns: model.RepairColumns{
			Currency: model.ColumnRef{Index: 0},
			Buy:      model.ColumnRef{Index: 1},
			Sell:     model.ColumnRef{Index: 2},
		},
		NumberFormat:   model.FormatTurkish,
		SkipHeaderRows: 1,
	}

	first, err := s.SaveRepairConfig(ctx, "tcmb", cfg, "fp1")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	active, err := s.ActiveRepairConfig(ctx, "tcmb")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, first.ID, active.ID)
	assert.Equal(t, "table tr", active.Config.RowSelector)
	assert.Equal(t, 1, active.Config.SkipHeaderRows)

	// A second save supersedes the first.
	cfg2 := *cfg
	cfg2.RowSelector = "#rates tr"
	second, err := s.SaveRepairConfig(ctx, "tcmb", &cfg2, "fp2")
	require.NoError(t, err)

	active, err = s.ActiveRepairConfig(ctx, "tcmb")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)

	all, err := s.ListRepairConfigs(ctx, "tcmb")
	require.NoError(t, err)
	require.Len(t, all, 2)
	activeCount := 0
	for _, rec := range all {
		if rec.Active {
			activeCount++
			assert.Equal(t, second.ID, rec.ID)
		} else {
			assert.Equal(t, "superseded", rec.DeactivateReason)
			assert.NotNil(t, rec.DeactivatedAt)
		}
	}
	assert.Equal(t, 1, activeCount)

	// Per-source isolation.
	other, err := s.ActiveRepairConfig(ctx, "ziraat")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestSQLiteRunLog(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	last, err := s.LastRunSuccess(ctx, "tcmb")
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, s.AppendRunLog(ctx, RunEntry{
		Source: "tcmb", Status: model.RunStatusError,
		Message: "fetch failed", StartedAt: start,
	}))
	require.NoError(t, s.AppendRunLog(ctx, RunEntry{
		Source: "tcmb", Status: model.RunStatusSuccess,
		QuoteCount: 9, Fingerprint: "fp1", Drift: true,
		DurationMs: 420, StartedAt: start.Add(time.Hour),
	}))

	last, err = s.LastRunSuccess(ctx, "tcmb")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(start.Add(time.Hour)))

	runs, err := s.ListRuns(ctx, "tcmb", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.RunStatusSuccess, runs[0].Status)
	assert.Equal(t, 9, runs[0].QuoteCount)
	assert.True(t, runs[0].Drift)
	assert.Equal(t, "fetch failed", runs[1].Message)

	// Limit applies.
	runs, err = s.ListRuns(ctx, "tcmb", 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSQLiteStepLog(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	last, err := s.LastCompletedPipeline(ctx, "tcmb")
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, s.AppendStepLog(ctx, model.StepRecord{
		Source: "tcmb", Step: model.StepGenerateConfig, Status: model.StepSuccess, At: at,
	}))
	require.NoError(t, s.AppendStepLog(ctx, model.StepRecord{
		Source: "tcmb", Step: model.StepPipelineComplete, Status: model.StepSuccess,
		Metadata: map[string]any{"quote_count": 9}, At: at.Add(time.Minute),
	}))

	last, err = s.LastCompletedPipeline(ctx, "tcmb")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(at.Add(time.Minute)))

	steps, err := s.ListSteps(ctx, "tcmb", 10)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, model.StepPipelineComplete, steps[0].Step)
	assert.EqualValues(t, 9, steps[0].Metadata["quote_count"])

	// A failed terminal step does not count as completion.
	require.NoError(t, s.AppendStepLog(ctx, model.StepRecord{
		Source: "ziraat", Step: model.StepPipelineComplete, Status: model.StepError, At: at,
	}))
	last, err = s.LastCompletedPipeline(ctx, "ziraat")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestSQLiteSettings(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	v, err := s.GetSetting(ctx, "ai_model")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetSetting(ctx, "ai_model", "gpt-4o"))
	require.NoError(t, s.SetSetting(ctx, "ai_model", "gpt-4o-mini"))

	v, err = s.GetSetting(ctx, "ai_model")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", v)
}
