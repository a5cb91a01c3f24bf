package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybokron/ratewatch/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresActiveRepairConfig_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, source, config, fingerprint, active, created_at, deactivated_at, deactivate_reason`).
		WithArgs("tcmb").
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.ActiveRepairConfig(context.Background(), "tcmb")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresActiveRepairConfig_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cfgJSON := []byte(`{"row_selector":"table tr","columns":{"currency":{"index":0},"buy":{"index":1},"sell":{"index":2}},"number_format":"turkish","skip_header_rows":1}`)
	rows := pgxmock.NewRows([]string{"id", "source", "config", "fingerprint", "active", "created_at", "deactivated_at", "deactivate_reason"}).
		AddRow("cfg-1", "tcmb", cfgJSON, "fp1", true, created, (*time.Time)(nil), (*string)(nil))

	mock.ExpectQuery(`SELECT id, source, config, fingerprint, active`).
		WithArgs("tcmb").
		WillReturnRows(rows)

	rec, err := s.ActiveRepairConfig(context.Background(), "tcmb")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "cfg-1", rec.ID)
	assert.Equal(t, "table tr", rec.Config.RowSelector)
	assert.Equal(t, model.FormatTurkish, rec.Config.NumberFormat)
	assert.True(t, rec.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveRepairConfig(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE repair_configs SET active = FALSE`).
		WithArgs(pgxmock.AnyArg(), "tcmb").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO repair_configs`).
		WithArgs(pgxmock.AnyArg(), "tcmb", pgxmock.AnyArg(), "fp2", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	cfg := &model.RepairConfig{
		RowSelector: "table tr",
		Columns: model.RepairColumns{
			Currency: model.ColumnRef{Index: 0},
			Buy:      model.ColumnRef{Index: 1},
			Sell:     model.ColumnRef{Index: 2},
		},
		NumberFormat: model.FormatTurkish,
	}
	rec, err := s.SaveRepairConfig(context.Background(), "tcmb", cfg, "fp2")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.True(t, rec.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendRunLog(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO run_log`).
		WithArgs(pgxmock.AnyArg(), "tcmb", "success", "", 9, "fp1", true, int64(420), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.AppendRunLog(context.Background(), RunEntry{
		Source: "tcmb", Status: model.RunStatusSuccess,
		QuoteCount: 9, Fingerprint: "fp1", Drift: true,
		DurationMs: 420, StartedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLastCompletedPipeline_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT at FROM step_log`).
		WithArgs("tcmb", model.StepPipelineComplete, "success").
		WillReturnError(pgx.ErrNoRows)

	last, err := s.LastCompletedPipeline(context.Background(), "tcmb")
	require.NoError(t, err)
	assert.Nil(t, last)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSettings(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT value FROM settings`).
		WithArgs("ai_model").
		WillReturnError(pgx.ErrNoRows)

	v, err := s.GetSetting(context.Background(), "ai_model")
	require.NoError(t, err)
	assert.Empty(t, v)

	mock.ExpectExec(`INSERT INTO settings`).
		WithArgs("ai_model", "gpt-4o-mini").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SetSetting(context.Background(), "ai_model", "gpt-4o-mini"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
