package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "quote_history", []string{"source", "currency_code"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"source", "currency_code", "buy", "sell"}
	mock.ExpectCopyFrom(pgx.Identifier{"quote_history"}, cols).WillReturnResult(2)

	rows := [][]any{
		{"tcmb", "USD", "43.21", "43.55"},
		{"tcmb", "EUR", "46.80", "47.15"},
	}
	n, err := CopyFrom(context.Background(), mock, "quote_history", cols, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"source", "currency_code"}
	mock.ExpectCopyFrom(pgx.Identifier{"quote_history"}, cols).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "quote_history", cols, [][]any{{"tcmb", "USD"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO quote_history")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_Validation(t *testing.T) {
	_, err := BulkUpsert(context.Background(), nil, UpsertConfig{Table: "latest_quotes"}, [][]any{{"x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns")

	_, err = BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:   "latest_quotes",
		Columns: []string{"source"},
	}, [][]any{{"x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys")

	n, err := BulkUpsert(context.Background(), nil, UpsertConfig{}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"source", "currency_code", "buy", "sell"}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_latest_quotes"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_latest_quotes"}, cols).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "latest_quotes"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	rows := [][]any{
		{"tcmb", "USD", "43.21", "43.55"},
		{"tcmb", "EUR", "46.80", "47.15"},
	}
	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "latest_quotes",
		Columns:      cols,
		ConflictKeys: []string{"source", "currency_code"},
	}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
