package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/cybokron/ratewatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS latest_quotes (
	source         TEXT NOT NULL,
	currency_code  TEXT NOT NULL,
	buy            TEXT NOT NULL,
	sell           TEXT NOT NULL,
	change_percent TEXT,
	updated_at     DATETIME NOT NULL,
	PRIMARY KEY (source, currency_code)
);

CREATE TABLE IF NOT EXISTS quote_history (
	id             TEXT PRIMARY KEY,
	source         TEXT NOT NULL,
	currency_code  TEXT NOT NULL,
	buy            TEXT NOT NULL,
	sell           TEXT NOT NULL,
	change_percent TEXT,
	observed_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS repair_configs (
	id                TEXT PRIMARY KEY,
	source            TEXT NOT NULL,
	config            TEXT NOT NULL,
	fingerprint       TEXT NOT NULL,
	active            INTEGER NOT NULL DEFAULT 1,
	created_at        DATETIME NOT NULL,
	deactivated_at    DATETIME,
	deactivate_reason TEXT
);

CREATE TABLE IF NOT EXISTS run_log (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	status      TEXT NOT NULL,
	message     TEXT,
	quote_count INTEGER NOT NULL DEFAULT 0,
	fingerprint TEXT,
	drift       INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	started_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS step_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	source      TEXT NOT NULL,
	step        TEXT NOT NULL,
	status      TEXT NOT NULL,
	message     TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	metadata    TEXT,
	at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_quote_history_source ON quote_history(source, observed_at);
CREATE INDEX IF NOT EXISTS idx_repair_configs_source ON repair_configs(source, active);
CREATE INDEX IF NOT EXISTS idx_run_log_source ON run_log(source, started_at);
CREATE INDEX IF NOT EXISTS idx_step_log_source ON step_log(source, step, at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertLatestQuotes(ctx context.Context, source string, quotes []model.RateQuote) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, q := range quotes {
		var change any
		if q.ChangePercent != nil {
			change = q.ChangePercent.String()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO latest_quotes (source, currency_code, buy, sell, change_percent, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(source, currency_code) DO UPDATE SET
			   buy = excluded.buy,
			   sell = excluded.sell,
			   change_percent = excluded.change_percent,
			   updated_at = excluded.updated_at`,
			source, q.CurrencyCode, q.Buy.String(), q.Sell.String(), change, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert quote %s/%s", source, q.CurrencyCode)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert")
}

// LatestQuotes returns the current quotes for a source, ordered by code.
func (s *SQLiteStore) LatestQuotes(ctx context.Context, source string) ([]model.RateQuote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT currency_code, buy, sell, change_percent FROM latest_quotes
		 WHERE source = ? ORDER BY currency_code`,
		source,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query latest quotes %s", source)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RateQuote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate latest quotes")
}

func (s *SQLiteStore) AppendQuoteHistory(ctx context.Context, source string, quotes []model.RateQuote, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin history")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, q := range quotes {
		var change any
		if q.ChangePercent != nil {
			change = q.ChangePercent.String()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO quote_history (id, source, currency_code, buy, sell, change_percent, observed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), source, q.CurrencyCode, q.Buy.String(), q.Sell.String(), change, at.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert history %s/%s", source, q.CurrencyCode)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit history")
}

func (s *SQLiteStore) SaveRepairConfig(ctx context.Context, source string, cfg *model.RepairConfig, fingerprint string) (*RepairConfigRecord, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal repair config")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin save config")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE repair_configs SET active = 0, deactivated_at = ?, deactivate_reason = 'superseded'
		 WHERE source = ? AND active = 1`,
		now, source,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: deactivate configs %s", source)
	}

	rec := &RepairConfigRecord{
		ID:          uuid.NewString(),
		Source:      source,
		Config:      *cfg,
		Fingerprint: fingerprint,
		Active:      true,
		CreatedAt:   now,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO repair_configs (id, source, config, fingerprint, active, created_at)
		 VALUES (?, ?, ?, ?, 1, ?)`,
		rec.ID, source, string(cfgJSON), fingerprint, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert config %s", source)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit save config")
	}
	return rec, nil
}

func (s *SQLiteStore) ActiveRepairConfig(ctx context.Context, source string) (*RepairConfigRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, config, fingerprint, active, created_at, deactivated_at, deactivate_reason
		 FROM repair_configs WHERE source = ? AND active = 1
		 ORDER BY created_at DESC LIMIT 1`,
		source,
	)
	rec, err := scanRepairConfig(row)
	if eris.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *SQLiteStore) ListRepairConfigs(ctx context.Context, source string) ([]RepairConfigRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, config, fingerprint, active, created_at, deactivated_at, deactivate_reason
		 FROM repair_configs WHERE source = ? ORDER BY created_at DESC`,
		source,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query configs %s", source)
	}
	defer rows.Close() //nolint:errcheck

	var out []RepairConfigRecord
	for rows.Next() {
		rec, err := scanRepairConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate configs")
}

func (s *SQLiteStore) AppendRunLog(ctx context.Context, entry RunEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_log (id, source, status, message, quote_count, fingerprint, drift, duration_ms, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Source, string(entry.Status), entry.Message, entry.QuoteCount,
		entry.Fingerprint, boolToInt(entry.Drift), entry.DurationMs, entry.StartedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert run log %s", entry.Source)
}

func (s *SQLiteStore) LastRunSuccess(ctx context.Context, source string) (*time.Time, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM run_log WHERE source = ? AND status = ?
		 ORDER BY started_at DESC LIMIT 1`,
		source, string(model.RunStatusSuccess),
	)
	var t time.Time
	if err := row.Scan(&t); err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: query last success %s", source)
	}
	return &t, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, source string, limit int) ([]RunEntry, error) {
	query := `SELECT id, source, status, message, quote_count, fingerprint, drift, duration_ms, started_at
	          FROM run_log WHERE 1=1`
	var args []any
	if source != "" {
		query += ` AND source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []RunEntry
	for rows.Next() {
		var (
			entry   RunEntry
			status  string
			message sql.NullString
			fp      sql.NullString
			drift   int
		)
		if err := rows.Scan(&entry.ID, &entry.Source, &status, &message, &entry.QuoteCount, &fp, &drift, &entry.DurationMs, &entry.StartedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		entry.Status = model.RunStatus(status)
		entry.Message = message.String
		entry.Fingerprint = fp.String
		entry.Drift = drift != 0
		out = append(out, entry)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) AppendStepLog(ctx context.Context, rec model.StepRecord) error {
	var meta any
	if rec.Metadata != nil {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal step metadata")
		}
		meta = string(data)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO step_log (source, step, status, message, duration_ms, metadata, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Source, rec.Step, string(rec.Status), rec.Message, rec.DurationMs, meta, rec.At.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert step log %s/%s", rec.Source, rec.Step)
}

func (s *SQLiteStore) LastCompletedPipeline(ctx context.Context, source string) (*time.Time, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT at FROM step_log WHERE source = ? AND step = ? AND status = ?
		 ORDER BY at DESC LIMIT 1`,
		source, model.StepPipelineComplete, string(model.StepSuccess),
	)
	var t time.Time
	if err := row.Scan(&t); err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: query last pipeline %s", source)
	}
	return &t, nil
}

// ListSteps returns recent step records for a source, newest first.
func (s *SQLiteStore) ListSteps(ctx context.Context, source string, limit int) ([]model.StepRecord, error) {
	query := `SELECT source, step, status, message, duration_ms, metadata, at
	          FROM step_log WHERE source = ? ORDER BY at DESC, id DESC`
	args := []any{source}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query steps %s", source)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.StepRecord
	for rows.Next() {
		var (
			rec     model.StepRecord
			status  string
			message sql.NullString
			meta    sql.NullString
		)
		if err := rows.Scan(&rec.Source, &rec.Step, &status, &message, &rec.DurationMs, &meta, &rec.At); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan step")
		}
		rec.Status = model.StepStatus(status)
		rec.Message = message.String
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &rec.Metadata); err != nil {
				return nil, eris.Wrap(err, "sqlite: decode step metadata")
			}
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate steps")
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrapf(err, "sqlite: get setting %s", key)
	}
	return value, nil
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return eris.Wrapf(err, "sqlite: set setting %s", key)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuote(row rowScanner) (model.RateQuote, error) {
	var (
		q      model.RateQuote
		buy    string
		sell   string
		change sql.NullString
	)
	if err := row.Scan(&q.CurrencyCode, &buy, &sell, &change); err != nil {
		return q, eris.Wrap(err, "sqlite: scan quote")
	}
	var err error
	if q.Buy, err = decimalFromDB(buy); err != nil {
		return q, err
	}
	if q.Sell, err = decimalFromDB(sell); err != nil {
		return q, err
	}
	if change.Valid {
		c, err := decimalFromDB(change.String)
		if err != nil {
			return q, err
		}
		q.ChangePercent = &c
	}
	return q, nil
}

func scanRepairConfig(row rowScanner) (*RepairConfigRecord, error) {
	var (
		rec         RepairConfigRecord
		cfgJSON     string
		active      int
		deactivated sql.NullTime
		reason      sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.Source, &cfgJSON, &rec.Fingerprint, &active, &rec.CreatedAt, &deactivated, &reason)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan repair config")
	}
	if err := json.Unmarshal([]byte(cfgJSON), &rec.Config); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode repair config")
	}
	rec.Active = active != 0
	if deactivated.Valid {
		rec.DeactivatedAt = &deactivated.Time
	}
	rec.DeactivateReason = reason.String
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteStore)(nil)
