package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/cybokron/ratewatch/internal/db"
	"github.com/cybokron/ratewatch/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot paths of the scrape loop.
var preparedStatements = map[string]string{
	"insert_run_log": `INSERT INTO run_log (id, source, status, message, quote_count, fingerprint, drift, duration_ms, started_at)
	                   VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"insert_step_log": `INSERT INTO step_log (source, step, status, message, duration_ms, metadata, at)
	                    VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"get_setting": `SELECT value FROM settings WHERE key = $1`,
	"set_setting": `INSERT INTO settings (key, value) VALUES ($1, $2)
	                ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS latest_quotes (
	source         TEXT NOT NULL,
	currency_code  TEXT NOT NULL,
	buy            TEXT NOT NULL,
	sell           TEXT NOT NULL,
	change_percent TEXT,
	updated_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (source, currency_code)
);

CREATE TABLE IF NOT EXISTS quote_history (
	id             TEXT PRIMARY KEY,
	source         TEXT NOT NULL,
	currency_code  TEXT NOT NULL,
	buy            TEXT NOT NULL,
	sell           TEXT NOT NULL,
	change_percent TEXT,
	observed_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS repair_configs (
	id                TEXT PRIMARY KEY,
	source            TEXT NOT NULL,
	config            JSONB NOT NULL,
	fingerprint       TEXT NOT NULL,
	active            BOOLEAN NOT NULL DEFAULT TRUE,
	created_at        TIMESTAMPTZ NOT NULL,
	deactivated_at    TIMESTAMPTZ,
	deactivate_reason TEXT
);

CREATE TABLE IF NOT EXISTS run_log (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	status      TEXT NOT NULL,
	message     TEXT,
	quote_count INTEGER NOT NULL DEFAULT 0,
	fingerprint TEXT,
	drift       BOOLEAN NOT NULL DEFAULT FALSE,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	started_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS step_log (
	id          BIGSERIAL PRIMARY KEY,
	source      TEXT NOT NULL,
	step        TEXT NOT NULL,
	status      TEXT NOT NULL,
	message     TEXT,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	metadata    JSONB,
	at          TIMESTAMPTZ NOT NULL
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

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertLatestQuotes replaces the board for a source in one bulk upsert.
func (s *PostgresStore) UpsertLatestQuotes(ctx context.Context, source string, quotes []model.RateQuote) error {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(quotes))
	for _, q := range quotes {
		var change any
		if q.ChangePercent != nil {
			change = q.ChangePercent.String()
		}
		rows = append(rows, []any{source, q.CurrencyCode, q.Buy.String(), q.Sell.String(), change, now})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "latest_quotes",
		Columns:      []string{"source", "currency_code", "buy", "sell", "change_percent", "updated_at"},
		ConflictKeys: []string{"source", "currency_code"},
	}, rows)
	return eris.Wrapf(err, "postgres: upsert quotes %s", source)
}

// LatestQuotes returns the current quotes for a source, ordered by code.
func (s *PostgresStore) LatestQuotes(ctx context.Context, source string) ([]model.RateQuote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT currency_code, buy, sell, change_percent FROM latest_quotes
		 WHERE source = $1 ORDER BY currency_code`,
		source,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query latest quotes %s", source)
	}
	defer rows.Close()

	var out []model.RateQuote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate latest quotes")
}

// AppendQuoteHistory bulk-loads a history batch via COPY.
func (s *PostgresStore) AppendQuoteHistory(ctx context.Context, source string, quotes []model.RateQuote, at time.Time) error {
	rows := make([][]any, 0, len(quotes))
	for _, q := range quotes {
		var change any
		if q.ChangePercent != nil {
			change = q.ChangePercent.String()
		}
		rows = append(rows, []any{uuid.NewString(), source, q.CurrencyCode, q.Buy.String(), q.Sell.String(), change, at.UTC()})
	}

	_, err := db.CopyFrom(ctx, s.pool, "quote_history",
		[]string{"id", "source", "currency_code", "buy", "sell", "change_percent", "observed_at"},
		rows,
	)
	return eris.Wrapf(err, "postgres: append history %s", source)
}

func (s *PostgresStore) SaveRepairConfig(ctx context.Context, source string, cfg *model.RepairConfig, fingerprint string) (*RepairConfigRecord, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal repair config")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin save config")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE repair_configs SET active = FALSE, deactivated_at = $1, deactivate_reason = 'superseded'
		 WHERE source = $2 AND active`,
		now, source,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: deactivate configs %s", source)
	}

	rec := &RepairConfigRecord{
		ID:          uuid.NewString(),
		Source:      source,
		Config:      *cfg,
		Fingerprint: fingerprint,
		Active:      true,
		CreatedAt:   now,
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO repair_configs (id, source, config, fingerprint, active, created_at)
		 VALUES ($1, $2, $3, $4, TRUE, $5)`,
		rec.ID, source, string(cfgJSON), fingerprint, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert config %s", source)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit save config")
	}
	return rec, nil
}

func (s *PostgresStore) ActiveRepairConfig(ctx context.Context, source string) (*RepairConfigRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, source, config, fingerprint, active, created_at, deactivated_at, deactivate_reason
		 FROM repair_configs WHERE source = $1 AND active
		 ORDER BY created_at DESC LIMIT 1`,
		source,
	)
	rec, err := scanPGRepairConfig(row)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *PostgresStore) ListRepairConfigs(ctx context.Context, source string) ([]RepairConfigRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, config, fingerprint, active, created_at, deactivated_at, deactivate_reason
		 FROM repair_configs WHERE source = $1 ORDER BY created_at DESC`,
		source,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query configs %s", source)
	}
	defer rows.Close()

	var out []RepairConfigRecord
	for rows.Next() {
		rec, err := scanPGRepairConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate configs")
}

func (s *PostgresStore) AppendRunLog(ctx context.Context, entry RunEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_log (id, source, status, message, quote_count, fingerprint, drift, duration_ms, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.Source, string(entry.Status), entry.Message, entry.QuoteCount,
		entry.Fingerprint, entry.Drift, entry.DurationMs, entry.StartedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert run log %s", entry.Source)
}

func (s *PostgresStore) LastRunSuccess(ctx context.Context, source string) (*time.Time, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT started_at FROM run_log WHERE source = $1 AND status = $2
		 ORDER BY started_at DESC LIMIT 1`,
		source, string(model.RunStatusSuccess),
	)
	var t time.Time
	if err := row.Scan(&t); err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: query last success %s", source)
	}
	return &t, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, source string, limit int) ([]RunEntry, error) {
	query := `SELECT id, source, status, message, quote_count, fingerprint, drift, duration_ms, started_at
	          FROM run_log`
	var args []any
	if source != "" {
		query += ` WHERE source = $1`
		args = append(args, source)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query runs")
	}
	defer rows.Close()

	var out []RunEntry
	for rows.Next() {
		var (
			entry   RunEntry
			status  string
			message *string
			fp      *string
		)
		if err := rows.Scan(&entry.ID, &entry.Source, &status, &message, &entry.QuoteCount, &fp, &entry.Drift, &entry.DurationMs, &entry.StartedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		entry.Status = model.RunStatus(status)
		if message != nil {
			entry.Message = *message
		}
		if fp != nil {
			entry.Fingerprint = *fp
		}
		out = append(out, entry)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func (s *PostgresStore) AppendStepLog(ctx context.Context, rec model.StepRecord) error {
	var meta any
	if rec.Metadata != nil {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal step metadata")
		}
		meta = string(data)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO step_log (source, step, status, message, duration_ms, metadata, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.Source, rec.Step, string(rec.Status), rec.Message, rec.DurationMs, meta, rec.At.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert step log %s/%s", rec.Source, rec.Step)
}

func (s *PostgresStore) LastCompletedPipeline(ctx context.Context, source string) (*time.Time, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT at FROM step_log WHERE source = $1 AND step = $2 AND status = $3
		 ORDER BY at DESC LIMIT 1`,
		source, model.StepPipelineComplete, string(model.StepSuccess),
	)
	var t time.Time
	if err := row.Scan(&t); err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: query last pipeline %s", source)
	}
	return &t, nil
}

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (string, error) {
	row := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrapf(err, "postgres: get setting %s", key)
	}
	return value, nil
}

func (s *PostgresStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	return eris.Wrapf(err, "postgres: set setting %s", key)
}

func scanPGRepairConfig(row pgx.Row) (*RepairConfigRecord, error) {
	var (
		rec         RepairConfigRecord
		cfgJSON     []byte
		deactivated *time.Time
		reason      *string
	)
	err := row.Scan(&rec.ID, &rec.Source, &cfgJSON, &rec.Fingerprint, &rec.Active, &rec.CreatedAt, &deactivated, &reason)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan repair config")
	}
	if err := json.Unmarshal(cfgJSON, &rec.Config); err != nil {
		return nil, eris.Wrap(err, "postgres: decode repair config")
	}
	rec.DeactivatedAt = deactivated
	if reason != nil {
		rec.DeactivateReason = *reason
	}
	return &rec, nil
}

var _ Store = (*PostgresStore)(nil)
