// Package store persists quotes, repair configs, run and step logs, and
// the small settings KV used for cooldown markers.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/cybokron/ratewatch/internal/model"
)

// RunEntry is one row of the per-source run log.
type RunEntry struct {
	ID          string           `json:"id"`
	Source      string           `json:"source"`
	Status      model.RunStatus  `json:"status"`
	Message     string           `json:"message,omitempty"`
	QuoteCount  int              `json:"quote_count"`
	Fingerprint string           `json:"fingerprint,omitempty"`
	Drift       bool             `json:"drift"`
	DurationMs  int64            `json:"duration_ms"`
	StartedAt   time.Time        `json:"started_at"`
}

// RepairConfigRecord is a persisted RepairConfig with its activation state.
// Superseded configs are deactivated, never deleted, to keep an audit trail.
type RepairConfigRecord struct {
	ID               string             `json:"id"`
	Source           string             `json:"source"`
	Config           model.RepairConfig `json:"config"`
	Fingerprint      string             `json:"fingerprint"`
	Active           bool               `json:"active"`
	CreatedAt        time.Time          `json:"created_at"`
	DeactivatedAt    *time.Time         `json:"deactivated_at,omitempty"`
	DeactivateReason string             `json:"deactivate_reason,omitempty"`
}

// Store is the persistence boundary for the scrape and self-healing layers.
type Store interface {
	// Quotes
	UpsertLatestQuotes(ctx context.Context, source string, quotes []model.RateQuote) error
	LatestQuotes(ctx context.Context, source string) ([]model.RateQuote, error)
	AppendQuoteHistory(ctx context.Context, source string, quotes []model.RateQuote, at time.Time) error

	// Repair configs: SaveRepairConfig deactivates any currently active
	// config for the source and inserts the new one as active, atomically.
	SaveRepairConfig(ctx context.Context, source string, cfg *model.RepairConfig, fingerprint string) (*RepairConfigRecord, error)
	ActiveRepairConfig(ctx context.Context, source string) (*RepairConfigRecord, error)
	ListRepairConfigs(ctx context.Context, source string) ([]RepairConfigRecord, error)

	// Run log
	AppendRunLog(ctx context.Context, entry RunEntry) error
	LastRunSuccess(ctx context.Context, source string) (*time.Time, error)
	ListRuns(ctx context.Context, source string, limit int) ([]RunEntry, error)

	// Step audit log
	AppendStepLog(ctx context.Context, rec model.StepRecord) error
	LastCompletedPipeline(ctx context.Context, source string) (*time.Time, error)

	// Settings KV (cooldown markers, model override, fingerprints)
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Rates are stored as decimal strings so no backend ever rounds them.
func decimalFromDB(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "store: corrupt decimal %q", s)
	}
	return d, nil
}
