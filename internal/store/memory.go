package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cybokron/ratewatch/internal/model"
)

// MemoryStore is a Store kept entirely in process memory. It backs tests
// and ad-hoc runs where no database is configured; semantics match the
// SQLite backend, including single-active repair configs.
type MemoryStore struct {
	mu       sync.Mutex
	latest   map[string][]model.RateQuote
	history  []historyRow
	configs  []RepairConfigRecord
	runs     []RunEntry
	steps    []model.StepRecord
	settings map[string]string
	now      func() time.Time
}

type historyRow struct {
	source string
	quotes []model.RateQuote
	at     time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		latest:   make(map[string][]model.RateQuote),
		settings: make(map[string]string),
		now:      time.Now,
	}
}

func (s *MemoryStore) UpsertLatestQuotes(_ context.Context, source string, quotes []model.RateQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[source] = append([]model.RateQuote(nil), quotes...)
	return nil
}

// LatestQuotes returns the current quotes for a source.
func (s *MemoryStore) LatestQuotes(_ context.Context, source string) ([]model.RateQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.RateQuote(nil), s.latest[source]...), nil
}

func (s *MemoryStore) AppendQuoteHistory(_ context.Context, source string, quotes []model.RateQuote, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, historyRow{
		source: source,
		quotes: append([]model.RateQuote(nil), quotes...),
		at:     at,
	})
	return nil
}

// HistoryCount reports how many history batches a source has accumulated.
func (s *MemoryStore) HistoryCount(source string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.history {
		if row.source == source {
			n++
		}
	}
	return n
}

func (s *MemoryStore) SaveRepairConfig(_ context.Context, source string, cfg *model.RepairConfig, fingerprint string) (*RepairConfigRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	for i := range s.configs {
		if s.configs[i].Source == source && s.configs[i].Active {
			s.configs[i].Active = false
			s.configs[i].DeactivatedAt = &now
			s.configs[i].DeactivateReason = "superseded"
		}
	}

	rec := RepairConfigRecord{
		ID:          uuid.NewString(),
		Source:      source,
		Config:      *cfg,
		Fingerprint: fingerprint,
		Active:      true,
		CreatedAt:   now,
	}
	s.configs = append(s.configs, rec)
	return &rec, nil
}

func (s *MemoryStore) ActiveRepairConfig(_ context.Context, source string) (*RepairConfigRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.configs) - 1; i >= 0; i-- {
		if s.configs[i].Source == source && s.configs[i].Active {
			rec := s.configs[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListRepairConfigs(_ context.Context, source string) ([]RepairConfigRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RepairConfigRecord
	for _, rec := range s.configs {
		if rec.Source == source {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) AppendRunLog(_ context.Context, entry RunEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.runs = append(s.runs, entry)
	return nil
}

func (s *MemoryStore) LastRunSuccess(_ context.Context, source string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		if r.Source == source && r.Status == model.RunStatusSuccess {
			t := r.StartedAt
			return &t, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, source string, limit int) ([]RunEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RunEntry
	for i := len(s.runs) - 1; i >= 0; i-- {
		if source != "" && s.runs[i].Source != source {
			continue
		}
		out = append(out, s.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendStepLog(_ context.Context, rec model.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, rec)
	return nil
}

// StepLog returns every recorded step, oldest first.
func (s *MemoryStore) StepLog() []model.StepRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.StepRecord(nil), s.steps...)
}

func (s *MemoryStore) LastCompletedPipeline(_ context.Context, source string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.steps) - 1; i >= 0; i-- {
		rec := s.steps[i]
		if rec.Source == source && rec.Step == model.StepPipelineComplete && rec.Status == model.StepSuccess {
			t := rec.At
			return &t, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings[key], nil
}

func (s *MemoryStore) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
