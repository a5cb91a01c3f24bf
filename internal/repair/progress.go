package repair

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cybokron/ratewatch/internal/model"
	"github.com/cybokron/ratewatch/internal/store"
)

// Observer receives pipeline step records as they are emitted. A slow or
// disconnected observer must not be able to fail the pipeline, so OnStep
// has no error return.
type Observer interface {
	OnStep(rec model.StepRecord)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(rec model.StepRecord)

// OnStep calls the wrapped function.
func (f ObserverFunc) OnStep(rec model.StepRecord) { f(rec) }

// Collector accumulates step records, for callers that want the full audit
// trail after the run.
type Collector struct {
	Steps []model.StepRecord
}

// OnStep appends the record.
func (c *Collector) OnStep(rec model.StepRecord) { c.Steps = append(c.Steps, rec) }

// emitter fans step records out to the persistent step log and every
// registered observer. Persistence is independent of the live observers:
// a client that went away loses nothing from the audit history.
type emitter struct {
	source    string
	st        store.Store
	observers []Observer
	now       func() time.Time
}

func (e *emitter) emit(ctx context.Context, step string, status model.StepStatus, msg string, durationMs int64, meta map[string]any) model.StepRecord {
	rec := model.StepRecord{
		Source:     e.source,
		Step:       step,
		Status:     status,
		Message:    msg,
		DurationMs: durationMs,
		Metadata:   meta,
		At:         e.now().UTC(),
	}
	if err := e.st.AppendStepLog(ctx, rec); err != nil {
		zap.L().Error("failed to persist step record",
			zap.String("source", e.source),
			zap.String("step", step),
			zap.Error(err),
		)
	}
	for _, o := range e.observers {
		o.OnStep(rec)
	}
	return rec
}

func (e *emitter) begin(ctx context.Context, step string) time.Time {
	e.emit(ctx, step, model.StepInProgress, "", 0, nil)
	return e.now()
}

func (e *emitter) finish(ctx context.Context, step string, status model.StepStatus, msg string, started time.Time, meta map[string]any) {
	e.emit(ctx, step, status, msg, e.now().Sub(started).Milliseconds(), meta)
}
