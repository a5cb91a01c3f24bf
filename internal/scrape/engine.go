package scrape

import (
	"bytes"
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cybokron/ratewatch/internal/fetcher"
	"github.com/cybokron/ratewatch/internal/model"
	"github.com/cybokron/ratewatch/internal/store"
)

// Engine drives the per-source scrape state machine:
// fetch → fingerprint → extract → (fallback) → persist → log.
// Sources in a batch run strictly one after another; the document cache in
// the fetcher and the cooldown markers are not built for concurrent runs.
type Engine struct {
	fetcher   fetcher.Fetcher
	reg       *Registry
	st        store.Store
	recoverer Recoverer
	lockPath  string
}

// NewEngine creates a scrape engine. recoverer may be nil to disable the
// AI extraction fallback.
func NewEngine(f fetcher.Fetcher, reg *Registry, st store.Store, recoverer Recoverer, lockPath string) *Engine {
	return &Engine{
		fetcher:   f,
		reg:       reg,
		st:        st,
		recoverer: recoverer,
		lockPath:  lockPath,
	}
}

// RunAll processes the selected sources (all registered ones when slugs is
// empty) under a file lock. An invocation that cannot acquire the lock
// exits immediately without error, so overlapping scheduled runs never
// race on the same sources.
func (e *Engine) RunAll(ctx context.Context, slugs []string) error {
	lock := flock.New(e.lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return eris.Wrapf(err, "engine: acquire lock %s", e.lockPath)
	}
	if !locked {
		zap.L().Info("another batch update holds the lock, exiting",
			zap.String("lock", e.lockPath),
		)
		return nil
	}
	defer lock.Unlock() //nolint:errcheck

	// The fetcher's document cache is scoped to one run. A long-lived
	// engine (the serve command) must not replay the previous run's pages.
	if rc, ok := e.fetcher.(fetcher.CacheResetter); ok {
		rc.ResetCache()
	}

	extractors := e.reg.All()
	if len(slugs) > 0 {
		extractors = extractors[:0:0]
		for _, slug := range slugs {
			ext, err := e.reg.Get(slug)
			if err != nil {
				return err
			}
			extractors = append(extractors, ext)
		}
	}

	for _, ext := range extractors {
		select {
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "engine: canceled")
		default:
		}
		// One source's failure never prevents the rest of the batch.
		e.runOne(ctx, ext)
	}
	return nil
}

// runOne executes the full state machine for a single source. All failure
// paths end in a run log entry; the source's last-success timestamp moves
// only on success.
func (e *Engine) runOne(ctx context.Context, ext Extractor) {
	src := ext.Source()
	log := zap.L().With(zap.String("source", src.Slug))
	start := time.Now()

	entry := store.RunEntry{
		ID:        uuid.New().String(),
		Source:    src.Slug,
		StartedAt: start.UTC(),
	}

	fail := func(err error) {
		entry.Status = model.RunStatusError
		entry.Message = err.Error()
		entry.DurationMs = time.Since(start).Milliseconds()
		log.Error("source run failed", zap.Error(err), zap.Int64("duration_ms", entry.DurationMs))
		if logErr := e.st.AppendRunLog(ctx, entry); logErr != nil {
			log.Error("failed to append run log", zap.Error(logErr))
		}
	}

	body, err := e.fetcher.Fetch(ctx, src.FetchURL, src.AllowedHosts)
	if err != nil {
		fail(err)
		return
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		fail(eris.Wrap(err, "engine: parse document"))
		return
	}

	fp := Fingerprint(doc)
	entry.Fingerprint = fp

	prevFp, err := e.st.GetSetting(ctx, "fingerprint:"+src.Slug)
	if err != nil {
		log.Warn("failed to read previous fingerprint", zap.Error(err))
	}
	entry.Drift = prevFp != "" && prevFp != fp
	if entry.Drift {
		log.Warn("structural drift detected",
			zap.String("previous", prevFp),
			zap.String("current", fp),
		)
	}
	if err := e.st.SetSetting(ctx, "fingerprint:"+src.Slug, fp); err != nil {
		log.Warn("failed to store fingerprint", zap.Error(err))
	}

	quotes := ext.Extract(doc)

	if len(quotes) < ext.MinQuotes() && e.recoverer != nil {
		log.Info("escalating to AI extraction fallback",
			zap.Int("quotes", len(quotes)),
			zap.Int("minimum", ext.MinQuotes()),
		)
		recovered, err := e.recoverer.Recover(ctx, src, doc, fp, ext.MinQuotes(), ext.KnownCodes())
		switch {
		case err != nil:
			// Degrade gracefully to whatever the extractor found.
			log.Warn("AI fallback failed", zap.Error(err))
		case len(recovered) > 0:
			log.Info("AI fallback recovered quotes", zap.Int("quotes", len(recovered)))
			quotes = recovered
		}
	}

	entry.QuoteCount = len(quotes)

	if len(quotes) > 0 {
		if err := e.st.UpsertLatestQuotes(ctx, src.Slug, quotes); err != nil {
			fail(err)
			return
		}
		if err := e.st.AppendQuoteHistory(ctx, src.Slug, quotes, start.UTC()); err != nil {
			fail(err)
			return
		}
	}

	entry.Status = model.RunStatusSuccess
	entry.DurationMs = time.Since(start).Milliseconds()
	if err := e.st.AppendRunLog(ctx, entry); err != nil {
		log.Error("failed to append run log", zap.Error(err))
	}

	log.Info("source run complete",
		zap.Int("quotes", entry.QuoteCount),
		zap.Bool("drift", entry.Drift),
		zap.Int64("duration_ms", entry.DurationMs),
	)
}
