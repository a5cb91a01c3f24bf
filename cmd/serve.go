package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cybokron/ratewatch/internal/fetcher"
	"github.com/cybokron/ratewatch/internal/model"
	"github.com/cybokron/ratewatch/internal/repair"
	"github.com/cybokron/ratewatch/internal/scrape"
	"github.com/cybokron/ratewatch/internal/store"
)

var servePort int

// serverDeps bundles the handler dependencies. baseCtx outlives individual
// requests so a heal keeps running after the client disconnects.
type serverDeps struct {
	st       store.Store
	reg      *scrape.Registry
	engine   *scrape.Engine
	pipeline *repair.Pipeline
	fetch    fetcher.Fetcher
	baseCtx  context.Context
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		client := initLLM()
		deps := &serverDeps{
			st:       st,
			reg:      scrape.Default(),
			engine:   initEngine(st, client, false),
			pipeline: initPipeline(ctx, st, client),
			fetch:    initFetcher(),
			baseCtx:  ctx,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(deps, cfg.Server.CORSOrigins),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(deps *serverDeps, corsOrigins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/sources", deps.handleSources)
		r.Route("/sources/{slug}", func(r chi.Router) {
			r.Get("/rates", deps.handleRates)
			r.Get("/runs", deps.handleRuns)
			r.Get("/configs", deps.handleConfigs)
			r.Post("/update", deps.handleUpdate)
			r.Post("/heal", deps.handleHeal)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// extractor resolves the slug route param, writing a 404 on miss.
func (d *serverDeps) extractor(w http.ResponseWriter, r *http.Request) (scrape.Extractor, bool) {
	slug := chi.URLParam(r, "slug")
	ext, err := d.reg.Get(slug)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown source %q", slug))
		return nil, false
	}
	return ext, true
}

func (d *serverDeps) handleSources(w http.ResponseWriter, _ *http.Request) {
	sources := make([]model.SourceDescriptor, 0)
	for _, ext := range d.reg.All() {
		sources = append(sources, ext.Source())
	}
	writeJSON(w, http.StatusOK, sources)
}

func (d *serverDeps) handleRates(w http.ResponseWriter, r *http.Request) {
	ext, ok := d.extractor(w, r)
	if !ok {
		return
	}

	quotes, err := d.st.LatestQuotes(r.Context(), ext.Source().Slug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load rates failed")
		return
	}
	if quotes == nil {
		quotes = []model.RateQuote{}
	}
	writeJSON(w, http.StatusOK, quotes)
}

func (d *serverDeps) handleRuns(w http.ResponseWriter, r *http.Request) {
	ext, ok := d.extractor(w, r)
	if !ok {
		return
	}

	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		fmt.Sscanf(q, "%d", &limit) //nolint:errcheck
	}

	entries, err := d.st.ListRuns(r.Context(), ext.Source().Slug, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load runs failed")
		return
	}
	if entries == nil {
		entries = []store.RunEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (d *serverDeps) handleConfigs(w http.ResponseWriter, r *http.Request) {
	ext, ok := d.extractor(w, r)
	if !ok {
		return
	}

	configs, err := d.st.ListRepairConfigs(r.Context(), ext.Source().Slug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load configs failed")
		return
	}
	if configs == nil {
		configs = []store.RepairConfigRecord{}
	}
	writeJSON(w, http.StatusOK, configs)
}

// handleUpdate kicks off a single-source update and returns immediately.
// The engine serializes overlapping runs through the file lock.
func (d *serverDeps) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ext, ok := d.extractor(w, r)
	if !ok {
		return
	}
	slug := ext.Source().Slug

	go func() {
		if d.engine == nil {
			return
		}
		if err := d.engine.RunAll(d.baseCtx, []string{slug}); err != nil {
			zap.L().Error("api update failed", zap.String("source", slug), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"source": slug,
	})
}

// handleHeal runs the repair pipeline and streams step records as
// server-sent events. The pipeline runs to completion even if the client
// goes away mid-stream; the step log keeps the full audit trail.
func (d *serverDeps) handleHeal(w http.ResponseWriter, r *http.Request) {
	ext, ok := d.extractor(w, r)
	if !ok {
		return
	}
	slug := ext.Source().Slug

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan model.StepRecord, 64)
	observer := repair.ObserverFunc(func(rec model.StepRecord) {
		// Never block the pipeline on a slow consumer.
		select {
		case events <- rec:
		default:
		}
	})

	done := make(chan struct{})
	var result *repair.Result
	var healErr error
	go func() {
		defer close(done)
		result, healErr = healSource(d.baseCtx, d.pipeline, d.fetch, slug, observer)
	}()

	writeEvent := func(event string, v any) {
		payload, err := json.Marshal(v)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
		flusher.Flush()
	}

	for {
		select {
		case rec := <-events:
			writeEvent("step", rec)
		case <-done:
			for len(events) > 0 {
				writeEvent("step", <-events)
			}
			if healErr != nil {
				writeEvent("error", map[string]string{"error": healErr.Error()})
				return
			}
			writeEvent("result", result)
			return
		case <-r.Context().Done():
			// Client gone. The pipeline keeps running on baseCtx.
			return
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
