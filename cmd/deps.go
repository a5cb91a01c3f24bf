package main

import (
	"bytes"
	"context"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/cybokron/ratewatch/internal/fetcher"
	"github.com/cybokron/ratewatch/internal/repair"
	"github.com/cybokron/ratewatch/internal/scrape"
	"github.com/cybokron/ratewatch/internal/store"
	"github.com/cybokron/ratewatch/pkg/github"
	"github.com/cybokron/ratewatch/pkg/llm"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "ratewatch.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: int32(cfg.Store.MaxConns),
			MinConns: int32(cfg.Store.MinConns),
		})
	default:
		return nil, eris.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

func initFetcher() fetcher.Fetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:      cfg.Fetch.UserAgent,
		AcceptLanguage: cfg.Fetch.AcceptLanguage,
		Timeout:        cfg.Fetch.FetchTimeout(),
		MaxRetries:     cfg.Fetch.MaxRetries,
		RetryDelay:     cfg.Fetch.RetryDelay(),
		MaxBodyBytes:   cfg.Fetch.MaxBodyKB * 1024,
	})
}

// initLLM returns nil when no API key is configured, which disables the
// fallback and the repair pipeline without failing the run.
func initLLM() llm.Client {
	if cfg.AI.Key == "" {
		return nil
	}
	return llm.NewClient(cfg.AI.Key,
		llm.WithBaseURL(cfg.AI.BaseURL),
		llm.WithModel(cfg.AI.Model),
		llm.WithAllowedHosts(cfg.AI.AllowedHosts...),
	)
}

// initSink returns nil when no GitHub token is configured; the pipeline
// then skips the publish step.
func initSink() github.Client {
	if cfg.GitHub.Token == "" {
		return nil
	}
	return github.NewClient(cfg.GitHub.Token, cfg.GitHub.Owner, cfg.GitHub.Repo)
}

// resolveModel prefers the runtime override in the settings KV over the
// configured default, so the model can be swapped without a redeploy.
func resolveModel(ctx context.Context, st store.Store) string {
	if override, err := st.GetSetting(ctx, "ai_model"); err == nil && override != "" {
		return override
	}
	return cfg.AI.Model
}

// initEngine builds the scrape engine. force bypasses the AI fallback
// cooldown for this invocation only; the marker is still updated.
func initEngine(st store.Store, client llm.Client, force bool) *scrape.Engine {
	var recoverer scrape.Recoverer
	if client != nil {
		recoverer = repair.NewFallback(client, repair.NewCooldowns(st), repair.FallbackOptions{
			Enabled:        cfg.Heal.Enabled,
			Model:          cfg.AI.Model,
			CooldownWindow: cfg.Heal.FallbackCooldown(),
			MaxTokens:      cfg.Heal.MaxTokens,
			IgnoreCooldown: force,
		})
	}
	return scrape.NewEngine(initFetcher(), scrape.Default(), st, recoverer, cfg.Run.LockPath)
}

func initPipeline(ctx context.Context, st store.Store, client llm.Client) *repair.Pipeline {
	return repair.NewPipeline(client, st, initSink(), repair.PipelineOptions{
		Enabled:        cfg.Heal.Enabled,
		Model:          resolveModel(ctx, st),
		CooldownWindow: cfg.Heal.PipelineCooldown(),
		MinQuotes:      cfg.Heal.MinQuotes,
		MaxTokens:      cfg.Heal.MaxTokens,
		ConfigDir:      cfg.Heal.ConfigDir,
	})
}

// healSource fetches the source page live and runs the repair pipeline
// against it, streaming step records to the given observers.
func healSource(ctx context.Context, p *repair.Pipeline, f fetcher.Fetcher, slug string, observers ...repair.Observer) (*repair.Result, error) {
	ext, err := scrape.Default().Get(slug)
	if err != nil {
		return nil, err
	}
	src := ext.Source()

	// Validation must run against the current page, not a previous
	// request's cached copy.
	if rc, ok := f.(fetcher.CacheResetter); ok {
		rc.ResetCache()
	}

	body, err := f.Fetch(ctx, src.FetchURL, src.AllowedHosts)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch %s", src.Slug)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrapf(err, "parse %s", src.Slug)
	}

	return p.Run(ctx, src, doc, scrape.Fingerprint(doc), ext.KnownCodes(), observers...)
}
