package repair

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/cybokron/ratewatch/internal/model"
	"github.com/cybokron/ratewatch/internal/resilience"
	"github.com/cybokron/ratewatch/internal/scrape"
	"github.com/cybokron/ratewatch/internal/store"
	"github.com/cybokron/ratewatch/pkg/github"
	"github.com/cybokron/ratewatch/pkg/llm"
)

// DefaultPipelineCooldown gates repeat self-healing attempts per source.
const DefaultPipelineCooldown = time.Hour

// PipelineOptions configures the self-healing orchestrator.
type PipelineOptions struct {
	Enabled        bool
	Model          string
	CooldownWindow time.Duration
	MinQuotes      int
	MaxTokens      int
	ConfigDir      string
}

// Result is the outcome of one self-healing run.
type Result struct {
	Steps      []model.StepRecord
	Config     *model.RepairConfig
	QuoteCount int
	Completed  bool
}

// Pipeline regenerates, validates, persists, and publishes a parsing
// configuration for a degraded source. Steps run strictly in sequence,
// each gated on the previous one; a failed step aborts with no retries,
// and the next attempt is gated by the cooldown in step two.
type Pipeline struct {
	client llm.Client
	st     store.Store
	sink   github.Client
	opts   PipelineOptions
	now    func() time.Time
}

// NewPipeline creates the orchestrator. client may be nil (no credential)
// and sink may be nil (publishing not configured).
func NewPipeline(client llm.Client, st store.Store, sink github.Client, opts PipelineOptions) *Pipeline {
	if opts.CooldownWindow == 0 {
		opts.CooldownWindow = DefaultPipelineCooldown
	}
	if opts.MinQuotes == 0 {
		opts.MinQuotes = 5
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 1024
	}
	return &Pipeline{
		client: client,
		st:     st,
		sink:   sink,
		opts:   opts,
		now:    time.Now,
	}
}

// Run executes the pipeline for one source against an already-fetched live
// document. Every step emits progress records to the persistent step log
// and to the supplied observers; a disconnected observer does not cancel
// the run. Skipped preconditions return a nil error; failed steps return
// the failing error.
func (p *Pipeline) Run(ctx context.Context, src model.SourceDescriptor, doc *goquery.Document, fingerprint string, knownCodes map[string]struct{}, observers ...Observer) (*Result, error) {
	collector := &Collector{}
	em := &emitter{
		source:    src.Slug,
		st:        p.st,
		observers: append([]Observer{collector}, observers...),
		now:       p.now,
	}
	result := &Result{}
	finishRun := func() *Result {
		result.Steps = collector.Steps
		return result
	}
	log := zap.L().With(zap.String("source", src.Slug), zap.String("component", "self_heal"))
	runStart := p.now()

	// Step 1: feature flag and credential.
	started := em.begin(ctx, model.StepCheckEnabled)
	switch {
	case !p.opts.Enabled:
		em.finish(ctx, model.StepCheckEnabled, model.StepSkipped, "self-healing disabled", started, nil)
		return finishRun(), nil
	case p.client == nil:
		em.finish(ctx, model.StepCheckEnabled, model.StepSkipped, "no model credential configured", started, nil)
		return finishRun(), nil
	}
	em.finish(ctx, model.StepCheckEnabled, model.StepSuccess, "", started, nil)

	// Step 2: per-source pipeline cooldown, keyed to the last completed
	// pipeline_complete event.
	started = em.begin(ctx, model.StepCooldownCheck)
	last, err := p.st.LastCompletedPipeline(ctx, src.Slug)
	if err != nil {
		em.finish(ctx, model.StepCooldownCheck, model.StepError, err.Error(), started, nil)
		return finishRun(), err
	}
	if last != nil && p.now().Sub(*last) < p.opts.CooldownWindow {
		msg := fmt.Sprintf("last pipeline completed %s ago, cooldown %s", p.now().Sub(*last).Round(time.Second), p.opts.CooldownWindow)
		em.finish(ctx, model.StepCooldownCheck, model.StepSkipped, msg, started, nil)
		return finishRun(), nil
	}
	em.finish(ctx, model.StepCooldownCheck, model.StepSuccess, "", started, nil)

	// Step 3: ask the model for a parsing configuration, never data.
	started = em.begin(ctx, model.StepGenerateConfig)
	cfg, err := p.generateConfig(ctx, src, doc)
	if err != nil {
		em.finish(ctx, model.StepGenerateConfig, model.StepError, err.Error(), started, nil)
		return finishRun(), err
	}
	result.Config = cfg
	em.finish(ctx, model.StepGenerateConfig, model.StepSuccess, "", started, map[string]any{
		"row_selector":     cfg.RowSelector,
		"number_format":    string(cfg.NumberFormat),
		"skip_header_rows": cfg.SkipHeaderRows,
	})

	// Step 4: the config is never trusted on the model's word; it must
	// reproduce real quotes against the same live document.
	started = em.begin(ctx, model.StepValidateConfig)
	quotes := Apply(cfg, doc, knownCodes)
	if len(quotes) < p.opts.MinQuotes {
		err := &resilience.ValidationError{
			Reason: fmt.Sprintf("config produced %d quotes, need at least %d", len(quotes), p.opts.MinQuotes),
		}
		em.finish(ctx, model.StepValidateConfig, model.StepError, err.Error(), started, nil)
		return finishRun(), err
	}
	result.QuoteCount = len(quotes)
	em.finish(ctx, model.StepValidateConfig, model.StepSuccess,
		fmt.Sprintf("config reproduced %d quotes", len(quotes)), started,
		map[string]any{"quote_count": len(quotes)})

	// Step 5: persist as the single active config (prior ones are
	// deactivated, not deleted) and mirror to the sidecar file.
	started = em.begin(ctx, model.StepSaveConfig)
	rec, err := p.st.SaveRepairConfig(ctx, src.Slug, cfg, fingerprint)
	if err != nil {
		perr := &resilience.PersistenceError{Op: "save repair config", Err: err}
		em.finish(ctx, model.StepSaveConfig, model.StepError, perr.Error(), started, nil)
		return finishRun(), perr
	}
	if p.opts.ConfigDir != "" {
		if err := WriteSidecar(p.opts.ConfigDir, rec); err != nil {
			perr := &resilience.PersistenceError{Op: "write sidecar config", Err: err}
			em.finish(ctx, model.StepSaveConfig, model.StepError, perr.Error(), started, nil)
			return finishRun(), perr
		}
	}
	em.finish(ctx, model.StepSaveConfig, model.StepSuccess, "", started, map[string]any{"config_id": rec.ID})

	// Step 6: best-effort publish. A failure here is recorded but never
	// rolls back the already-active config.
	started = em.begin(ctx, model.StepGithubCommit)
	switch {
	case p.sink == nil:
		em.finish(ctx, model.StepGithubCommit, model.StepSkipped, "publish sink not configured", started, nil)
	default:
		if err := p.publish(ctx, src, cfg, len(quotes)); err != nil {
			log.Error("publish failed", zap.Error(err))
			em.finish(ctx, model.StepGithubCommit, model.StepError, err.Error(), started, nil)
		} else {
			em.finish(ctx, model.StepGithubCommit, model.StepSuccess, "", started, nil)
		}
	}

	// Step 7: terminal marker; the cooldown in step two looks for this.
	started = em.begin(ctx, model.StepPipelineComplete)
	em.finish(ctx, model.StepPipelineComplete, model.StepSuccess,
		fmt.Sprintf("pipeline completed in %s", p.now().Sub(runStart).Round(time.Millisecond)),
		started,
		map[string]any{
			"total_ms":    p.now().Sub(runStart).Milliseconds(),
			"quote_count": len(quotes),
		})

	result.Completed = true
	log.Info("self-healing pipeline complete",
		zap.Int("quotes", len(quotes)),
		zap.Duration("elapsed", p.now().Sub(runStart)),
	)
	return finishRun(), nil
}

func (p *Pipeline) generateConfig(ctx context.Context, src model.SourceDescriptor, doc *goquery.Document) (*model.RepairConfig, error) {
	snapshot := scrape.Snapshot(doc, scrape.SnapshotMaxRows, scrape.SnapshotMaxChars)
	if snapshot == "" {
		return nil, &resilience.ValidationError{Reason: "document has no table content"}
	}

	temperature := 0.0
	maxTokens := p.opts.MaxTokens
	resp, err := p.client.ChatCompletion(ctx, llm.ChatCompletionRequest{
		Model: p.opts.Model,
		Messages: []llm.Message{
			{Role: "system", Content: configSystemPrompt},
			{Role: "user", Content: configUserPrompt(src.DisplayName, snapshot)},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return nil, &resilience.ExternalServiceError{Service: "config_generation", Err: err}
	}

	cleaned := cleanJSON(resp.Content())
	cfg, err := model.ParseRepairConfig([]byte(cleaned))
	if err != nil {
		return nil, &resilience.ValidationError{Reason: "model returned an invalid repair config", Err: err}
	}
	return cfg, nil
}

func (p *Pipeline) publish(ctx context.Context, src model.SourceDescriptor, cfg *model.RepairConfig, quoteCount int) error {
	content, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	path := fmt.Sprintf("configs/%s.json", src.Slug)
	message := fmt.Sprintf("Regenerate parsing config for %s", src.DisplayName)
	commit, err := p.sink.CommitFile(ctx, path, string(content), message)
	if err != nil {
		return err
	}

	title := fmt.Sprintf("Parsing config regenerated: %s", src.DisplayName)
	body := fmt.Sprintf(
		"The scraper for **%s** degraded and a new parsing configuration was generated and validated (%d quotes reproduced).\n\nCommitted as `%s` (%s).",
		src.DisplayName, quoteCount, path, commit.URL,
	)
	if _, err := p.sink.CreateIssue(ctx, title, body, []string{"self-heal"}); err != nil {
		return err
	}
	return nil
}
