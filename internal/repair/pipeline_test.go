package repair

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybokron/ratewatch/internal/model"
	"github.com/cybokron/ratewatch/internal/resilience"
	"github.com/cybokron/ratewatch/internal/store"
	"github.com/cybokron/ratewatch/pkg/github"
)

// fakeSink records publish calls.
type fakeSink struct {
	commits    []string
	issues     []string
	failCommit bool
}

func (f *fakeSink) CommitFile(_ context.Context, path, _, _ string) (*github.CommitResult, error) {
	if f.failCommit {
		return nil, eris.New("github unavailable")
	}
	f.commits = append(f.commits, path)
	return &github.CommitResult{SHA: "abc", URL: "https://example.com/commit"}, nil
}

func (f *fakeSink) CreateIssue(_ context.Context, title, _ string, _ []string) (*github.IssueResult, error) {
	f.issues = append(f.issues, title)
	return &github.IssueResult{Number: 1, URL: "https://example.com/issue"}, nil
}

const goodConfigJSON = `{
	"row_selector": "table tr",
	"columns": {
		"currency": {"index": 0},
		"buy": {"index": 1},
		"sell": {"index": 2}
	},
	"number_format": "turkish",
	"skip_header_rows": 1
}`

const pipelineHTML = `<table>
<tr><th>Döviz</th><th>Alış</th><th>Satış</th></tr>
<tr><td>Amerikan Doları (USD)</td><td>43,21</td><td>43,55</td></tr>
<tr><td>Euro (EUR)</td><td>46,80</td><td>47,15</td></tr>
<tr><td>İngiliz Sterlini (GBP)</td><td>54,10</td><td>54,60</td></tr>
</table>`

func stepStatuses(steps []model.StepRecord) map[string]model.StepStatus {
	out := make(map[string]model.StepStatus)
	for _, s := range steps {
		if s.Status != model.StepInProgress {
			out[s.Step] = s.Status
		}
	}
	return out
}

func newPipelineForTest(client *fakeLLM, st store.Store, sink github.Client, opts PipelineOptions) *Pipeline {
	p := NewPipeline(nil, st, sink, opts)
	if client != nil {
		p.client = client
	}
	p.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

func TestPipelineHappyPath(t *testing.T) {
	client := &fakeLLM{content: "```json\n" + goodConfigJSON + "\n```"}
	st := store.NewMemoryStore()
	sink := &fakeSink{}
	dir := t.TempDir()
	p := newPipelineForTest(client, st, sink, PipelineOptions{
		Enabled:   true,
		Model:     "gpt-4o-mini",
		MinQuotes: 3,
		ConfigDir: dir,
	})

	res, err := p.Run(context.Background(), fallbackSource, mustDoc(t, pipelineHTML), "fp1", fallbackKnown)
	require.NoError(t, err)
	require.True(t, res.Completed)
	assert.Equal(t, 3, res.QuoteCount)
	require.NotNil(t, res.Config)
	assert.Equal(t, "table tr", res.Config.RowSelector)

	statuses := stepStatuses(res.Steps)
	for _, step := range []string{
		model.StepCheckEnabled, model.StepCooldownCheck, model.StepGenerateConfig,
		model.StepValidateConfig, model.StepSaveConfig, model.StepGithubCommit,
		model.StepPipelineComplete,
	} {
		assert.Equal(t, model.StepSuccess, statuses[step], step)
	}

	// Config persisted as active.
	rec, err := st.ActiveRepairConfig(context.Background(), "tcmb")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "fp1", rec.Fingerprint)

	// Sidecar mirrors the persisted record.
	data, err := os.ReadFile(filepath.Join(dir, "tcmb.json"))
	require.NoError(t, err)
	var sidecar store.RepairConfigRecord
	require.NoError(t, json.Unmarshal(data, &sidecar))
	assert.Equal(t, rec.ID, sidecar.ID)

	// Published.
	assert.Equal(t, []string{"configs/tcmb.json"}, sink.commits)
	assert.Len(t, sink.issues, 1)

	// Steps were mirrored into the persistent audit log.
	mem := st
	assert.NotEmpty(t, mem.StepLog())
}

func TestPipelineDisabledSkips(t *testing.T) {
	client := &fakeLLM{}
	p := newPipelineForTest(client, store.NewMemoryStore(), nil, PipelineOptions{Enabled: false})

	res, err := p.Run(context.Background(), fallbackSource, mustDoc(t, pipelineHTML), "fp1", fallbackKnown)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, model.StepSkipped, stepStatuses(res.Steps)[model.StepCheckEnabled])
	assert.Zero(t, client.calls)
}

func TestPipelineNoCredentialSkips(t *testing.T) {
	p := newPipelineForTest(nil, store.NewMemoryStore(), nil, PipelineOptions{Enabled: true})

	res, err := p.Run(context.Background(), fallbackSource, mustDoc(t, pipelineHTML), "fp1", fallbackKnown)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, model.StepSkipped, stepStatuses(res.Steps)[model.StepCheckEnabled])
}

func TestPipelineCooldownSkips(t *testing.T) {
	client := &fakeLLM{content: goodConfigJSON}
	st := store.NewMemoryStore()
	p := newPipelineForTest(client, st, nil, PipelineOptions{
		Enabled:   true,
		MinQuotes: 3,
	})

	res, err := p.Run(context.Background(), fallbackSource, mustDoc(t, pipelineHTML), "fp1", fallbackKnown)
	require.NoError(t, err)
	require.True(t, res.Completed)
	require.Equal(t, 1, client.calls)

	// Second run inside the window stops at the cooldown gate.
	res, err = p.Run(context.Background(), fallbackSource, mustDoc(t, pipelineHTML), "fp1", fallbackKnown)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, model.StepSkipped, stepStatuses(res.Steps)[model.StepCooldownCheck])
	assert.Equal(t, 1, client.calls)
}

func TestPipelineRejectsForbiddenSelector(t *testing.T) {
	client := &fakeLLM{content: `{
		"row_selector": "document(foo) tr",
		"columns": {"currency": {"index": 0}, "buy": {"index": 1}, "sell": {"index": 2}},
		"number_format": "turkish"
	}`}
	st := store.NewMemoryStore()
	p := newPipelineForTest(client, st, nil, PipelineOptions{Enabled: true, MinQuotes: 3})

	res, err := p.Run(context.Background(), fallbackSource, mustDoc(t, pipelineHTML), "fp1", fallbackKnown)
	require.Error(t, err)
	var vErr *resilience.ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.False(t, res.Completed)
	assert.Equal(t, model.StepError, stepStatuses(res.Steps)[model.StepGenerateConfig])

	rec, recErr := st.ActiveRepairConfig(context.Background(), "tcmb")
	require.NoError(t, recErr)
	assert.Nil(t, rec)
}

func TestPipelineValidationFailureAborts(t *testing.T) {
	// Selector is well-formed but matches nothing in the live document.
	client := &fakeLLM{content: `{
		"row_selector": "#nonexistent tr",
		"columns": {"currency": {"index": 0}, "buy": {"index": 1}, "sell": {"index": 2}},
		"number_format": "turkish"
	}`}
	st := store.NewMemoryStore()
	sink := &fakeSink{}
	p := newPipelineForTest(client, st, sink, PipelineOptions{Enabled: true, MinQuotes: 3})

	res, err := p.Run(context.Background(), fallbackSource, mustDoc(t, pipelineHTML), "fp1", fallbackKnown)
	require.Error(t, err)
	var vErr *resilience.ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.Equal(t, model.StepError, stepStatuses(res.Steps)[model.StepValidateConfig])

	// Nothing saved, nothing published.
	rec, recErr := st.ActiveRepairConfig(context.Background(), "tcmb")
	require.NoError(t, recErr)
	assert.Nil(t, rec)
	assert.Empty(t, sink.commits)
}

func TestPipelinePublishFailureDoesNotRollBack(t *testing.T) {
	client := &fakeLLM{content: goodConfigJSON}
	st := store.NewMemoryStore()
	sink := &fakeSink{failCommit: true}
	p := newPipelineForTest(client, st, sink, PipelineOptions{Enabled: true, MinQuotes: 3})

	res, err := p.Run(context.Background(), fallbackSource, mustDoc(t, pipelineHTML), "fp1", fallbackKnown)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, model.StepError, stepStatuses(res.Steps)[model.StepGithubCommit])
	assert.Equal(t, model.StepSuccess, stepStatuses(res.Steps)[model.StepPipelineComplete])

	// The validated config stays active despite the failed publish.
	rec, recErr := st.ActiveRepairConfig(context.Background(), "tcmb")
	require.NoError(t, recErr)
	require.NotNil(t, rec)
}

func TestPipelineSupersedesPriorConfig(t *testing.T) {
	client := &fakeLLM{content: goodConfigJSON}
	st := store.NewMemoryStore()
	p := newPipelineForTest(client, st, nil, PipelineOptions{
		Enabled:   true,
		MinQuotes: 3,
	})
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return clock }

	_, err := p.Run(context.Background(), fallbackSource, mustDoc(t, pipelineHTML), "fp1", fallbackKnown)
	require.NoError(t, err)

	// Past the cooldown window, a changed page earns a fresh config.
	clock = clock.Add(2 * time.Hour)
	_, err = p.Run(context.Background(), fallbackSource, mustDoc(t, pipelineHTML), "fp2", fallbackKnown)
	require.NoError(t, err)

	all, err := st.ListRepairConfigs(context.Background(), "tcmb")
	require.NoError(t, err)
	require.Len(t, all, 2)

	active := 0
	for _, rec := range all {
		if rec.Active {
			active++
		} else {
			assert.Equal(t, "superseded", rec.DeactivateReason)
			assert.NotNil(t, rec.DeactivatedAt)
		}
	}
	assert.Equal(t, 1, active)
}
