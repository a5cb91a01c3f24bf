package repair

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybokron/ratewatch/internal/model"
	"github.com/cybokron/ratewatch/internal/resilience"
	"github.com/cybokron/ratewatch/internal/store"
	"github.com/cybokron/ratewatch/pkg/llm"
)

// fakeLLM returns canned content and records requests.
type fakeLLM struct {
	content string
	err     error
	calls   int
	lastReq llm.ChatCompletionRequest
}

func (f *fakeLLM) ChatCompletion(_ context.Context, req llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatCompletionResponse{
		Choices: []llm.Choice{{Message: llm.Message{Role: "assistant", Content: f.content}}},
	}, nil
}

var fallbackSource = model.SourceDescriptor{
	ID:          "tcmb",
	DisplayName: "TCMB",
	Slug:        "tcmb",
}

var fallbackKnown = map[string]struct{}{
	"USD": {}, "EUR": {}, "GBP": {},
}

const fallbackHTML = `<table>
<tr><td>USD</td><td>broken</td><td>markup</td></tr>
<tr><td>EUR</td><td>broken</td><td>markup</td></tr>
</table>`

func newFallbackForTest(client llm.Client, st store.Store, opts FallbackOptions) *Fallback {
	f := NewFallback(client, NewCooldowns(st), opts)
	f.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func TestFallbackDisabledMakesNoCall(t *testing.T) {
	client := &fakeLLM{}
	f := newFallbackForTest(client, store.NewMemoryStore(), FallbackOptions{Enabled: false})

	quotes, err := f.Recover(context.Background(), fallbackSource, mustDoc(t, fallbackHTML), "fp1", 2, fallbackKnown)
	require.NoError(t, err)
	assert.Nil(t, quotes)
	assert.Zero(t, client.calls)
}

func TestFallbackNilClientMakesNoCall(t *testing.T) {
	f := newFallbackForTest(nil, store.NewMemoryStore(), FallbackOptions{Enabled: true})

	quotes, err := f.Recover(context.Background(), fallbackSource, mustDoc(t, fallbackHTML), "fp1", 2, fallbackKnown)
	require.NoError(t, err)
	assert.Nil(t, quotes)
}

func TestFallbackExtractsQuotes(t *testing.T) {
	client := &fakeLLM{content: `{"rates":[
		{"code":"USD","buy":43.21,"sell":43.55,"change":0.12},
		{"code":"EUR","buy":"46,80","sell":"47,15"},
		{"code":"XYZ","buy":1,"sell":1}
	]}`}
	st := store.NewMemoryStore()
	f := newFallbackForTest(client, st, FallbackOptions{Enabled: true, Model: "gpt-4o-mini"})

	quotes, err := f.Recover(context.Background(), fallbackSource, mustDoc(t, fallbackHTML), "fp1", 2, fallbackKnown)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "EUR", quotes[0].CurrencyCode)
	assert.Equal(t, "USD", quotes[1].CurrencyCode)
	require.NotNil(t, quotes[1].ChangePercent)

	// Deterministic request.
	require.NotNil(t, client.lastReq.Temperature)
	assert.Zero(t, *client.lastReq.Temperature)
	assert.Equal(t, "gpt-4o-mini", client.lastReq.Model)

	// Marker recorded for this attempt.
	m, err := NewCooldowns(st).Get(context.Background(), "tcmb")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "fp1", m.LastFingerprint)
	assert.Equal(t, 2, m.LastQuoteCount)
}

func TestFallbackAcceptsBareArray(t *testing.T) {
	client := &fakeLLM{content: `[{"code":"USD","buy":43.21,"sell":43.55},{"code":"EUR","buy":46.8,"sell":47.15}]`}
	f := newFallbackForTest(client, store.NewMemoryStore(), FallbackOptions{Enabled: true})

	quotes, err := f.Recover(context.Background(), fallbackSource, mustDoc(t, fallbackHTML), "fp1", 2, fallbackKnown)
	require.NoError(t, err)
	assert.Len(t, quotes, 2)
}

func TestFallbackBelowMinimumDiscards(t *testing.T) {
	client := &fakeLLM{content: `{"rates":[{"code":"USD","buy":43.21,"sell":43.55}]}`}
	f := newFallbackForTest(client, store.NewMemoryStore(), FallbackOptions{Enabled: true})

	quotes, err := f.Recover(context.Background(), fallbackSource, mustDoc(t, fallbackHTML), "fp1", 5, fallbackKnown)
	require.NoError(t, err)
	assert.Nil(t, quotes)
}

func TestFallbackCooldownBlocksRepeatCalls(t *testing.T) {
	client := &fakeLLM{content: `{"rates":[{"code":"USD","buy":43.21,"sell":43.55},{"code":"EUR","buy":46.8,"sell":47.15}]}`}
	st := store.NewMemoryStore()
	f := newFallbackForTest(client, st, FallbackOptions{Enabled: true})

	_, err := f.Recover(context.Background(), fallbackSource, mustDoc(t, fallbackHTML), "fp1", 2, fallbackKnown)
	require.NoError(t, err)
	require.Equal(t, 1, client.calls)

	// Same fingerprint inside the window: no second call.
	quotes, err := f.Recover(context.Background(), fallbackSource, mustDoc(t, fallbackHTML), "fp1", 2, fallbackKnown)
	require.NoError(t, err)
	assert.Nil(t, quotes)
	assert.Equal(t, 1, client.calls)

	// Changed fingerprint: cooldown cleared, call goes out.
	_, err = f.Recover(context.Background(), fallbackSource, mustDoc(t, fallbackHTML), "fp2", 2, fallbackKnown)
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
}

func TestFallbackIgnoreCooldownForcesCall(t *testing.T) {
	client := &fakeLLM{content: `{"rates":[{"code":"USD","buy":43.21,"sell":43.55},{"code":"EUR","buy":46.8,"sell":47.15}]}`}
	st := store.NewMemoryStore()
	f := newFallbackForTest(client, st, FallbackOptions{Enabled: true, IgnoreCooldown: true})

	_, err := f.Recover(context.Background(), fallbackSource, mustDoc(t, fallbackHTML), "fp1", 2, fallbackKnown)
	require.NoError(t, err)
	require.Equal(t, 1, client.calls)

	// Same fingerprint inside the window still calls out when forced.
	quotes, err := f.Recover(context.Background(), fallbackSource, mustDoc(t, fallbackHTML), "fp1", 2, fallbackKnown)
	require.NoError(t, err)
	assert.Len(t, quotes, 2)
	assert.Equal(t, 2, client.calls)
}

func TestFallbackMarkerWrittenOnFailure(t *testing.T) {
	client := &fakeLLM{err: eris.New("upstream down")}
	st := store.NewMemoryStore()
	f := newFallbackForTest(client, st, FallbackOptions{Enabled: true})

	_, err := f.Recover(context.Background(), fallbackSource, mustDoc(t, fallbackHTML), "fp1", 2, fallbackKnown)
	require.Error(t, err)
	var svcErr *resilience.ExternalServiceError
	assert.ErrorAs(t, err, &svcErr)

	// A failed attempt still arms the cooldown so the broken page does not
	// trigger a call on every run.
	m, getErr := NewCooldowns(st).Get(context.Background(), "tcmb")
	require.NoError(t, getErr)
	require.NotNil(t, m)
	assert.Equal(t, "fp1", m.LastFingerprint)
	assert.Zero(t, m.LastQuoteCount)
}

func TestFallbackRejectsGarbageResponse(t *testing.T) {
	client := &fakeLLM{content: "I could not find any rates on this page."}
	f := newFallbackForTest(client, store.NewMemoryStore(), FallbackOptions{Enabled: true})

	_, err := f.Recover(context.Background(), fallbackSource, mustDoc(t, fallbackHTML), "fp1", 2, fallbackKnown)
	require.Error(t, err)
	var vErr *resilience.ValidationError
	assert.ErrorAs(t, err, &vErr)
}
