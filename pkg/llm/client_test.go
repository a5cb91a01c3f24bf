package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatCompletion(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)

		json.NewEncoder(w).Encode(ChatCompletionResponse{
			ID: "cmpl-1",
			Choices: []Choice{
				{Message: Message{Role: "assistant", Content: `{"rates":[]}`}},
			},
		})
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	c := NewClient("test-key",
		WithBaseURL(srv.URL),
		WithModel("test-model"),
		WithHTTPClient(srv.Client()),
		WithAllowedHosts(u.Hostname()),
	)

	resp, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{
		Messages: []Message{
			{Role: "system", Content: "extract rates"},
			{Role: "user", Content: "USD | 43,21 | 43,55"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"rates":[]}`, resp.Content())
}

func TestChatCompletionRejectsDisallowedHost(t *testing.T) {
	c := NewClient("k",
		WithBaseURL("https://rogue.example.net/v1"),
		WithAllowedHosts("api.openai.com"),
	)
	_, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow-list")
}

func TestChatCompletionRejectsPlainHTTP(t *testing.T) {
	c := NewClient("k",
		WithBaseURL("http://api.openai.com/v1"),
		WithAllowedHosts("api.openai.com"),
	)
	_, err := c.ChatCompletion(context.Background(), ChatCompletionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme")
}

func TestChatCompletionErrorStatus(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	c := NewClient("k",
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithAllowedHosts(u.Hostname()),
	)
	_, err = c.ChatCompletion(context.Background(), ChatCompletionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
