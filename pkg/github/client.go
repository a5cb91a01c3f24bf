// Package github is the publish sink: it commits repair configs to a
// tracking repository and opens issues. Callers treat every failure as
// best-effort; nothing here ever aborts the pipeline that produced the
// config.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.github.com"

// CommitResult identifies a created or updated file.
type CommitResult struct {
	SHA string `json:"sha"`
	URL string `json:"url"`
}

// IssueResult identifies a created issue.
type IssueResult struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// Client publishes files and issues to a single repository.
type Client interface {
	CommitFile(ctx context.Context, path, content, message string) (*CommitResult, error)
	CreateIssue(ctx context.Context, title, body string, labels []string) (*IssueResult, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	token   string
	owner   string
	repo    string
	baseURL string
	http    *http.Client
}

// NewClient creates a client for owner/repo authenticated with token.
func NewClient(token, owner, repo string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		owner:   owner,
		repo:    repo,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CommitFile creates or updates a file via the contents API. An existing
// file's sha is looked up first so the PUT becomes an update.
func (c *httpClient) CommitFile(ctx context.Context, path, content, message string) (*CommitResult, error) {
	contentsURL := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL, c.owner, c.repo, path)

	existingSHA, err := c.fileSHA(ctx, contentsURL)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
	}
	if existingSHA != "" {
		payload["sha"] = existingSHA
	}

	var result struct {
		Content struct {
			SHA     string `json:"sha"`
			HTMLURL string `json:"html_url"`
		} `json:"content"`
	}
	if err := c.do(ctx, http.MethodPut, contentsURL, payload, &result); err != nil {
		return nil, err
	}
	return &CommitResult{SHA: result.Content.SHA, URL: result.Content.HTMLURL}, nil
}

// CreateIssue opens a tracking issue.
func (c *httpClient) CreateIssue(ctx context.Context, title, body string, labels []string) (*IssueResult, error) {
	issuesURL := fmt.Sprintf("%s/repos/%s/%s/issues", c.baseURL, c.owner, c.repo)

	payload := map[string]any{
		"title":  title,
		"body":   body,
		"labels": labels,
	}

	var result struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	if err := c.do(ctx, http.MethodPost, issuesURL, payload, &result); err != nil {
		return nil, err
	}
	return &IssueResult{Number: result.Number, URL: result.HTMLURL}, nil
}

// fileSHA returns the blob sha of an existing file, or "" when it does not
// exist yet.
func (c *httpClient) fileSHA(ctx context.Context, contentsURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentsURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "github: create request")
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "github: get file")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("github: unexpected status %d getting file", resp.StatusCode)
	}

	var file struct {
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return "", eris.Wrap(err, "github: decode file response")
	}
	return file.SHA, nil
}

func (c *httpClient) do(ctx context.Context, method, rawURL string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "github: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "github: create request")
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "github: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "github: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return eris.Errorf("github: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return json.Unmarshal(respBody, out)
}

func (c *httpClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
}
