package fetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/cybokron/ratewatch/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	MaxBodyBytes   int64
}

// HTTPFetcher implements Fetcher using net/http. Responses are cached per
// URL for the lifetime of the fetcher, so one batch run never fetches the
// same page twice; singleflight collapses concurrent duplicate requests.
type HTTPFetcher struct {
	transport *http.Transport
	opts      HTTPOptions

	group singleflight.Group

	mu       sync.Mutex
	cache    map[string][]byte
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher creates a fetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = 8 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "ratewatch/1.0"
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = "tr-TR,tr;q=0.9,en;q=0.5"
	}
	return &HTTPFetcher{
		transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: opts.ConnectTimeout,
			}).DialContext,
			TLSHandshakeTimeout: opts.ConnectTimeout,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
		opts:     opts,
		cache:    make(map[string][]byte),
		limiters: make(map[string]*rate.Limiter),
	}
}

// ResetCache drops every cached response body so the next Fetch hits the
// origin again. Rate limiters survive the reset; they bound request
// frequency across runs, not within one.
func (f *HTTPFetcher) ResetCache() {
	f.mu.Lock()
	f.cache = make(map[string][]byte)
	f.mu.Unlock()
}

// disallowedError marks allow-list and scheme violations, which are fatal
// immediately and never retried.
type disallowedError struct {
	err error
}

func (e *disallowedError) Error() string { return e.err.Error() }
func (e *disallowedError) Unwrap() error { return e.err }

// Fetch retrieves the URL, enforcing the host allow-list on the request
// and on every redirect target.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, allowedHosts []string) ([]byte, error) {
	f.mu.Lock()
	if body, ok := f.cache[rawURL]; ok {
		f.mu.Unlock()
		return body, nil
	}
	f.mu.Unlock()

	v, err, _ := f.group.Do(rawURL, func() (any, error) {
		body, err := f.fetch(ctx, rawURL, allowedHosts)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.cache[rawURL] = body
		f.mu.Unlock()
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (f *HTTPFetcher) fetch(ctx context.Context, rawURL string, allowedHosts []string) ([]byte, error) {
	if err := validateURL(rawURL, allowedHosts); err != nil {
		return nil, &resilience.NetworkError{URL: rawURL, Err: &disallowedError{err: err}}
	}

	client := &http.Client{
		Transport: f.transport,
		Timeout:   f.opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return eris.New("fetch: too many redirects")
			}
			// Redirect targets must independently pass the allow-list.
			if err := validateURL(req.URL.String(), allowedHosts); err != nil {
				return &disallowedError{err: err}
			}
			return nil
		},
	}

	return resilience.DoVal(ctx, f.retryConfig(rawURL), func(ctx context.Context) ([]byte, error) {
		if err := f.limiterFor(rawURL).Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetch: rate limiter wait")
		}
		return f.doOnce(ctx, client, rawURL)
	})
}

// retryConfig uses a fixed delay between attempts: bank pages are polled,
// not hammered, and the rate limiter already spaces requests per host.
func (f *HTTPFetcher) retryConfig(rawURL string) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    f.opts.MaxRetries,
		InitialBackoff: f.opts.RetryDelay,
		Multiplier:     1,
		JitterFraction: 0,
		ShouldRetry:    shouldRetryFetch,
		OnRetry:        resilience.RetryLogger("fetch", rawURL),
	}
}

// shouldRetryFetch derives retryability from the error: allow-list
// violations never retry, HTTP errors follow the status code, transport
// errors follow the transience heuristics.
func shouldRetryFetch(err error) bool {
	var de *disallowedError
	if errors.As(err, &de) {
		return false
	}
	var ne *resilience.NetworkError
	if errors.As(err, &ne) && ne.StatusCode != 0 {
		return resilience.IsTransientHTTPStatus(ne.StatusCode)
	}
	return resilience.IsTransient(err)
}

func (f *HTTPFetcher) doOnce(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept-Language", f.opts.AcceptLanguage)

	resp, err := client.Do(req)
	if err != nil {
		var de *disallowedError
		if errors.As(err, &de) {
			return nil, &resilience.NetworkError{URL: rawURL, Err: de}
		}
		return nil, &resilience.NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &resilience.NetworkError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return nil, &resilience.NetworkError{URL: rawURL, Err: err}
	}
	return data, nil
}

func (f *HTTPFetcher) limiterFor(rawURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Hostname()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(2, 2)
		f.limiters[host] = lim
	}
	return lim
}

// validateURL enforces scheme and host restrictions. A host matches if it
// equals an allowed host or is a subdomain of one.
func validateURL(rawURL string, allowedHosts []string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return eris.Wrapf(err, "fetch: parse url %s", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return eris.Errorf("fetch: scheme %q not allowed for %s", u.Scheme, rawURL)
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range allowedHosts {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return eris.Errorf("fetch: host %q not in allow-list", host)
}
