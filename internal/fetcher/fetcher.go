// Package fetcher retrieves source documents over HTTP(S) with host
// allow-listing, bounded retries, and a per-run response cache.
package fetcher

import "context"

// Fetcher retrieves a document. The allow-list is mandatory: the initial
// URL and every redirect target must resolve to one of the allowed hosts.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, allowedHosts []string) ([]byte, error)
}

// CacheResetter is implemented by fetchers that cache response bodies.
// The cache is scoped to a single run; callers that reuse a fetcher
// across runs must reset it at run start or they serve stale pages.
type CacheResetter interface {
	ResetCache()
}
