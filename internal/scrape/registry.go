package scrape

import "github.com/rotisserie/eris"

// Registry maps source slugs to their extractors, preserving registration
// order for deterministic batch iteration.
type Registry struct {
	extractors map[string]Extractor
	order      []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// Register adds an extractor under its source slug.
func (r *Registry) Register(e Extractor) {
	slug := e.Source().Slug
	if _, exists := r.extractors[slug]; !exists {
		r.order = append(r.order, slug)
	}
	r.extractors[slug] = e
}

// Get returns the extractor for a slug.
func (r *Registry) Get(slug string) (Extractor, error) {
	e, ok := r.extractors[slug]
	if !ok {
		return nil, eris.Errorf("scrape: unknown source %q", slug)
	}
	return e, nil
}

// All returns every extractor in registration order.
func (r *Registry) All() []Extractor {
	out := make([]Extractor, 0, len(r.order))
	for _, slug := range r.order {
		out = append(out, r.extractors[slug])
	}
	return out
}

// Slugs returns all registered slugs in registration order.
func (r *Registry) Slugs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Default builds the registry of all built-in sources.
func Default() *Registry {
	r := NewRegistry()
	r.Register(NewTCMB())
	r.Register(NewZiraat())
	r.Register(NewGaranti())
	r.Register(NewYapiKredi())
	return r
}
