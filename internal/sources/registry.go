// Package sources holds the source registry: the set of news sites the
// collector knows how to read, keyed by domain. The registry is loaded at
// startup from the built-in catalog and mutated afterwards only by
// auto-discovery.
package sources

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"veilleur/internal/core"
)

// Registry is a concurrency-safe map of domain to Source. Reads dominate;
// writes happen at startup and when discovery injects a replacement.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]core.Source
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]core.Source)}
}

// NewDefaultRegistry returns a registry preloaded with the built-in catalog.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, src := range DefaultCatalog() {
		// Catalog entries are maintained by hand; a bad one is a bug.
		if err := r.Register(src); err != nil {
			panic(fmt.Sprintf("invalid catalog entry %q: %v", src.Domain, err))
		}
	}
	return r
}

// Register validates and adds a source. Registering an existing domain
// replaces its entry.
func (r *Registry) Register(src core.Source) error {
	src.Domain = NormalizeDomain(src.Domain)
	if src.Domain == "" {
		return fmt.Errorf("source has no domain")
	}
	if src.Name == "" {
		src.Name = src.Domain
	}
	if src.BaseURL == "" {
		src.BaseURL = "https://" + src.Domain
	}
	if _, err := url.Parse(src.BaseURL); err != nil {
		return fmt.Errorf("source %s has invalid base URL: %w", src.Domain, err)
	}
	if src.Tier < core.TierMajor || src.Tier > core.TierMinor {
		src.Tier = core.TierStandard
	}
	if src.Language == "" {
		src.Language = "fr"
	}

	r.mu.Lock()
	r.sources[src.Domain] = src
	r.mu.Unlock()
	return nil
}

// Get returns the source for a domain.
func (r *Registry) Get(domain string) (core.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[NormalizeDomain(domain)]
	return src, ok
}

// All returns every registered source, ordered by domain for stable output.
func (r *Registry) All() []core.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Source, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// Domains returns the registered domains, sorted.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sources))
	for d := range r.sources {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// NormalizeDomain lowercases a domain and strips scheme, www prefix, path
// and port so lookups are stable regardless of how the domain was written.
func NormalizeDomain(domain string) string {
	d := strings.TrimSpace(strings.ToLower(domain))
	if strings.Contains(d, "://") {
		if u, err := url.Parse(d); err == nil && u.Hostname() != "" {
			d = u.Hostname()
		}
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.Index(d, ":"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, "www.")
	return d
}
