// Package discovery finds replacement sources for domains that went dark.
// When a source times out, gets blocked or keeps coming back empty, the
// discoverer asks the model for candidate sites in the same category and
// language, validates each one against robots, reachability and markup, and
// injects the survivors into the registry and health store.
package discovery

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"veilleur/internal/broker"
	"veilleur/internal/core"
	"veilleur/internal/health"
	"veilleur/internal/llm"
	"veilleur/internal/logger"
	"veilleur/internal/sources"
)

// Caps bounding the discovery subsystem.
const (
	DefaultMaxDiscovered = 10 // Global cap on injected sources
	DefaultMaxAttempts   = 3  // Attempts per blocked domain
	DefaultMaxSuggestion = 3  // Replacement suggestions requested per domain
)

// Options tunes a Discoverer.
type Options struct {
	UserAgent     string
	MaxDiscovered int
	MaxAttempts   int
	HTTPTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = "veilleur/1.0 (+https://veilleur.example)"
	}
	if o.MaxDiscovered <= 0 {
		o.MaxDiscovered = DefaultMaxDiscovered
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = 15 * time.Second
	}
	return o
}

// Discoverer runs the replacement search. Safe for concurrent use; attempts
// per domain are tracked in memory for the process lifetime.
type Discoverer struct {
	registry *sources.Registry
	health   health.Store
	client   llm.Client
	events   *broker.Broker
	httpc    *http.Client
	opts     Options

	mu       sync.Mutex
	attempts map[string]int
}

// New wires a discoverer. events may be nil when running outside a pipeline.
func New(registry *sources.Registry, healthStore health.Store, client llm.Client, events *broker.Broker, httpc *http.Client, opts Options) *Discoverer {
	opts = opts.withDefaults()
	if httpc == nil {
		httpc = &http.Client{Timeout: opts.HTTPTimeout}
	}
	return &Discoverer{
		registry: registry,
		health:   healthStore,
		client:   client,
		events:   events,
		httpc:    httpc,
		opts:     opts,
		attempts: make(map[string]int),
	}
}

// Discover searches replacements for a dead domain and injects the validated
// ones. Returns the injected sources; an empty slice is a normal outcome.
func (d *Discoverer) Discover(ctx context.Context, blockedDomain, reason string) ([]core.Source, error) {
	blockedDomain = sources.NormalizeDomain(blockedDomain)

	d.mu.Lock()
	if d.attempts[blockedDomain] >= d.opts.MaxAttempts {
		d.mu.Unlock()
		return nil, fmt.Errorf("discovery attempts exhausted for %s", blockedDomain)
	}
	d.attempts[blockedDomain]++
	d.mu.Unlock()

	discovered, err := d.health.DiscoveredCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading discovery count: %w", err)
	}
	if discovered >= d.opts.MaxDiscovered {
		return nil, fmt.Errorf("discovery cap reached (%d sources)", d.opts.MaxDiscovered)
	}

	meta := InferMetadata(blockedDomain)
	suggestions, err := d.suggest(ctx, blockedDomain, reason, meta)
	if err != nil {
		return nil, err
	}

	var injected []core.Source
	for _, sug := range suggestions {
		if discovered+len(injected) >= d.opts.MaxDiscovered {
			break
		}
		domain := sources.NormalizeDomain(sug.URL)
		if domain == "" || domain == blockedDomain {
			continue
		}
		if _, exists := d.registry.Get(domain); exists {
			continue
		}
		if err := d.validate(ctx, sug.URL); err != nil {
			logger.Debug("Discovery candidate rejected", "candidate", domain, "error", err)
			continue
		}

		selectors := d.inferSelectors(ctx, sug.URL)
		src := core.Source{
			Domain:         domain,
			Name:           sug.Name,
			BaseURL:        sug.URL,
			Selectors:      selectors,
			FeedURLs:       sug.FeedURLs,
			Tier:           core.TierStandard,
			Language:       meta.Language,
			Category:       meta.Category,
			AutoDiscovered: true,
		}
		if err := d.registry.Register(src); err != nil {
			logger.Warn("Discovered source rejected by registry", "domain", domain, "error", err)
			continue
		}
		if err := d.health.SaveDiscovered(ctx, src, blockedDomain); err != nil {
			logger.Warn("Recording discovered source failed", "domain", domain, "error", err)
		}
		if d.events != nil {
			d.events.Log("info", "discovery",
				fmt.Sprintf("Source %s découverte en remplacement de %s (%s)", domain, blockedDomain, reason))
		}
		injected = append(injected, src)
	}
	return injected, nil
}

// Metadata is what can be inferred about a dead source from its domain alone.
type Metadata struct {
	Category string
	Language string
	Region   string
}

// categoryHints maps domain-name fragments to a category.
var categoryHints = []struct {
	fragment string
	category string
}{
	{"sport", "sport"},
	{"foot", "sport"},
	{"eco", "economie"},
	{"finance", "economie"},
	{"bourse", "economie"},
	{"tech", "technologie"},
	{"numerique", "technologie"},
	{"politi", "politique"},
	{"culture", "culture"},
	{"cine", "culture"},
	{"climat", "environnement"},
	{"energie", "environnement"},
}

// tldHints maps a TLD to language and region.
var tldHints = map[string][2]string{
	"fr": {"fr", "FR"},
	"be": {"fr", "BE"},
	"ch": {"fr", "CH"},
	"ca": {"fr", "CA"},
	"uk": {"en", "GB"},
	"com": {"fr", "FR"}, // Catalog default: francophone-first
}

// InferMetadata guesses category, language and region from the domain name
// and TLD.
func InferMetadata(domain string) Metadata {
	meta := Metadata{Category: "general", Language: "fr", Region: "FR"}
	lower := strings.ToLower(domain)
	for _, hint := range categoryHints {
		if strings.Contains(lower, hint.fragment) {
			meta.Category = hint.category
			break
		}
	}
	if i := strings.LastIndex(lower, "."); i >= 0 {
		if hint, ok := tldHints[lower[i+1:]]; ok {
			meta.Language = hint[0]
			meta.Region = hint[1]
		}
	}
	return meta
}
