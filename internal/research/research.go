// Package research provides the web-research backend used to enrich
// syntheses: a provider searches the open web for a query and returns a
// composed digest with citations, plus a fact-check primitive for claims
// extracted from articles.
package research

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Provider is the web-research contract.
type Provider interface {
	// Search researches a query and returns a digest bounded by maxTokens
	// with the citations it was built from.
	Search(ctx context.Context, query string, maxTokens int) (Report, error)
	// FactCheck researches a claim and returns a short verdict text.
	FactCheck(ctx context.Context, claim string) (string, error)
	// Name identifies the provider.
	Name() string
}

// Citation points at a source used in a report.
type Citation struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Report is the outcome of one research call.
type Report struct {
	Content   string     `json:"content"`
	Citations []Citation `json:"citations"`
}

// Config tunes a provider.
type Config struct {
	MaxResults int           // Results fetched per query, default 10
	Timeout    time.Duration // Per-request timeout, default 15s
	Language   string        // Region hint, default fr
}

func (c Config) withDefaults() Config {
	if c.MaxResults <= 0 {
		c.MaxResults = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.Language == "" {
		c.Language = "fr"
	}
	return c
}

// Factory errors.
var (
	ErrMissingAPIKey       = errors.New("research provider requires an API key")
	ErrUnsupportedProvider = errors.New("unsupported research provider")
)

// NewProvider builds the provider named in the configuration.
func NewProvider(name, apiKey string, cfg Config) (Provider, error) {
	switch name {
	case "serpapi":
		if apiKey == "" {
			return nil, ErrMissingAPIKey
		}
		return NewSerpAPIProvider(apiKey, cfg), nil
	case "duckduckgo", "":
		return NewDuckDuckGoProvider(cfg), nil
	case "mock":
		return NewScriptedProvider(), nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

// result is a raw search hit before composition.
type result struct {
	URL     string
	Title   string
	Snippet string
}

// composeReport turns raw results into a digest bounded by maxTokens,
// roughly four characters per token, keeping one citation per line used.
func composeReport(results []result, maxTokens int) Report {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	budget := maxTokens * 4

	var b strings.Builder
	var citations []Citation
	for _, r := range results {
		line := "- " + r.Title
		if r.Snippet != "" {
			line += " : " + r.Snippet
		}
		line += "\n"
		if b.Len()+len(line) > budget {
			break
		}
		b.WriteString(line)
		citations = append(citations, Citation{URL: r.URL, Title: r.Title})
	}
	return Report{Content: strings.TrimSpace(b.String()), Citations: citations}
}

// composeVerdict builds a short fact-check text from search results. The
// verdict reports what coverage exists rather than judging the claim.
func composeVerdict(claim string, results []result) string {
	if len(results) == 0 {
		return "Aucune source trouvée pour vérifier : " + claim
	}
	var b strings.Builder
	b.WriteString("Éléments trouvés sur « ")
	b.WriteString(claim)
	b.WriteString(" » :\n")
	limit := len(results)
	if limit > 3 {
		limit = 3
	}
	for _, r := range results[:limit] {
		b.WriteString("- ")
		b.WriteString(r.Title)
		if r.Snippet != "" {
			b.WriteString(" : ")
			b.WriteString(r.Snippet)
		}
		b.WriteString(" (")
		b.WriteString(r.URL)
		b.WriteString(")\n")
	}
	return strings.TrimSpace(b.String())
}
