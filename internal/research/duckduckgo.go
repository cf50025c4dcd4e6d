package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"veilleur/internal/logger"
	"veilleur/internal/resilience"
)

const duckduckgoEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGoProvider researches queries by scraping DuckDuckGo's HTML
// results. It needs no API key and serves as the default provider.
type DuckDuckGoProvider struct {
	client    *http.Client
	userAgent string
	cfg       Config
	baseURL   string
}

// NewDuckDuckGoProvider creates the keyless research provider.
func NewDuckDuckGoProvider(cfg Config) *DuckDuckGoProvider {
	cfg = cfg.withDefaults()
	return &DuckDuckGoProvider{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		cfg:       cfg,
		baseURL:   duckduckgoEndpoint,
	}
}

// Name identifies the provider.
func (d *DuckDuckGoProvider) Name() string { return "duckduckgo" }

// Search scrapes the HTML results page and composes a digest.
func (d *DuckDuckGoProvider) Search(ctx context.Context, query string, maxTokens int) (Report, error) {
	results, err := d.query(ctx, query)
	if err != nil {
		return Report{}, err
	}
	report := composeReport(results, maxTokens)
	logger.Info("Recherche web terminée", "provider", "duckduckgo", "query", query, "citations", len(report.Citations))
	return report, nil
}

// FactCheck searches the claim and reports the coverage found.
func (d *DuckDuckGoProvider) FactCheck(ctx context.Context, claim string) (string, error) {
	results, err := d.query(ctx, claim)
	if err != nil {
		return "", err
	}
	return composeVerdict(claim, results), nil
}

func (d *DuckDuckGoProvider) query(ctx context.Context, query string) ([]result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("kl", regionCode(d.cfg.Language))

	req, err := http.NewRequestWithContext(ctx, "GET", d.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &resilience.BackendError{Backend: "duckduckgo", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.BackendError{
			Backend:    "duckduckgo",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("search request failed"),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	html := string(body)

	if strings.Contains(strings.ToLower(html), "captcha") {
		return nil, &resilience.BackendError{
			Backend:    "duckduckgo",
			StatusCode: http.StatusTooManyRequests,
			Err:        fmt.Errorf("search blocked by CAPTCHA"),
		}
	}

	return parseResults(html, d.cfg.MaxResults), nil
}

func regionCode(language string) string {
	if language == "fr" {
		return "fr-fr"
	}
	return "us-en"
}

var (
	resultPattern  = regexp.MustCompile(`<div class="result[^"]*"[^>]*>(.*?)</div>`)
	titlePattern   = regexp.MustCompile(`<a[^>]*class="result__a"[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	snippetPattern = regexp.MustCompile(`<a[^>]*class="result__snippet"[^>]*>(.*?)</a>`)
	tagPattern     = regexp.MustCompile(`<[^>]*>`)
	spacePattern   = regexp.MustCompile(`\s+`)
)

// parseResults extracts results from the HTML results page. The patterns
// track DuckDuckGo's markup and may need adjustment when it changes.
func parseResults(html string, maxResults int) []result {
	var results []result
	for i, match := range resultPattern.FindAllStringSubmatch(html, -1) {
		if i >= maxResults {
			break
		}
		block := match[1]

		titleMatch := titlePattern.FindStringSubmatch(block)
		if len(titleMatch) < 3 {
			continue
		}
		finalURL := extractFinalURL(titleMatch[1])
		if finalURL == "" {
			continue
		}

		snippet := ""
		if m := snippetPattern.FindStringSubmatch(block); len(m) >= 2 {
			snippet = cleanHTMLText(m[1])
		}

		results = append(results, result{
			URL:     finalURL,
			Title:   cleanHTMLText(titleMatch[2]),
			Snippet: snippet,
		})
	}
	return results
}

// extractFinalURL unwraps DuckDuckGo's /l/?uddg= redirect URLs.
func extractFinalURL(redirectURL string) string {
	if strings.HasPrefix(redirectURL, "/l/?") || strings.HasPrefix(redirectURL, "//duckduckgo.com/l/?") {
		parsed, err := url.Parse(redirectURL)
		if err != nil {
			return ""
		}
		if uddg := parsed.Query().Get("uddg"); uddg != "" {
			decoded, err := url.QueryUnescape(uddg)
			if err != nil {
				return ""
			}
			return decoded
		}
	}
	if strings.HasPrefix(redirectURL, "http") {
		return redirectURL
	}
	return ""
}

func cleanHTMLText(text string) string {
	text = tagPattern.ReplaceAllString(text, "")
	replacements := [][2]string{
		{"&amp;", "&"}, {"&lt;", "<"}, {"&gt;", ">"},
		{"&quot;", "\""}, {"&#39;", "'"}, {"&nbsp;", " "},
	}
	for _, r := range replacements {
		text = strings.ReplaceAll(text, r[0], r[1])
	}
	return strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
}
