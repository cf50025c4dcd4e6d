package research

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"veilleur/internal/logger"
	"veilleur/internal/resilience"
)

const serpAPIEndpoint = "https://serpapi.com/search"

// SerpAPIProvider researches queries through SerpAPI's Google engine.
type SerpAPIProvider struct {
	apiKey  string
	client  *http.Client
	cfg     Config
	baseURL string
}

// NewSerpAPIProvider creates a SerpAPI-backed research provider.
func NewSerpAPIProvider(apiKey string, cfg Config) *SerpAPIProvider {
	cfg = cfg.withDefaults()
	return &SerpAPIProvider{
		apiKey:  apiKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		baseURL: serpAPIEndpoint,
	}
}

// Name identifies the provider.
func (s *SerpAPIProvider) Name() string { return "serpapi" }

// Search queries SerpAPI and composes a digest from the organic results.
func (s *SerpAPIProvider) Search(ctx context.Context, query string, maxTokens int) (Report, error) {
	results, err := s.query(ctx, query)
	if err != nil {
		return Report{}, err
	}
	report := composeReport(results, maxTokens)
	logger.Info("Recherche web terminée", "provider", "serpapi", "query", query, "citations", len(report.Citations))
	return report, nil
}

// FactCheck searches the claim and reports the coverage found.
func (s *SerpAPIProvider) FactCheck(ctx context.Context, claim string) (string, error) {
	results, err := s.query(ctx, claim)
	if err != nil {
		return "", err
	}
	return composeVerdict(claim, results), nil
}

func (s *SerpAPIProvider) query(ctx context.Context, query string) ([]result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("engine", "google")
	params.Set("api_key", s.apiKey)
	params.Set("num", strconv.Itoa(s.cfg.MaxResults))
	params.Set("hl", s.cfg.Language)

	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create SerpAPI request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &resilience.BackendError{Backend: "serpapi", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.BackendError{
			Backend:    "serpapi",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("search request failed"),
		}
	}

	var apiResponse struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("failed to parse SerpAPI response: %w", err)
	}
	if apiResponse.Error.Code != 0 {
		return nil, &resilience.BackendError{
			Backend:    "serpapi",
			StatusCode: apiResponse.Error.Code,
			Err:        fmt.Errorf("%s", apiResponse.Error.Message),
		}
	}

	results := make([]result, 0, len(apiResponse.OrganicResults))
	for _, item := range apiResponse.OrganicResults {
		results = append(results, result{URL: item.Link, Title: item.Title, Snippet: item.Snippet})
	}
	return results, nil
}
