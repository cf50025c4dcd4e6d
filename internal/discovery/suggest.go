package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"veilleur/internal/core"
	"veilleur/internal/llm"
	"veilleur/internal/logger"
)

// Suggestion is one replacement candidate returned by the model.
type Suggestion struct {
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	FeedURLs []string `json:"feed_urls,omitempty"`
}

// genericSelectors is the fallback selector set when inference fails; it
// matches the markup conventions of most news CMSes.
var genericSelectors = core.Selectors{
	ArticleLinks: "article a[href], h2 a[href], h3 a[href], .article-title a[href]",
	Title:        "h1",
	Content:      "article p, .article-content p, .post-content p",
}

// suggest asks the model for replacement sources and parses the strict JSON
// array reply.
func (d *Discoverer) suggest(ctx context.Context, blockedDomain, reason string, meta Metadata) ([]Suggestion, error) {
	prompt := fmt.Sprintf(`La source d'actualités %s (catégorie %s, langue %s, région %s) est inaccessible : %s.

Propose jusqu'à %d sites d'actualités de remplacement couvrant la même catégorie, dans la même langue et la même région. Évite les sites connus pour bloquer les robots d'indexation.

Réponds UNIQUEMENT avec un tableau JSON strict :
[{"name": "Nom du site", "url": "https://exemple.fr", "feed_urls": ["https://exemple.fr/rss"]}]`,
		blockedDomain, meta.Category, meta.Language, meta.Region, reason, DefaultMaxSuggestion)

	completion, err := d.client.Complete(ctx, llm.UserMessage(prompt), llm.Options{JSON: true})
	if err != nil {
		return nil, fmt.Errorf("requesting replacement suggestions: %w", err)
	}

	var suggestions []Suggestion
	if err := json.Unmarshal([]byte(stripFence(completion.Content)), &suggestions); err != nil {
		return nil, fmt.Errorf("parsing replacement suggestions: %w", err)
	}
	if len(suggestions) > DefaultMaxSuggestion {
		suggestions = suggestions[:DefaultMaxSuggestion]
	}
	return suggestions, nil
}

// selectorSampleBytes bounds the HTML sample sent for selector inference.
const selectorSampleBytes = 15 * 1024

// inferSelectors asks the model for the candidate's CSS selectors from a
// home-page sample; any failure falls back to the generic set.
func (d *Discoverer) inferSelectors(ctx context.Context, baseURL string) core.Selectors {
	sample, err := d.fetchSample(ctx, baseURL)
	if err != nil {
		logger.Debug("Selector inference skipped, sample fetch failed", "url", baseURL, "error", err)
		return genericSelectors
	}

	prompt := fmt.Sprintf(`Voici un extrait du HTML de la page d'accueil de %s :

%s

Donne les sélecteurs CSS pour extraire les articles de ce site. Réponds UNIQUEMENT avec un objet JSON strict :
{"article_links": "...", "title": "...", "content": "..."}`, baseURL, sample)

	completion, err := d.client.Complete(ctx, llm.UserMessage(prompt), llm.Options{JSON: true})
	if err != nil {
		logger.Debug("Selector inference call failed", "url", baseURL, "error", err)
		return genericSelectors
	}

	var sel core.Selectors
	if err := json.Unmarshal([]byte(stripFence(completion.Content)), &sel); err != nil {
		logger.Debug("Selector inference reply unparseable", "url", baseURL, "error", err)
		return genericSelectors
	}
	if sel.ArticleLinks == "" || sel.Title == "" || sel.Content == "" {
		return genericSelectors
	}
	return sel
}

func (d *Discoverer) fetchSample(ctx context.Context, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", d.opts.UserAgent)
	resp, err := d.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, selectorSampleBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
