package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"veilleur/internal/core"
	"veilleur/internal/logger"
)

// genericLinkSelector is the fallback used when a source registers no
// article-link selector or discovery could not infer one.
const genericLinkSelector = "article a[href], h2 a[href], h3 a[href]"

// collectFromHTML crawls the source's section pages for article links and
// fetches the articles with bounded parallelism. When the share of fetches
// refused with hard-block status codes crosses the configured fraction, the
// whole source is reported as blocked.
func (c *Collector) collectFromHTML(ctx context.Context, src core.Source) ([]core.Article, error) {
	links, err := c.discoverLinks(ctx, src)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, nil
	}
	if len(links) > c.opts.MaxArticlesPerSource {
		links = links[:c.opts.MaxArticlesPerSource]
	}

	var (
		mu       sync.Mutex
		articles []core.Article
		fetched  int
		blocked  int
		wg       sync.WaitGroup
	)
	sem := make(chan struct{}, c.opts.ArticleConcurrency)

	for _, link := range links {
		if ctx.Err() != nil {
			break
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			article, status, err := c.fetchArticle(ctx, src, link)
			mu.Lock()
			defer mu.Unlock()
			fetched++
			if isBlockStatus(status) {
				blocked++
				return
			}
			if err != nil {
				logger.Debug("Article fetch failed", "url", link, "error", err)
				return
			}
			if article != nil {
				articles = append(articles, *article)
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return articles, ctx.Err()
	}
	if fetched > 0 && float64(blocked)/float64(fetched) >= c.opts.HardBlockFraction {
		return nil, fmt.Errorf("%d/%d article fetches refused: %w", blocked, fetched, ErrHardBlocked)
	}
	return articles, nil
}

// discoverLinks pulls candidate article URLs from the source's section pages
// (or its base URL when no sections are registered).
func (c *Collector) discoverLinks(ctx context.Context, src core.Source) ([]string, error) {
	pages := src.Sections
	if len(pages) == 0 {
		pages = []string{src.BaseURL}
	}
	selector := src.Selectors.ArticleLinks
	if selector == "" {
		selector = genericLinkSelector
	}

	seen := make(map[string]bool)
	var links []string
	var lastErr error
	var blockedPages int

	for _, page := range pages {
		if ctx.Err() != nil {
			return links, ctx.Err()
		}
		resp, err := c.fetch(ctx, src, page)
		if err != nil {
			lastErr = err
			continue
		}
		if resp == nil { // robots disallowed
			continue
		}
		if isBlockStatus(resp.StatusCode) {
			resp.Body.Close()
			blockedPages++
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("section %s: status %d", page, resp.StatusCode)
			continue
		}
		doc, err := goquery.NewDocumentFromReader(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			href, ok := sel.Attr("href")
			if !ok {
				return
			}
			abs := absoluteURL(src.BaseURL, href)
			if abs == "" || seen[abs] {
				return
			}
			if !sameDomain(abs, src.Domain) {
				return
			}
			seen[abs] = true
			links = append(links, abs)
		})
	}

	if len(pages) > 0 && blockedPages == len(pages) {
		return nil, fmt.Errorf("all %d section pages refused: %w", blockedPages, ErrHardBlocked)
	}
	if len(links) == 0 {
		return nil, lastErr
	}
	return links, nil
}

// fetchArticle fetches and extracts one article page. A nil article with nil
// error means the page was skipped (robots, unusable content).
func (c *Collector) fetchArticle(ctx context.Context, src core.Source, link string) (*core.Article, int, error) {
	resp, err := c.fetch(ctx, src, link)
	if err != nil {
		return nil, 0, err
	}
	if resp == nil {
		return nil, 0, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	article := extractArticle(doc, src, link)
	if article == nil {
		return nil, resp.StatusCode, nil
	}
	return article, resp.StatusCode, nil
}

// extractArticle pulls title, body and metadata out of a parsed page. Pages
// whose body is too short (paywalls, teaser pages) fall back to
// scrape_partial: title plus meta description standing in for the body.
func extractArticle(doc *goquery.Document, src core.Source, link string) *core.Article {
	titleSel := src.Selectors.Title
	if titleSel == "" {
		titleSel = "h1"
	}
	contentSel := src.Selectors.Content
	if contentSel == "" {
		contentSel = "article p"
	}

	title := strings.TrimSpace(doc.Find(titleSel).First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	var paragraphs []string
	doc.Find(contentSel).Each(func(_ int, sel *goquery.Selection) {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	body := strings.Join(paragraphs, "\n\n")

	meta, _ := doc.Find(`meta[name="description"]`).Attr("content")
	if meta == "" {
		meta, _ = doc.Find(`meta[property="og:description"]`).Attr("content")
	}
	meta = strings.TrimSpace(meta)

	method := core.ExtractScrapeFull
	if len(body) < 200 {
		if len(title) >= 10 && len(meta) >= 30 {
			method = core.ExtractScrapePartial
			body = title + ". " + meta
		}
	}

	published := extractPublished(doc)
	imageURL, _ := doc.Find(`meta[property="og:image"]`).Attr("content")

	article := core.Article{
		URL:             link,
		Domain:          src.Domain,
		SourceName:      src.Name,
		Title:           title,
		Body:            body,
		MetaDescription: meta,
		Published:       published,
		Authors:         extractAuthors(doc),
		ImageURL:        imageURL,
		Language:        src.Language,
		Method:          method,
		Tier:            src.Tier,
		Category:        src.Category,
		DuplicateCount:  1,
		FetchedAt:       time.Now().UTC(),
	}
	if !article.Acceptable() {
		return nil
	}
	return &article
}

func extractPublished(doc *goquery.Document) time.Time {
	for _, sel := range []string{
		`meta[property="article:published_time"]`,
		`meta[name="date"]`,
		`time[datetime]`,
	} {
		var raw string
		if strings.HasPrefix(sel, "meta") {
			raw, _ = doc.Find(sel).Attr("content")
		} else {
			raw, _ = doc.Find(sel).First().Attr("datetime")
		}
		if raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t
			}
		}
	}
	return time.Now().UTC()
}

func extractAuthors(doc *goquery.Document) []string {
	raw, _ := doc.Find(`meta[name="author"]`).Attr("content")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var authors []string
	for _, part := range strings.Split(raw, ",") {
		if name := strings.TrimSpace(part); name != "" {
			authors = append(authors, name)
		}
	}
	return authors
}

func absoluteURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := baseURL.ResolveReference(ref)
	abs.Fragment = ""
	return abs.String()
}

func sameDomain(rawURL, domain string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return host == domain || strings.HasSuffix(host, "."+domain)
}
