package scrape

import (
	"context"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"veilleur/internal/core"
	"veilleur/internal/logger"
)

// collectFromFeeds reads the source's registered RSS/Atom feeds. Feed content
// is the preferred extraction path: it is explicitly published for reuse.
// Items carrying a full body become rss_full articles; items with only a
// description become rss_metadata when they pass the minimum-content rule.
func (c *Collector) collectFromFeeds(ctx context.Context, src core.Source) ([]core.Article, error) {
	parser := gofeed.NewParser()
	parser.UserAgent = c.opts.UserAgent

	cutoff := time.Now().Add(-c.opts.Lookback)
	seen := make(map[string]bool)
	var articles []core.Article
	var lastErr error

	for _, feedURL := range src.FeedURLs {
		if ctx.Err() != nil {
			return articles, ctx.Err()
		}
		if err := c.limiter(src).Wait(ctx); err != nil {
			return articles, err
		}

		fctx, cancel := context.WithTimeout(ctx, c.opts.PerArticleTimeout)
		feed, err := parser.ParseURLWithContext(feedURL, fctx)
		cancel()
		if err != nil {
			logger.Debug("Feed parse failed", "feed", feedURL, "error", err)
			lastErr = err
			continue
		}

		for _, item := range feed.Items {
			if len(articles) >= c.opts.MaxArticlesPerSource {
				return articles, nil
			}
			if item.Link == "" || seen[item.Link] {
				continue
			}
			seen[item.Link] = true

			published := time.Now()
			if item.PublishedParsed != nil {
				published = *item.PublishedParsed
			} else if item.UpdatedParsed != nil {
				published = *item.UpdatedParsed
			}
			if published.Before(cutoff) {
				continue
			}

			article := feedItemToArticle(src, item, published)
			if !article.Acceptable() {
				continue
			}
			articles = append(articles, article)
		}
	}

	if len(articles) == 0 {
		return nil, lastErr
	}
	return articles, nil
}

func feedItemToArticle(src core.Source, item *gofeed.Item, published time.Time) core.Article {
	body := strings.TrimSpace(stripTags(item.Content))
	method := core.ExtractRSSFull
	description := strings.TrimSpace(stripTags(item.Description))
	if len(body) < 200 {
		// The feed carried metadata only; the description doubles as body
		// when long enough to be useful.
		method = core.ExtractRSSMetadata
		if body == "" {
			body = description
		}
	}

	var authors []string
	for _, person := range item.Authors {
		if person != nil && person.Name != "" {
			authors = append(authors, person.Name)
		}
	}

	imageURL := ""
	if item.Image != nil {
		imageURL = item.Image.URL
	}

	return core.Article{
		URL:             item.Link,
		Domain:          src.Domain,
		SourceName:      src.Name,
		Title:           strings.TrimSpace(item.Title),
		Body:            body,
		MetaDescription: description,
		Published:       published,
		Authors:         authors,
		ImageURL:        imageURL,
		Language:        src.Language,
		Method:          method,
		Tier:            src.Tier,
		Category:        src.Category,
		DuplicateCount:  1,
		FetchedAt:       time.Now().UTC(),
	}
}

// stripTags removes HTML markup that feeds routinely embed in descriptions
// and content blocks. Crude by design: feed bodies are prompt input, not
// rendered output.
func stripTags(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
