package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/temoto/robotstxt"
)

// minCandidateLinks is the link count below which a page does not look like
// a news home page.
const minCandidateLinks = 10

// validate runs the three acceptance checks in order, abandoning the
// candidate on the first failure: robots permission, reachable HTML root,
// article-ish markup.
func (d *Discoverer) validate(ctx context.Context, rawURL string) error {
	if err := d.checkRobots(ctx, rawURL); err != nil {
		return fmt.Errorf("robots: %w", err)
	}
	doc, err := d.checkRoot(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("root: %w", err)
	}
	if err := checkMarkup(doc); err != nil {
		return fmt.Errorf("markup: %w", err)
	}
	return nil
}

// checkRobots fetches the candidate's robots.txt once and tests the root
// path. An unreachable robots file counts as permission.
func (d *Discoverer) checkRobots(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", d.opts.UserAgent)

	resp, err := d.httpc.Do(req)
	if err != nil {
		return nil // Treat as no policy
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil
	}
	group := data.FindGroup(d.opts.UserAgent)
	if group == nil {
		return nil
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if !group.Test(path) {
		return fmt.Errorf("user agent disallowed")
	}
	return nil
}

// checkRoot fetches the root URL and requires HTTP 200 with an HTML content
// type.
func (d *Discoverer) checkRoot(ctx context.Context, rawURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", d.opts.UserAgent)

	resp, err := d.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		return nil, fmt.Errorf("content type %q", ct)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

// checkMarkup requires a minimum link count and at least a hint of article
// structure.
func checkMarkup(doc *goquery.Document) error {
	links := doc.Find("a[href]").Length()
	if links < minCandidateLinks {
		return fmt.Errorf("only %d links", links)
	}
	if doc.Find("article, h2 a, h3 a, .article, [class*=article]").Length() == 0 {
		return fmt.Errorf("no article markup")
	}
	return nil
}
