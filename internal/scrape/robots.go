package scrape

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// robotsCache fetches and caches one robots.txt per host. A fetch failure is
// cached as allow-all: the policy exists to honour explicit disallows, not to
// stop collection when a site has no robots file.
type robotsCache struct {
	client    *http.Client
	userAgent string

	mu      sync.Mutex
	perHost map[string]*robotstxt.Group
}

func newRobotsCache(client *http.Client, userAgent string) *robotsCache {
	return &robotsCache{
		client:    client,
		userAgent: userAgent,
		perHost:   make(map[string]*robotstxt.Group),
	}
}

// Allowed reports whether the configured user agent may fetch rawURL.
func (r *robotsCache) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, err
	}
	group, err := r.group(ctx, u)
	if err != nil {
		return true, err
	}
	if group == nil {
		return true, nil
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path), nil
}

func (r *robotsCache) group(ctx context.Context, u *url.URL) (*robotstxt.Group, error) {
	host := u.Host

	r.mu.Lock()
	if g, ok := r.perHost[host]; ok {
		r.mu.Unlock()
		return g, nil
	}
	r.mu.Unlock()

	robotsURL := u.Scheme + "://" + host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.userAgent)

	var group *robotstxt.Group
	resp, err := r.client.Do(req)
	if err == nil {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
		resp.Body.Close()
		if readErr == nil {
			if data, parseErr := robotstxt.FromStatusAndBytes(resp.StatusCode, body); parseErr == nil {
				group = data.FindGroup(r.userAgent)
			}
		}
	}

	// A nil group (unreachable or unparsable robots) caches as allow-all.
	r.mu.Lock()
	r.perHost[host] = group
	r.mu.Unlock()
	return group, err
}
