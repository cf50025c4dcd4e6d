package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"veilleur/internal/resilience"
)

const redditSearchEndpoint = "https://www.reddit.com/search.json"

// reaction is one public discussion entry.
type reaction struct {
	Title     string
	Community string
	Score     int
	Comments  int
}

// redditFeed reads Reddit's public search JSON. Reddit requires a custom
// User-Agent, anonymous clients without one get rate limited immediately.
type redditFeed struct {
	client    *http.Client
	userAgent string
	baseURL   string
}

func newRedditFeed(cfg Config) *redditFeed {
	return &redditFeed{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		baseURL:   redditSearchEndpoint,
	}
}

func (f *redditFeed) search(ctx context.Context, topic string) ([]reaction, error) {
	params := url.Values{}
	params.Set("q", topic)
	params.Set("sort", "top")
	params.Set("t", "week")
	params.Set("limit", "15")

	req, err := http.NewRequestWithContext(ctx, "GET", f.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &resilience.BackendError{Backend: "reddit", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.BackendError{
			Backend:    "reddit",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("search request failed"),
		}
	}

	var payload struct {
		Data struct {
			Children []struct {
				Data struct {
					Title       string `json:"title"`
					Subreddit   string `json:"subreddit"`
					Score       int    `json:"score"`
					NumComments int    `json:"num_comments"`
				} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse reddit response: %w", err)
	}

	reactions := make([]reaction, 0, len(payload.Data.Children))
	for _, child := range payload.Data.Children {
		if child.Data.Title == "" {
			continue
		}
		reactions = append(reactions, reaction{
			Title:     child.Data.Title,
			Community: "r/" + child.Data.Subreddit,
			Score:     child.Data.Score,
			Comments:  child.Data.NumComments,
		})
	}
	return reactions, nil
}
