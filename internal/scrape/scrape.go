// Package scrape collects articles from the registered sources. Each source
// runs under a hard deadline with its own rate limit and ordered extraction
// strategies (RSS first where feeds are registered, HTML scraping otherwise,
// title+meta fallback for paywalled pages). Sources that time out or answer
// with hard-block status codes are blacklisted and reported so discovery can
// look for replacements.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"veilleur/internal/broker"
	"veilleur/internal/core"
	"veilleur/internal/health"
	"veilleur/internal/logger"
	"veilleur/internal/sources"
)

// ErrHardBlocked marks a source answering mostly with 403/406/429: the site
// is refusing the collector, not failing. Distinct from a timeout so health
// bookkeeping and discovery can tell the two apart.
var ErrHardBlocked = errors.New("source refuses automated access")

// hard-block status codes counted toward the block fraction.
func isBlockStatus(code int) bool {
	switch code {
	case http.StatusForbidden, http.StatusNotAcceptable, http.StatusTooManyRequests, http.StatusUnavailableForLegalReasons:
		return true
	}
	return false
}

// Options tunes the collector. Zero values fall back to the documented
// defaults.
type Options struct {
	PerSourceTimeout     time.Duration // Wraps discovery and extraction for one source, default 45s
	PerArticleTimeout    time.Duration // Wraps one page fetch + parse, default 15s
	SourceConcurrency    int           // Sources scraped in parallel, default 5
	ArticleConcurrency   int           // Articles per source in parallel, default 5
	MaxArticlesPerSource int           // Default 20
	UserAgent            string
	RespectRobots        bool
	DefaultRateLimit     time.Duration // Per-domain gap when the source sets none, default 2s
	HardBlockFraction    float64       // Share of blocked article fetches that blacklists, default 0.6
	EmptyRunsForRescue   int           // Consecutive empty runs before discovery fires, default 2
	Lookback             time.Duration // Ignore feed items older than this, default 48h
}

func (o Options) withDefaults() Options {
	if o.PerSourceTimeout <= 0 {
		o.PerSourceTimeout = 45 * time.Second
	}
	if o.PerArticleTimeout <= 0 {
		o.PerArticleTimeout = 15 * time.Second
	}
	if o.SourceConcurrency <= 0 {
		o.SourceConcurrency = 5
	}
	if o.ArticleConcurrency <= 0 {
		o.ArticleConcurrency = 5
	}
	if o.MaxArticlesPerSource <= 0 {
		o.MaxArticlesPerSource = 20
	}
	if o.UserAgent == "" {
		o.UserAgent = "Veilleur/1.0"
	}
	if o.DefaultRateLimit <= 0 {
		o.DefaultRateLimit = 2 * time.Second
	}
	if o.HardBlockFraction <= 0 || o.HardBlockFraction > 1 {
		o.HardBlockFraction = 0.6
	}
	if o.EmptyRunsForRescue <= 0 {
		o.EmptyRunsForRescue = 2
	}
	if o.Lookback <= 0 {
		o.Lookback = 48 * time.Hour
	}
	return o
}

// RescueFunc is called, off the pipeline's critical path, when a source needs
// a replacement (timeout, hard block, repeated empty runs).
type RescueFunc func(domain, reason string)

// Stats summarizes one collection pass.
type Stats struct {
	Attempted int
	Succeeded int
	Failed    int
	Empty     int
}

// Collector fans fetches out over the registered sources.
type Collector struct {
	registry *sources.Registry
	health   health.Store
	events   *broker.Broker
	opts     Options
	client   *http.Client
	robots   *robotsCache

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a collector over the given registry and health store.
func New(registry *sources.Registry, healthStore health.Store, events *broker.Broker, opts Options) *Collector {
	opts = opts.withDefaults()
	client := &http.Client{
		Timeout: opts.PerArticleTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects for %s", req.URL)
			}
			return nil
		},
	}
	return &Collector{
		registry: registry,
		health:   healthStore,
		events:   events,
		opts:     opts,
		client:   client,
		robots:   newRobotsCache(client, opts.UserAgent),
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiter returns the per-domain rate limiter, creating it from the source's
// registered gap on first use.
func (c *Collector) limiter(src core.Source) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.limiters[src.Domain]; ok {
		return l
	}
	gap := src.RateLimit
	if gap <= 0 {
		gap = c.opts.DefaultRateLimit
	}
	l := rate.NewLimiter(rate.Every(gap), 1)
	c.limiters[src.Domain] = l
	return l
}

// Collect scrapes every given domain, bounded by the source concurrency, and
// returns the accepted articles. Per-domain outcomes are written to the
// health store and published on the broker as the sources finish. rescue may
// be nil.
func (c *Collector) Collect(ctx context.Context, domains []string, rescue RescueFunc) ([]core.Article, Stats, error) {
	var (
		mu       sync.Mutex
		articles []core.Article
		stats    Stats
	)
	stats.Attempted = len(domains)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.SourceConcurrency)

	for _, domain := range domains {
		g.Go(func() error {
			// A cancelled run stops scheduling new sources; in-flight
			// sources are cancelled through gctx.
			if gctx.Err() != nil {
				return gctx.Err()
			}
			got := c.collectSource(gctx, domain, rescue)
			mu.Lock()
			switch {
			case len(got) > 0:
				stats.Succeeded++
				articles = append(articles, got...)
			case gctx.Err() != nil:
				// Don't count a cancelled source as a failure.
			default:
				stats.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return articles, stats, err
	}
	return articles, stats, ctx.Err()
}

// collectSource runs one source under its deadline and records the outcome.
// It never returns an error: source failures are scoped to the source.
func (c *Collector) collectSource(ctx context.Context, domain string, rescue RescueFunc) []core.Article {
	src, ok := c.registry.Get(domain)
	if !ok {
		logger.Debug("Unknown domain skipped", "domain", domain)
		return nil
	}

	c.events.SourceUpdate(broker.SourceUpdate{Domain: src.Domain, Status: "scraping"})

	sctx, cancel := context.WithTimeout(ctx, c.opts.PerSourceTimeout)
	defer cancel()

	articles, err := c.runStrategies(sctx, src)

	switch {
	case errors.Is(err, ErrHardBlocked):
		reason := "HTTP blocked: too many 403/406/429 responses"
		c.recordFailure(ctx, src.Domain, reason, "blocked")
		if rescue != nil {
			rescue(src.Domain, reason)
		}
		return nil

	case sctx.Err() != nil && ctx.Err() == nil:
		// The source deadline fired, not the run.
		reason := fmt.Sprintf("Timeout after %s", c.opts.PerSourceTimeout)
		c.recordFailure(ctx, src.Domain, reason, "timeout")
		if rescue != nil {
			rescue(src.Domain, reason)
		}
		return nil

	case ctx.Err() != nil:
		return nil

	case err != nil:
		c.events.SourceUpdate(broker.SourceUpdate{Domain: src.Domain, Status: "error", Error: err.Error()})
		if herr := c.health.RecordFailure(ctx, src.Domain, err.Error()); herr != nil {
			logger.Debug("Health write failed", "domain", src.Domain, "error", herr)
		}
		return nil

	case len(articles) == 0:
		c.events.SourceUpdate(broker.SourceUpdate{Domain: src.Domain, Status: "empty"})
		emptyRuns, herr := c.health.RecordEmpty(ctx, src.Domain)
		if herr != nil {
			logger.Debug("Health write failed", "domain", src.Domain, "error", herr)
		}
		if emptyRuns >= c.opts.EmptyRunsForRescue && rescue != nil {
			rescue(src.Domain, fmt.Sprintf("%d consecutive empty runs", emptyRuns))
		}
		return nil
	}

	c.events.SourceUpdate(broker.SourceUpdate{Domain: src.Domain, Status: "success", Articles: len(articles)})
	if herr := c.health.RecordSuccess(ctx, src.Domain); herr != nil {
		logger.Debug("Health write failed", "domain", src.Domain, "error", herr)
	}
	return articles
}

// recordFailure blacklists a domain for this class of failure and publishes
// the matching source event.
func (c *Collector) recordFailure(ctx context.Context, domain, reason, status string) {
	c.events.SourceUpdate(broker.SourceUpdate{Domain: domain, Status: status, Error: reason})
	if err := c.health.RecordFailure(ctx, domain, reason); err != nil {
		logger.Debug("Health write failed", "domain", domain, "error", err)
	}
	if err := c.health.Blacklist(ctx, domain, reason); err != nil {
		logger.Debug("Blacklist write failed", "domain", domain, "error", err)
	}
}

// runStrategies tries the source's extraction strategies in order and stops
// at the first that yields acceptable articles.
func (c *Collector) runStrategies(ctx context.Context, src core.Source) ([]core.Article, error) {
	strategies := src.Strategies
	if len(strategies) == 0 {
		if len(src.FeedURLs) > 0 {
			strategies = []core.ExtractionMethod{core.ExtractRSSFull, core.ExtractScrapeFull}
		} else {
			strategies = []core.ExtractionMethod{core.ExtractScrapeFull}
		}
	}

	var lastErr error
	for _, strategy := range strategies {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var (
			articles []core.Article
			err      error
		)
		switch strategy {
		case core.ExtractRSSFull, core.ExtractRSSMetadata:
			articles, err = c.collectFromFeeds(ctx, src)
		case core.ExtractScrapeFull, core.ExtractScrapePartial:
			articles, err = c.collectFromHTML(ctx, src)
		case core.ExtractAPI:
			// API sources are injected by topic mode, not scraped here.
			continue
		default:
			continue
		}
		if errors.Is(err, ErrHardBlocked) {
			return nil, err
		}
		if err != nil {
			lastErr = err
			continue
		}
		if len(articles) > 0 {
			return articles, nil
		}
	}
	return nil, lastErr
}

// fetch performs one rate-limited, robots-checked GET under the per-article
// deadline. A nil response with nil error means robots disallowed the URL.
func (c *Collector) fetch(ctx context.Context, src core.Source, rawURL string) (*http.Response, error) {
	if c.opts.RespectRobots {
		allowed, err := c.robots.Allowed(ctx, rawURL)
		if err != nil {
			logger.Debug("Robots check failed, assuming allowed", "url", rawURL, "error", err)
		} else if !allowed {
			return nil, nil
		}
	}
	if err := c.limiter(src).Wait(ctx); err != nil {
		return nil, err
	}

	actx, cancel := context.WithTimeout(ctx, c.opts.PerArticleTimeout)
	req, err := http.NewRequestWithContext(actx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	// The per-article context must outlive this call so the caller can read
	// the body; tie its cancellation to body close.
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
