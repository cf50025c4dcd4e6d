package core

import "time"

// ExtractionMethod identifies how an article's content was obtained.
type ExtractionMethod string

const (
	ExtractRSSFull       ExtractionMethod = "rss_full"       // Full body present in the feed entry
	ExtractRSSMetadata   ExtractionMethod = "rss_metadata"   // Feed entry carried title/description only
	ExtractScrapeFull    ExtractionMethod = "scrape_full"    // HTML extraction of the article page
	ExtractScrapePartial ExtractionMethod = "scrape_partial" // Title + meta description fallback (paywalls)
	ExtractAPI           ExtractionMethod = "api"            // Social or academic API payload
)

// SourceTier ranks the editorial weight of a source:
// 1 = major outlet, 2 = standard, 3 = minor/local.
type SourceTier int

const (
	TierMajor    SourceTier = 1
	TierStandard SourceTier = 2
	TierMinor    SourceTier = 3
)

// Selectors holds the CSS selectors used to pull articles out of a source.
type Selectors struct {
	ArticleLinks string `json:"article_links"` // Matches links to article pages on section pages
	Title        string `json:"title"`         // Matches the article headline
	Content      string `json:"content"`       // Matches the article body
}

// Source describes one registered news source. Domain is the natural key,
// unique across the registry.
type Source struct {
	Domain         string             `json:"domain"`          // e.g. "lemonde.fr"
	Name           string             `json:"name"`            // Display name
	BaseURL        string             `json:"base_url"`        // Root URL of the site
	Sections       []string           `json:"sections"`        // Section pages crawled for article links
	Selectors      Selectors          `json:"selectors"`       // CSS selectors for scraping
	FeedURLs       []string           `json:"feed_urls"`       // RSS/Atom feeds, preferred over scraping
	RateLimit      time.Duration      `json:"rate_limit"`      // Minimum gap between requests to this domain
	Tier           SourceTier         `json:"tier"`            // Editorial weight (default 2)
	Language       string             `json:"language"`        // ISO 639-1 code
	Category       string             `json:"category"`        // Category hint (politique, economie, tech, ...)
	Strategies     []ExtractionMethod `json:"strategies"`      // Ordered extraction strategies; empty = default order
	AutoDiscovered bool               `json:"auto_discovered"` // True when added by source discovery
}

// SourceStatus is the lifecycle state tracked by the health store.
type SourceStatus string

const (
	StatusActive      SourceStatus = "active"
	StatusDegraded    SourceStatus = "degraded"
	StatusBlocked     SourceStatus = "blocked"
	StatusBlacklisted SourceStatus = "blacklisted"
	StatusDiscovered  SourceStatus = "discovered"
)

// SourceHealth carries the persisted success/failure record of one domain.
// Invariant: Successful + Failed = Total.
type SourceHealth struct {
	Domain         string       `json:"domain"`
	Status         SourceStatus `json:"status"`
	Total          int          `json:"total"`           // All attempts, lifetime
	Successful     int          `json:"successful"`      // Attempts that yielded at least one article
	Failed         int          `json:"failed"`          // Attempts that yielded none
	WeekSuccesses  int          `json:"week_successes"`  // Rolling 7-day window
	WeekFailures   int          `json:"week_failures"`   // Rolling 7-day window
	WindowStart    time.Time    `json:"window_start"`    // Start of the rolling window
	EmptyRuns      int          `json:"empty_runs"`      // Consecutive runs yielding zero articles
	LastSuccess    time.Time    `json:"last_success"`    // Zero value if never
	LastFailure    time.Time    `json:"last_failure"`    // Zero value if never
	LastError      string       `json:"last_error"`      // Message from the most recent failure
	DiscoveredBy   string       `json:"discovered_by"`   // Discovery mechanism, e.g. "llm"
	ReplacesDomain string       `json:"replaces_domain"` // Domain this source was proposed to replace
}

// SuccessRate returns successes over total attempts, 1.0 when untried.
func (h SourceHealth) SuccessRate() float64 {
	if h.Total == 0 {
		return 1.0
	}
	return float64(h.Successful) / float64(h.Total)
}

// Article is the transient unit collected during a run. Articles are never
// durably stored; only the used_in_synthesis marker survives, attached to the
// synthesis payload in the vector store.
type Article struct {
	URL             string           `json:"url"` // Natural key
	Domain          string           `json:"domain"`
	SourceName      string           `json:"source_name"`
	Title           string           `json:"title"`
	Body            string           `json:"body"`
	MetaDescription string           `json:"meta_description"` // Used by the partial-extraction fallback
	Published       time.Time        `json:"published"`
	Authors         []string         `json:"authors"`
	ImageURL        string           `json:"image_url"`
	Language        string           `json:"language"`
	Method          ExtractionMethod `json:"method"`
	Tier            SourceTier       `json:"tier"`
	Category        string           `json:"category"` // Inherited from the source, may be refined later
	Embedding       []float64        `json:"embedding,omitempty"`

	// Dedup annotations, filled by the fingerprint pass.
	DuplicateCount   int      `json:"duplicate_count"`              // How many near-copies were folded into this one
	CoveredBySources []string `json:"covered_by_sources,omitempty"` // Source names that also carried the story

	FetchedAt         time.Time `json:"fetched_at"`
	UsedInSynthesisID string    `json:"used_in_synthesis_id,omitempty"` // Set by the persister once a synthesis lands
}

// Acceptable reports whether the article passes the minimum-content rule:
// a body of at least 50 characters, or a title of at least 10 characters
// together with a meta description of at least 30.
func (a Article) Acceptable() bool {
	if len(a.Body) >= 50 {
		return true
	}
	return len(a.Title) >= 10 && len(a.MetaDescription) >= 30
}

// ClusterType tags a cluster as brand-new or as the continuation of a story.
type ClusterType string

const (
	ClusterNew    ClusterType = "new"
	ClusterUpdate ClusterType = "update" // Cluster contains at least one past synthesis
)

// Cluster is a transient group of related articles, optionally joined by past
// syntheses of the same ongoing story. Clusters holding zero articles are
// discarded before reaching this type.
type Cluster struct {
	ID            string          `json:"id"`
	Type          ClusterType     `json:"type"`
	Articles      []Article       `json:"articles"`
	PastSyntheses []PastSynthesis `json:"past_syntheses,omitempty"`
}

// PastSynthesis is the slim projection of a stored synthesis used during
// re-clustering and continuity decisions.
type PastSynthesis struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	StoryID     string    `json:"story_id"`
	SourceURLs  []string  `json:"source_urls"` // URLs of the articles the synthesis consumed
	KeyPoints   []string  `json:"key_points"`

	KeyEntities    []Entity        `json:"key_entities,omitempty"`
	Contradictions []Contradiction `json:"contradictions,omitempty"`

	UpdateCount int       `json:"update_count"`
	FirstSeen   time.Time `json:"first_seen"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Embedding   []float64 `json:"embedding,omitempty"`
}

// StorySpan returns how long the story has been running.
func (p PastSynthesis) StorySpan() time.Duration {
	end := p.UpdatedAt
	if end.IsZero() {
		end = p.CreatedAt
	}
	return end.Sub(p.FirstSeen)
}

// RunMode selects how the pipeline acquires its input articles.
type RunMode string

const (
	ModeScrape     RunMode = "SCRAPE"     // Collect from the registered sources
	ModeTopic      RunMode = "TOPIC"      // Pull articles for operator topics via web research
	ModeSimulation RunMode = "SIMULATION" // Built-in fixture corpus, no network
)

// RunStatus is the in-flight or terminal state of a pipeline run.
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunError     RunStatus = "error"
)

// RunSummary aggregates the counters of one pipeline run.
type RunSummary struct {
	RunID              string        `json:"run_id"`
	Mode               RunMode       `json:"mode"`
	Status             RunStatus     `json:"status"`
	SourcesAttempted   int           `json:"sources_attempted"`
	SourcesSucceeded   int           `json:"sources_succeeded"`
	SourcesFailed      int           `json:"sources_failed"`
	ArticlesCollected  int           `json:"articles_collected"`
	ArticlesAfterDedup int           `json:"articles_after_dedup"`
	ClustersFound      int           `json:"clusters_found"`
	SynthesesCreated   int           `json:"syntheses_created"`
	SynthesesUpdated   int           `json:"syntheses_updated"`
	ClustersSkipped    int           `json:"clusters_skipped"`
	TotalCostUSD       float64       `json:"total_cost_usd"`
	StartedAt          time.Time     `json:"started_at"`
	FinishedAt         time.Time     `json:"finished_at"`
	Duration           time.Duration `json:"duration"`
	Error              string        `json:"error,omitempty"`
}
