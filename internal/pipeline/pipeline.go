// Package pipeline orchestrates one veilleur run: collection, dedup,
// embedding, clustering, continuity, context building, generation, persona
// styling, persistence and knowledge ingestion, in that order. The pipeline
// publishes progress on the broker as it moves and honours cancellation at
// every stage boundary; a cancelled run finishes with whatever it already
// persisted.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"veilleur/internal/broker"
	"veilleur/internal/categorize"
	"veilleur/internal/clustering"
	"veilleur/internal/contextbuild"
	"veilleur/internal/continuity"
	"veilleur/internal/core"
	"veilleur/internal/cost"
	"veilleur/internal/dedup"
	"veilleur/internal/discovery"
	"veilleur/internal/embed"
	"veilleur/internal/generator"
	"veilleur/internal/health"
	"veilleur/internal/logger"
	"veilleur/internal/persister"
	"veilleur/internal/persona"
	"veilleur/internal/research"
	"veilleur/internal/scrape"
	"veilleur/internal/sources"
	"veilleur/internal/vectorstore"
)

// Collector is the collection-stage contract, satisfied by scrape.Collector.
type Collector interface {
	Collect(ctx context.Context, domains []string, rescue scrape.RescueFunc) ([]core.Article, scrape.Stats, error)
}

// Options tunes the run-level behaviour.
type Options struct {
	DedupThreshold   float64 // Near-duplicate cosine floor, default 0.92
	PersonasEnabled  bool    // Generate a styled variant per synthesis
	PersonaThreshold float64 // Conformity floor for keeping the variant
	BudgetUSD        float64 // Per-run spend cap, 0 = unlimited
	MaxSyntheses     int     // Retention cap after the run, 0 = no pruning
	Language         string  // Output language tag, default "fr"
}

func (o Options) withDefaults() Options {
	if o.DedupThreshold <= 0 || o.DedupThreshold > 1 {
		o.DedupThreshold = 0.92
	}
	if o.PersonaThreshold <= 0 {
		o.PersonaThreshold = persona.DefaultQualityThreshold
	}
	if o.Language == "" {
		o.Language = "fr"
	}
	return o
}

// Deps carries the wired stage components. Registry, store, events,
// collector, embedder, engine, decider, past, builder and generator are
// required; the rest degrade gracefully when nil.
type Deps struct {
	Registry   *sources.Registry
	Health     health.Store
	Store      vectorstore.Store
	Events     *broker.Broker
	Collector  Collector
	Discoverer *discovery.Discoverer
	Embedder   *embed.Batcher
	Past       *continuity.Selector
	Engine     *clustering.Engine
	Decider    *continuity.Decider
	Builder    *contextbuild.Builder
	Generator  *generator.Generator
	Classifier *categorize.Classifier
	Personas   *persona.Selector
	Persister  *persister.Persister
	Hub        Ingester
	Research   research.Provider // Topic-mode article supplier
}

// Ingester is the knowledge-hub contract the pipeline needs.
type Ingester interface {
	Ingest(ctx context.Context, s *core.Synthesis) (string, error)
}

// Pipeline runs the staged news-intelligence flow.
type Pipeline struct {
	deps Deps
	opts Options
}

// New assembles a pipeline. A nil Events broker is replaced by a private one
// so publishing never needs a nil check.
func New(deps Deps, opts Options) *Pipeline {
	if deps.Events == nil {
		deps.Events = broker.New(500)
	}
	return &Pipeline{deps: deps, opts: opts.withDefaults()}
}

// Events exposes the broker the pipeline publishes on.
func (p *Pipeline) Events() *broker.Broker { return p.deps.Events }

// RunOptions selects what one run works on.
type RunOptions struct {
	RunID   string       // Generated when empty
	Mode    core.RunMode // Default SCRAPE
	Domains []string     // SCRAPE subset; empty = every registered source
	Topics  []string     // TOPIC mode subjects
}

// Run executes one full pipeline pass and returns its summary. Run never
// panics the caller with an error: every outcome, including cancellation and
// stage failures, is folded into the summary's status.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) core.RunSummary {
	if opts.Mode == "" {
		opts.Mode = core.ModeScrape
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	summary := core.RunSummary{
		RunID:     opts.RunID,
		Mode:      opts.Mode,
		Status:    core.RunRunning,
		StartedAt: time.Now(),
	}
	ledger := cost.NewLedger(p.opts.BudgetUSD)
	events := p.deps.Events
	events.StartRun(opts.RunID)
	events.Log("info", "pipeline", fmt.Sprintf("Démarrage du run %s en mode %s", opts.RunID, opts.Mode))

	if err := p.ensureCollections(ctx); err != nil {
		return p.finish(summary, ledger, core.RunError, fmt.Sprintf("préparation du stockage : %v", err))
	}

	// Stage A/E/F: acquire the run's articles.
	events.Progress("collecte", 5)
	articles, stats, topicByURL, err := p.collect(ctx, opts)
	summary.SourcesAttempted = stats.Attempted
	summary.SourcesSucceeded = stats.Succeeded
	summary.SourcesFailed = stats.Failed
	if err != nil {
		if ctx.Err() != nil {
			return p.finish(summary, ledger, core.RunCancelled, "run interrompu pendant la collecte")
		}
		return p.finish(summary, ledger, core.RunError, fmt.Sprintf("collecte : %v", err))
	}
	summary.ArticlesCollected = len(articles)
	events.Log("info", "collecte", fmt.Sprintf("%d articles collectés depuis %d sources", len(articles), stats.Succeeded))
	if len(articles) == 0 {
		return p.finish(summary, ledger, core.RunCompleted, "")
	}
	if ctx.Err() != nil {
		return p.finish(summary, ledger, core.RunCancelled, "run interrompu après la collecte")
	}

	// Stage G1: exact duplicates.
	articles = dedup.ByFingerprint(articles)
	events.Progress("déduplication", 25)

	// Stage H: embeddings. Without vectors nothing downstream can run.
	texts := make([]string, len(articles))
	for i, a := range articles {
		texts[i] = embed.EmbeddingText(a.Title, a.Body)
	}
	vectors, err := p.deps.Embedder.EmbedTexts(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return p.finish(summary, ledger, core.RunCancelled, "run interrompu pendant les embeddings")
		}
		return p.finish(summary, ledger, core.RunError, fmt.Sprintf("embeddings : %v", err))
	}
	for i := range articles {
		articles[i].Embedding = vectors[i]
	}

	// Stage G2: near-duplicates across sources.
	articles = dedup.BySimilarity(articles, p.opts.DedupThreshold)
	summary.ArticlesAfterDedup = len(articles)
	events.Log("info", "déduplication", fmt.Sprintf("%d articles après déduplication", len(articles)))
	if ctx.Err() != nil {
		return p.finish(summary, ledger, core.RunCancelled, "run interrompu après la déduplication")
	}

	// Stage J: past syntheses joining the clustering space.
	past, err := p.deps.Past.Select(ctx, summary.StartedAt)
	if err != nil {
		logger.Warn("Past-synthesis selection failed, clustering articles alone", "error", err)
		past = nil
	}

	// Stage I: clusters.
	clusters := p.clusterize(opts.Mode, articles, past, topicByURL)
	summary.ClustersFound = len(clusters)
	events.Progress("clustering", 55)
	events.Log("info", "clustering", fmt.Sprintf("%d clusters formés (%d synthèses passées en lice)", len(clusters), len(past)))
	if len(clusters) == 0 {
		return p.finish(summary, ledger, core.RunCompleted, "")
	}

	// Stages K..P, per cluster.
	for i, cluster := range clusters {
		if ctx.Err() != nil {
			return p.finish(summary, ledger, core.RunCancelled, "run interrompu pendant la génération")
		}
		p.processCluster(ctx, cluster, ledger, &summary)
		events.Progress("génération", 55+40*float64(i+1)/float64(len(clusters)))
	}

	p.prune(ctx, time.Now())
	return p.finish(summary, ledger, core.RunCompleted, "")
}

// finish stamps the terminal state and publishes the outcome.
func (p *Pipeline) finish(summary core.RunSummary, ledger *cost.Ledger, status core.RunStatus, message string) core.RunSummary {
	summary.Status = status
	summary.TotalCostUSD = ledger.Total()
	summary.FinishedAt = time.Now()
	summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)
	summary.Error = ""
	if status == core.RunError {
		summary.Error = message
	}

	switch status {
	case core.RunError:
		p.deps.Events.Error("pipeline", message)
	case core.RunCancelled:
		p.deps.Events.Log("warn", "pipeline", message)
	}
	p.deps.Events.Completed(summary)
	return summary
}

// ensureCollections creates the vector collections on first use.
func (p *Pipeline) ensureCollections(ctx context.Context) error {
	for _, c := range []string{
		vectorstore.CollectionArticles,
		vectorstore.CollectionSyntheses,
		vectorstore.CollectionEntities,
		vectorstore.CollectionTopics,
	} {
		if err := p.deps.Store.EnsureCollection(ctx, c, vectorstore.EmbeddingDim); err != nil {
			return err
		}
	}
	return nil
}

// collect acquires the run's articles according to the mode. The returned map
// carries the topic behind each article URL in TOPIC mode, nil otherwise.
func (p *Pipeline) collect(ctx context.Context, opts RunOptions) ([]core.Article, scrape.Stats, map[string]string, error) {
	switch opts.Mode {
	case core.ModeTopic:
		return p.collectTopics(ctx, opts.Topics)
	case core.ModeSimulation:
		articles := FixtureArticles(time.Now())
		domains := make(map[string]bool)
		for _, a := range articles {
			domains[a.Domain] = true
		}
		stats := scrape.Stats{Attempted: len(domains), Succeeded: len(domains)}
		return articles, stats, nil, nil
	default:
		domains := opts.Domains
		if len(domains) == 0 {
			domains = p.deps.Registry.Domains()
		}
		domains = p.dropBlacklisted(ctx, domains)
		articles, stats, err := p.deps.Collector.Collect(ctx, domains, p.rescue())
		return articles, stats, nil, err
	}
}

// dropBlacklisted filters out domains the health store has retired. Each
// dropped domain gets a single skipped source_update, then stays silent for
// the rest of the run.
func (p *Pipeline) dropBlacklisted(ctx context.Context, domains []string) []string {
	if p.deps.Health == nil {
		return domains
	}
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		blocked, err := p.deps.Health.IsBlacklisted(ctx, d)
		if err != nil {
			logger.Debug("Blacklist check failed, keeping domain", "domain", d, "error", err)
			blocked = false
		}
		if blocked {
			p.deps.Events.SourceUpdate(broker.SourceUpdate{Domain: d, Status: "skipped", Error: "liste noire"})
			continue
		}
		out = append(out, d)
	}
	return out
}

// rescue returns the callback the collector fires for dead sources. Discovery
// runs detached from the run so a slow replacement search never stalls the
// pipeline.
func (p *Pipeline) rescue() scrape.RescueFunc {
	if p.deps.Discoverer == nil {
		return nil
	}
	return func(domain, reason string) {
		go func() {
			dctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if _, err := p.deps.Discoverer.Discover(dctx, domain, reason); err != nil {
				logger.Debug("Discovery rescue gave up", "domain", domain, "error", err)
			}
		}()
	}
}

// collectTopics pulls one research report per operator topic and converts its
// citations into articles. A topic whose search fails is counted and skipped,
// never fatal.
func (p *Pipeline) collectTopics(ctx context.Context, topics []string) ([]core.Article, scrape.Stats, map[string]string, error) {
	stats := scrape.Stats{Attempted: len(topics)}
	if p.deps.Research == nil {
		return nil, stats, nil, fmt.Errorf("topic mode requires a research provider")
	}

	byURL := make(map[string]string)
	var articles []core.Article
	for _, topic := range topics {
		if err := ctx.Err(); err != nil {
			return articles, stats, byURL, err
		}
		report, err := p.deps.Research.Search(ctx, topic, 2000)
		if err != nil {
			stats.Failed++
			p.deps.Events.Log("warn", "collecte", fmt.Sprintf("Recherche « %s » en échec : %v", topic, err))
			continue
		}
		got := topicArticles(topic, report, time.Now())
		if len(got) == 0 {
			stats.Empty++
			continue
		}
		stats.Succeeded++
		for _, a := range got {
			byURL[a.URL] = topic
		}
		articles = append(articles, got...)
	}
	return articles, stats, byURL, nil
}

// topicArticles turns one research report into articles, one per citation.
func topicArticles(topic string, report research.Report, now time.Time) []core.Article {
	if report.Content == "" {
		return nil
	}
	citations := report.Citations
	if len(citations) == 0 {
		citations = []research.Citation{{URL: "https://recherche.veilleur.invalid/" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(topic)).String(), Title: topic}}
	}
	out := make([]core.Article, 0, len(citations))
	for _, c := range citations {
		title := c.Title
		if title == "" {
			title = topic
		}
		out = append(out, core.Article{
			URL:        c.URL,
			Domain:     sources.NormalizeDomain(c.URL),
			SourceName: "Recherche web",
			Title:      title,
			Body:       report.Content,
			Language:   "fr",
			Method:     core.ExtractAPI,
			Tier:       core.TierStandard,
			Category:   "general",
			Published:  now,
			FetchedAt:  now,
		})
	}
	return out
}

// clusterize groups the articles. Topic mode already knows the grouping; the
// other modes run the density engine with the greedy fallback behind it.
func (p *Pipeline) clusterize(mode core.RunMode, articles []core.Article, past []core.PastSynthesis, topicByURL map[string]string) []core.Cluster {
	if mode == core.ModeTopic {
		return topicClusters(articles, topicByURL)
	}
	clusters := p.deps.Engine.Cluster(articles, past)
	if len(clusters) == 0 && len(articles) >= 2 {
		clusters = p.deps.Engine.ClusterGreedy(articles, past)
	}
	return clusters
}

// topicClusters groups topic-mode articles by the topic that produced them.
// A single-article group still becomes a cluster: the operator asked for the
// topic, so it deserves a synthesis.
func topicClusters(articles []core.Article, topicByURL map[string]string) []core.Cluster {
	grouped := make(map[string][]core.Article)
	var order []string
	for _, a := range articles {
		topic, ok := topicByURL[a.URL]
		if !ok {
			topic = a.Title
		}
		if _, seen := grouped[topic]; !seen {
			order = append(order, topic)
		}
		grouped[topic] = append(grouped[topic], a)
	}

	out := make([]core.Cluster, 0, len(order))
	for _, topic := range order {
		out = append(out, core.Cluster{
			ID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte("topic:"+topic)).String(),
			Type:     core.ClusterNew,
			Articles: grouped[topic],
		})
	}
	return out
}
