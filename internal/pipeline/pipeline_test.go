package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"veilleur/internal/broker"
	"veilleur/internal/categorize"
	"veilleur/internal/clustering"
	"veilleur/internal/contextbuild"
	"veilleur/internal/continuity"
	"veilleur/internal/core"
	"veilleur/internal/embed"
	"veilleur/internal/generator"
	"veilleur/internal/health"
	"veilleur/internal/knowledge"
	"veilleur/internal/llm"
	"veilleur/internal/persister"
	"veilleur/internal/persona"
	"veilleur/internal/research"
	"veilleur/internal/scrape"
	"veilleur/internal/sources"
	"veilleur/internal/vectorstore"
)

// stubCollector hands back a fixed batch, or blocks until cancellation when
// block is set.
type stubCollector struct {
	articles []core.Article
	block    bool

	once    sync.Once
	started chan struct{}
}

func (s *stubCollector) Collect(ctx context.Context, domains []string, _ scrape.RescueFunc) ([]core.Article, scrape.Stats, error) {
	if s.started != nil {
		s.once.Do(func() { close(s.started) })
	}
	if s.block {
		<-ctx.Done()
		return nil, scrape.Stats{Attempted: len(domains)}, ctx.Err()
	}
	stats := scrape.Stats{Attempted: len(domains)}
	if len(s.articles) > 0 {
		if stats.Attempted == 0 {
			stats.Attempted = 1
		}
		stats.Succeeded = stats.Attempted
	}
	return s.articles, stats, nil
}

func newTestPipeline(t *testing.T, collector Collector, client *llm.ScriptedClient, provider research.Provider, opts Options) (*Pipeline, *vectorstore.MemoryStore) {
	t.Helper()
	if client == nil {
		client = llm.NewScriptedClient()
	}
	store := vectorstore.NewMemoryStore()
	events := broker.New(200)
	deps := Deps{
		Registry:   sources.NewRegistry(),
		Health:     health.NewMemoryStore(),
		Store:      store,
		Events:     events,
		Collector:  collector,
		Embedder:   embed.New(client, events, 0),
		Past:       continuity.NewSelector(store, 0),
		Engine:     clustering.NewEngine(clustering.Params{}),
		Decider:    continuity.NewDecider(store, continuity.Params{}),
		Builder:    contextbuild.NewBuilder(nil, contextbuild.Options{}),
		Generator:  generator.New(client, generator.Options{}),
		Classifier: categorize.NewClassifier(nil),
		Personas:   persona.NewSelector(nil, nil, nil, 7),
		Persister:  persister.New(store),
		Hub:        knowledge.NewHub(store, client, knowledge.DefaultAliases()),
		Research:   provider,
	}
	return New(deps, opts), store
}

func testArticle(url, source, title, body string, age time.Duration) core.Article {
	now := time.Now()
	return core.Article{
		URL:        url,
		Domain:     sources.NormalizeDomain(url),
		SourceName: source,
		Title:      title,
		Body:       body,
		Language:   "fr",
		Method:     core.ExtractScrapeFull,
		Tier:       core.TierStandard,
		Published:  now.Add(-age),
		FetchedAt:  now,
	}
}

const greveStory = "Le gouvernement a présenté la réforme des retraites devant le Parlement et " +
	"les syndicats appellent à la grève générale contre le report de l'âge légal. " +
	"La mobilisation sociale s'annonce massive dans tout le pays selon les organisations."

const crueStory = "La crue du fleuve a provoqué des inondations majeures dans plusieurs communes " +
	"riveraines et la préfecture a déclenché le plan d'urgence. Des centaines d'habitants " +
	"ont été évacués vers des gymnases par les secours pendant la nuit."

func TestRunCompletesWithNothingCollected(t *testing.T) {
	p, _ := newTestPipeline(t, &stubCollector{}, nil, nil, Options{})

	sum := p.Run(context.Background(), RunOptions{Mode: core.ModeScrape})
	if sum.Status != core.RunCompleted {
		t.Fatalf("Status = %s, want completed", sum.Status)
	}
	if sum.ArticlesCollected != 0 || sum.ClustersFound != 0 || sum.SynthesesCreated != 0 {
		t.Errorf("counters not zero: %+v", sum)
	}
	if sum.FinishedAt.Before(sum.StartedAt) {
		t.Error("FinishedAt before StartedAt")
	}

	events := p.Events().Snapshot()
	if len(events) == 0 || events[len(events)-1].Type != broker.EventCompleted {
		t.Error("run did not publish a completed event")
	}
}

func TestRunBlacklistedDomainGetsOneSkippedEvent(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t, &stubCollector{}, nil, nil, Options{})
	if err := p.deps.Health.Blacklist(ctx, "panne.fr", "échecs répétés"); err != nil {
		t.Fatal(err)
	}

	sum := p.Run(ctx, RunOptions{Mode: core.ModeScrape, Domains: []string{"panne.fr", "lemonde.fr"}})
	if sum.Status != core.RunCompleted {
		t.Fatalf("Status = %s, want completed", sum.Status)
	}

	skipped := 0
	for _, ev := range p.Events().Snapshot() {
		if ev.Source == nil || ev.Source.Domain != "panne.fr" {
			continue
		}
		if ev.Source.Status != "skipped" {
			t.Errorf("blacklisted domain got a %q source update", ev.Source.Status)
		}
		skipped++
	}
	if skipped != 1 {
		t.Errorf("skipped events for panne.fr = %d, want exactly 1", skipped)
	}
}

func TestRunNearDuplicatesCollapseToNothing(t *testing.T) {
	// Same body from two sources: the survivors of dedup cannot form a
	// cluster, so the run completes without a synthesis.
	collector := &stubCollector{articles: []core.Article{
		testArticle("https://un.fr/budget", "Source Un", "Budget municipal adopté", greveStory, time.Hour),
		testArticle("https://deux.fr/budget", "Source Deux", "Budget municipal voté", greveStory, 2*time.Hour),
	}}
	client := llm.NewScriptedClient()
	p, _ := newTestPipeline(t, collector, client, nil, Options{})

	sum := p.Run(context.Background(), RunOptions{Mode: core.ModeScrape})
	if sum.Status != core.RunCompleted {
		t.Fatalf("Status = %s, want completed", sum.Status)
	}
	if sum.ArticlesCollected != 2 || sum.ArticlesAfterDedup != 1 {
		t.Errorf("dedup counters = %d -> %d, want 2 -> 1", sum.ArticlesCollected, sum.ArticlesAfterDedup)
	}
	if sum.SynthesesCreated != 0 {
		t.Errorf("SynthesesCreated = %d, want 0", sum.SynthesesCreated)
	}
	if got := len(client.Requests()); got != 0 {
		t.Errorf("generation called %d times for an unclusterable run", got)
	}
}

func TestRunGeneratesOneSynthesisPerCluster(t *testing.T) {
	collector := &stubCollector{articles: []core.Article{
		testArticle("https://un.fr/greve", "Source Un", "Les syndicats appellent à la grève",
			greveStory+" Les centrales annoncent une journée de blocage dès mardi.", time.Hour),
		testArticle("https://deux.fr/greve", "Source Deux", "Réforme des retraites : mobilisation massive",
			greveStory+" Les transports publics seront fortement perturbés demain matin.", 2*time.Hour),
		testArticle("https://trois.fr/crue", "Source Trois", "Inondations : des centaines d'évacués",
			crueStory+" Les pompiers poursuivent les reconnaissances dans les quartiers touchés.", 3*time.Hour),
		testArticle("https://quatre.fr/crue", "Source Quatre", "Crue : le plan d'urgence déclenché",
			crueStory+" La montée des eaux devrait atteindre son pic dans la nuit.", 4*time.Hour),
	}}
	client := llm.NewScriptedClient()
	client.Responder = simulationResponder
	p, store := newTestPipeline(t, collector, client, nil, Options{})

	sum := p.Run(context.Background(), RunOptions{Mode: core.ModeScrape})
	if sum.Status != core.RunCompleted {
		t.Fatalf("Status = %s, want completed", sum.Status)
	}
	if sum.ClustersFound != 2 {
		t.Fatalf("ClustersFound = %d, want 2", sum.ClustersFound)
	}
	if sum.SynthesesCreated != 2 || sum.SynthesesUpdated != 0 {
		t.Errorf("syntheses = %d created / %d updated, want 2 / 0", sum.SynthesesCreated, sum.SynthesesUpdated)
	}
	if sum.TotalCostUSD <= 0 {
		t.Error("run cost not accounted")
	}

	ctx := context.Background()
	count, err := store.Count(ctx, vectorstore.CollectionSyntheses)
	if err != nil || count != 2 {
		t.Fatalf("stored syntheses = %d (%v), want 2", count, err)
	}
	if count, _ := store.Count(ctx, vectorstore.CollectionArticles); count != 4 {
		t.Errorf("article markers = %d, want 4", count)
	}

	points, _, err := store.Scroll(ctx, vectorstore.CollectionSyntheses, nil, 10, "")
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	sawPolitics := false
	for _, pt := range points {
		s, err := persister.DecodeSynthesis(pt)
		if err != nil {
			t.Fatalf("DecodeSynthesis: %v", err)
		}
		if !s.IsPublished || s.Language != "fr" || s.NumSources != 2 {
			t.Errorf("synthesis %s = published %v, lang %s, sources %d", s.ID, s.IsPublished, s.Language, s.NumSources)
		}
		if s.Category == "politique" {
			sawPolitics = true
		}
		if s.StoryID != s.ID {
			t.Errorf("fresh synthesis %s has story id %s", s.ID, s.StoryID)
		}
	}
	if !sawPolitics {
		t.Error("strike cluster not classified as politique")
	}
}

func TestRunServesSkeletonOnUnusableModelOutput(t *testing.T) {
	// The drained scripted client answers "{}": unparseable as a synthesis,
	// so the skeleton must be persisted with enrichment marked disabled, and
	// the persona pass must not burn a second call.
	collector := &stubCollector{articles: []core.Article{
		testArticle("https://un.fr/greve", "Source Un", "Grève générale annoncée",
			greveStory+" Les centrales annoncent une journée de blocage dès mardi.", time.Hour),
		testArticle("https://deux.fr/greve", "Source Deux", "Mobilisation contre la réforme",
			greveStory+" Les transports publics seront fortement perturbés demain matin.", 2*time.Hour),
	}}
	client := llm.NewScriptedClient()
	p, store := newTestPipeline(t, collector, client, nil, Options{PersonasEnabled: true})

	sum := p.Run(context.Background(), RunOptions{Mode: core.ModeScrape})
	if sum.Status != core.RunCompleted {
		t.Fatalf("Status = %s, want completed", sum.Status)
	}
	if sum.SynthesesCreated != 1 {
		t.Fatalf("SynthesesCreated = %d, want 1", sum.SynthesesCreated)
	}
	if got := len(client.Requests()); got != 1 {
		t.Errorf("model called %d times, want 1 (no persona pass on fallback)", got)
	}

	points, _, err := store.Scroll(context.Background(), vectorstore.CollectionSyntheses, nil, 10, "")
	if err != nil || len(points) != 1 {
		t.Fatalf("Scroll: %v (%d points)", err, len(points))
	}
	s, err := persister.DecodeSynthesis(points[0])
	if err != nil {
		t.Fatalf("DecodeSynthesis: %v", err)
	}
	if s.EnrichmentStatus != core.EnrichmentDisabled {
		t.Errorf("EnrichmentStatus = %s, want disabled", s.EnrichmentStatus)
	}
	// The skeleton titles the synthesis after the most recent article.
	if s.Title != "Grève générale annoncée" {
		t.Errorf("Title = %q", s.Title)
	}
	if s.Body == "" || s.Sentiment != core.SentimentNeutral {
		t.Errorf("skeleton body/sentiment = %q / %s", s.Body, s.Sentiment)
	}
}

func TestRunCancelledDuringCollection(t *testing.T) {
	collector := &stubCollector{block: true, started: make(chan struct{})}
	p, _ := newTestPipeline(t, collector, nil, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-collector.started
		cancel()
	}()

	sum := p.Run(ctx, RunOptions{Mode: core.ModeScrape})
	if sum.Status != core.RunCancelled {
		t.Fatalf("Status = %s, want cancelled", sum.Status)
	}
	if sum.ClustersFound != 0 || sum.SynthesesCreated != 0 {
		t.Errorf("cancelled run still produced work: %+v", sum)
	}
}

func TestRunUpdateReusesSynthesisRow(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	prior := core.Synthesis{
		ID:          "7c9e6679-7425-40de-944b-e07fc1f90ae7",
		StoryID:     "7c9e6679-7425-40de-944b-e07fc1f90ae7",
		Title:       "Réforme des retraites : première journée de grève",
		Body:        "Première version de l'article sur la mobilisation contre la réforme des retraites.",
		KeyPoints:   []string{"Les syndicats ont appelé à la grève."},
		Sources:     []core.SourceRef{{Name: "Source Zéro", URL: "https://zero.fr/greve", Title: "Grève annoncée"}},
		NumSources:  1,
		IsPublished: true,
		FirstSeen:   now.Add(-2 * time.Hour),
		CreatedAt:   now.Add(-2 * time.Hour),
		UpdatedAt:   now.Add(-2 * time.Hour),
		Embedding:   llm.HashedEmbedding(greveStory, vectorstore.EmbeddingDim),
	}

	collector := &stubCollector{articles: []core.Article{
		testArticle("https://un.fr/greve-suite", "Source Un", "Grève des retraites : deuxième journée",
			greveStory+" Les centrales annoncent une deuxième journée encore plus suivie.", time.Hour),
		testArticle("https://deux.fr/greve-bilan", "Source Deux", "Réforme des retraites : le bras de fer continue",
			greveStory+" Le gouvernement maintient son calendrier malgré la pression de la rue.", 2*time.Hour),
	}}
	client := llm.NewScriptedClient()
	client.Responder = simulationResponder
	p, store := newTestPipeline(t, collector, client, nil, Options{})

	ctx := context.Background()
	payload, err := persister.EncodeSynthesis(prior)
	if err != nil {
		t.Fatalf("EncodeSynthesis: %v", err)
	}
	if err := store.Upsert(ctx, vectorstore.CollectionSyntheses, []vectorstore.Point{{
		ID: prior.ID, Vector: prior.Embedding, Payload: payload,
	}}); err != nil {
		t.Fatalf("seeding prior synthesis: %v", err)
	}

	sum := p.Run(ctx, RunOptions{Mode: core.ModeScrape})
	if sum.Status != core.RunCompleted {
		t.Fatalf("Status = %s, want completed", sum.Status)
	}
	if sum.SynthesesUpdated != 1 || sum.SynthesesCreated != 0 {
		t.Fatalf("syntheses = %d created / %d updated, want 0 / 1", sum.SynthesesCreated, sum.SynthesesUpdated)
	}

	count, _ := store.Count(ctx, vectorstore.CollectionSyntheses)
	if count != 1 {
		t.Fatalf("synthesis count = %d, want the single reused row", count)
	}

	points, err := store.Retrieve(ctx, vectorstore.CollectionSyntheses, []string{prior.ID}, false)
	if err != nil || len(points) != 1 {
		t.Fatalf("Retrieve: %v (%d points)", err, len(points))
	}
	s, err := persister.DecodeSynthesis(points[0])
	if err != nil {
		t.Fatalf("DecodeSynthesis: %v", err)
	}
	if s.UpdateCount != 1 {
		t.Errorf("UpdateCount = %d, want 1", s.UpdateCount)
	}
	if !strings.HasPrefix(s.UpdateNotice, "Mise à jour le ") {
		t.Errorf("UpdateNotice = %q", s.UpdateNotice)
	}
	if s.StoryID != prior.StoryID {
		t.Errorf("StoryID = %s, want %s", s.StoryID, prior.StoryID)
	}
	if !s.CreatedAt.Equal(prior.CreatedAt) {
		t.Errorf("CreatedAt = %v, want preserved %v", s.CreatedAt, prior.CreatedAt)
	}
	urls := make(map[string]bool)
	for _, ref := range s.Sources {
		urls[ref.URL] = true
	}
	if !urls["https://zero.fr/greve"] || !urls["https://un.fr/greve-suite"] || !urls["https://deux.fr/greve-bilan"] {
		t.Errorf("merged sources missing URLs: %v", s.Sources)
	}
}

func TestRunTopicMode(t *testing.T) {
	provider := research.NewScriptedProvider()
	provider.Script("réforme fiscale", research.Report{
		Content: "Le ministère des finances prépare une réforme fiscale d'ampleur visant les niches " +
			"les moins efficaces. Plusieurs pistes circulent dont la révision du barème et la " +
			"suppression progressive d'avantages sectoriels contestés depuis des années.",
		Citations: []research.Citation{
			{URL: "https://fiscalite.fr/reforme", Title: "Réforme fiscale : les pistes du ministère"},
			{URL: "https://budget.fr/niches", Title: "Niches fiscales : ce qui pourrait disparaître"},
		},
	})
	client := llm.NewScriptedClient()
	client.Responder = simulationResponder
	p, store := newTestPipeline(t, &stubCollector{}, client, provider, Options{})

	sum := p.Run(context.Background(), RunOptions{Mode: core.ModeTopic, Topics: []string{"réforme fiscale"}})
	if sum.Status != core.RunCompleted {
		t.Fatalf("Status = %s, want completed", sum.Status)
	}
	if sum.SourcesAttempted != 1 || sum.SourcesSucceeded != 1 {
		t.Errorf("topic stats = %d attempted / %d succeeded", sum.SourcesAttempted, sum.SourcesSucceeded)
	}
	if sum.ClustersFound != 1 || sum.SynthesesCreated != 1 {
		t.Errorf("topic run = %d clusters / %d syntheses, want 1 / 1", sum.ClustersFound, sum.SynthesesCreated)
	}
	if count, _ := store.Count(context.Background(), vectorstore.CollectionSyntheses); count != 1 {
		t.Errorf("stored syntheses = %d, want 1", count)
	}
}

func TestRunPersonaVariantPersisted(t *testing.T) {
	// Scripted flow: a valid base generation, then a variant written in the
	// analyst's voice with its signature and markers, which must pass the
	// gate and land as a second row.
	variantReply := `{
  "title": "Grève des retraites : ce que disent les chiffres",
  "introduction": "Précisément, les données et les chiffres de la mobilisation méritent une analyse factuelle en pourcentage.",
  "body": "Premièrement, la mobilisation contre la réforme progresse selon toutes les statistiques disponibles et les données convergent. Deuxièmement, les indicateurs mesurés restent précisément orientés à la hausse avec près de 30 % de grévistes. Enfin, l'analyse des chiffres confirme objectivement la tendance mesurable. Les chiffres parlent d'eux-mêmes.",
  "keyPoints": ["La mobilisation progresse selon les données."],
  "analysis": "Analyse factuelle : les statistiques et indicateurs mesurables confirment objectivement la dynamique en pourcentage.",
  "causal_chain": [],
  "predictions": [],
  "sentiment": "neutral",
  "topic_intensity": "standard",
  "readingTime": 2,
  "narrativeArc": "emerging"
}`
	collector := &stubCollector{articles: []core.Article{
		testArticle("https://un.fr/greve", "Source Un", "Les syndicats appellent à la grève",
			greveStory+" Les centrales annoncent une journée de blocage dès mardi.", time.Hour),
		testArticle("https://deux.fr/greve", "Source Deux", "Réforme des retraites : mobilisation massive",
			greveStory+" Les transports publics seront fortement perturbés demain matin.", 2*time.Hour),
	}}
	client := llm.NewScriptedClient()
	client.Responder = simulationResponder
	// Base reply from the responder queue order: first Complete serves the
	// base, the enqueued reply below serves the variant.
	client.Enqueue(`{
  "title": "Réforme des retraites : la grève s'installe",
  "introduction": "La mobilisation contre la réforme des retraites se durcit.",
  "body": "Les syndicats maintiennent la pression sur le gouvernement qui défend son texte devant le Parlement. La grève touche les transports et l'éducation dans tout le pays.",
  "keyPoints": ["La grève continue."],
  "analysis": "Le conflit social s'inscrit dans la durée.",
  "causal_chain": [],
  "predictions": [],
  "sentiment": "negative",
  "topic_intensity": "hot",
  "readingTime": 2,
  "narrativeArc": "emerging"
}`, variantReply)

	// Seed 7 drives the weighted draw toward the category voice; negative
	// sentiment favors the sarcastic voice, but the keyword table forces the
	// analyst deterministically.
	personas := persona.NewSelector(nil, nil, nil, 7)
	personas.Keywords().Learn("retraites", "analyste", 0.9)

	store := vectorstore.NewMemoryStore()
	events := broker.New(200)
	deps := Deps{
		Registry:   sources.NewRegistry(),
		Health:     health.NewMemoryStore(),
		Store:      store,
		Events:     events,
		Collector:  collector,
		Embedder:   embed.New(client, events, 0),
		Past:       continuity.NewSelector(store, 0),
		Engine:     clustering.NewEngine(clustering.Params{}),
		Decider:    continuity.NewDecider(store, continuity.Params{}),
		Builder:    contextbuild.NewBuilder(nil, contextbuild.Options{}),
		Generator:  generator.New(client, generator.Options{}),
		Classifier: categorize.NewClassifier(nil),
		Personas:   personas,
		Persister:  persister.New(store),
	}
	p := New(deps, Options{PersonasEnabled: true})

	sum := p.Run(context.Background(), RunOptions{Mode: core.ModeScrape})
	if sum.Status != core.RunCompleted {
		t.Fatalf("Status = %s, want completed", sum.Status)
	}
	if sum.SynthesesCreated != 1 {
		t.Fatalf("SynthesesCreated = %d, want 1", sum.SynthesesCreated)
	}

	ctx := context.Background()
	count, _ := store.Count(ctx, vectorstore.CollectionSyntheses)
	if count != 2 {
		t.Fatalf("stored rows = %d, want base + variant", count)
	}

	points, _, err := store.Scroll(ctx, vectorstore.CollectionSyntheses, nil, 10, "")
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	var base, variant core.Synthesis
	for _, pt := range points {
		s, err := persister.DecodeSynthesis(pt)
		if err != nil {
			t.Fatalf("DecodeSynthesis: %v", err)
		}
		if s.IsPersonaVersion {
			variant = s
		} else {
			base = s
		}
	}
	if base.ID == "" || variant.ID == "" {
		t.Fatal("missing base or variant row")
	}
	if variant.BaseSynthesisID != base.ID {
		t.Errorf("variant base id = %s, want %s", variant.BaseSynthesisID, base.ID)
	}
	if variant.Persona.ID != "analyste" {
		t.Errorf("variant persona = %s, want analyste", variant.Persona.ID)
	}
	if variant.ComplianceScore < 0.6 {
		t.Errorf("ComplianceScore = %v, want >= threshold", variant.ComplianceScore)
	}
	if base.Persona.ID != "neutral" {
		t.Errorf("base persona = %s, want neutral", base.Persona.ID)
	}
}
