package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"veilleur/internal/broker"
	"veilleur/internal/categorize"
	"veilleur/internal/clustering"
	"veilleur/internal/config"
	"veilleur/internal/contextbuild"
	"veilleur/internal/continuity"
	"veilleur/internal/discovery"
	"veilleur/internal/embed"
	"veilleur/internal/generator"
	"veilleur/internal/health"
	"veilleur/internal/knowledge"
	"veilleur/internal/llm"
	"veilleur/internal/logger"
	"veilleur/internal/persister"
	"veilleur/internal/persona"
	"veilleur/internal/pipeline"
	"veilleur/internal/research"
	"veilleur/internal/resilience"
	"veilleur/internal/runlock"
	"veilleur/internal/scrape"
	"veilleur/internal/server"
	"veilleur/internal/social"
	"veilleur/internal/sources"
	"veilleur/internal/vectorstore"
)

// app is the composition root of a live deployment: every stage wired from
// configuration, with graceful fallbacks when redis or qdrant are missing.
type app struct {
	cfg         *config.Config
	manager     *pipeline.Manager
	health      health.Store
	registry    *sources.Registry
	discoverer  *discovery.Discoverer
	snapshotter *health.Snapshotter
	closers     []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// serverDeps adapts the app for the admin API.
func (a *app) serverDeps() server.Deps {
	return server.Deps{
		Manager:    a.manager,
		Health:     a.health,
		Discoverer: a.discoverer,
	}
}

// buildApp wires the live pipeline. The Gemini key is mandatory here; keyless
// dry-runs go through SIMULATION mode, which never calls buildApp.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg.AI.Gemini.APIKey == "" {
		return nil, fmt.Errorf("clé d'API Gemini absente : renseignez GEMINI_API_KEY, ou utilisez --mode SIMULATION")
	}

	gemini, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
		APIKey:         cfg.AI.Gemini.APIKey,
		Model:          cfg.AI.Gemini.Model,
		EmbeddingModel: cfg.AI.Gemini.EmbeddingModel,
		Timeout:        config.Duration(cfg.AI.Gemini.Timeout, 120*time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("initialisation du client Gemini : %w", err)
	}
	client := llm.NewMeteredClient(gemini)

	a := &app{cfg: cfg}
	events := broker.New(cfg.Broker.BufferSize)

	// Health bookkeeping and the run lock live in redis. When redis is down
	// the snapshot-seeded memory store and the process-local lock take over:
	// a single-instance deployment keeps working, it just loses cross-process
	// exclusion.
	var locker runlock.Locker
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	pingErr := rdb.Ping(pingCtx).Err()
	cancel()
	if pingErr != nil {
		logger.Warn("Redis unreachable, falling back to the snapshot-backed memory store", "addr", cfg.Redis.Addr, "error", pingErr)
		_ = rdb.Close()
		mem, serr := health.StoreFromSnapshot(cfg.Health.SnapshotPath)
		if serr != nil {
			logger.Warn("Health snapshot unreadable, starting empty", "path", cfg.Health.SnapshotPath, "error", serr)
			mem = health.NewMemoryStore()
		}
		a.health = mem
		locker = &runlock.LocalLock{}
	} else {
		a.health = health.NewRedisStore(rdb, cfg.Redis.KeyPrefix)
		locker = runlock.NewRedisLock(rdb, cfg.Lock.Key, config.Duration(cfg.Lock.TTL, time.Hour))
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	}
	a.snapshotter = health.NewSnapshotter(a.health, cfg.Health.SnapshotPath,
		config.Duration(cfg.Health.SnapshotInterval, time.Minute))

	var store vectorstore.Store = vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		BaseURL: cfg.Vector.BaseURL,
		APIKey:  cfg.Vector.APIKey,
		Timeout: config.Duration(cfg.Vector.Timeout, 10*time.Second),
	})
	if err := store.Ping(ctx); err != nil {
		logger.Warn("Qdrant unreachable, syntheses will not survive a restart", "url", cfg.Vector.BaseURL, "error", err)
		store = vectorstore.NewMemoryStore()
	}

	a.registry = sources.NewDefaultRegistry()

	collector := scrape.New(a.registry, a.health, events, scrape.Options{
		PerSourceTimeout:     config.Duration(cfg.Scrape.PerSourceTimeout, 45*time.Second),
		PerArticleTimeout:    config.Duration(cfg.Scrape.PerArticleTimeout, 15*time.Second),
		SourceConcurrency:    cfg.Scrape.SourceConcurrency,
		ArticleConcurrency:   cfg.Scrape.ArticleConcurrency,
		MaxArticlesPerSource: cfg.Scrape.MaxArticlesPerSource,
		UserAgent:            cfg.Scrape.UserAgent,
		RespectRobots:        cfg.Scrape.RespectRobots,
		DefaultRateLimit:     config.Duration(cfg.Scrape.DefaultRateLimit, 2*time.Second),
		HardBlockFraction:    cfg.Health.HardBlockFraction,
		EmptyRunsForRescue:   cfg.Health.EmptyRunsForDiscovery,
		Lookback:             config.Duration(cfg.Scrape.LookbackWindow, 48*time.Hour),
	})

	if cfg.Discovery.Enabled {
		a.discoverer = discovery.New(a.registry, a.health, client, events, nil, discovery.Options{
			UserAgent:     cfg.Scrape.UserAgent,
			MaxDiscovered: cfg.Discovery.MaxGlobal,
			MaxAttempts:   cfg.Discovery.MaxPerDomain,
		})
	}

	provider := buildResearch(cfg)
	var analyzer social.Analyzer
	if cfg.Social.Enabled {
		analyzer = social.NewLiveAnalyzer(social.Config{
			UserAgent: cfg.Social.UserAgent,
			Timeout:   config.Duration(cfg.Social.Timeout, 15*time.Second),
		}, client)
	}
	enricher := contextbuild.NewEnricher(provider, analyzer,
		config.Duration(cfg.Enrichment.Timeout, 30*time.Second))

	p := pipeline.New(pipeline.Deps{
		Registry:   a.registry,
		Health:     a.health,
		Store:      store,
		Events:     events,
		Collector:  collector,
		Discoverer: a.discoverer,
		Embedder:   embed.New(client, events, cfg.Embedding.BatchSize),
		Past:       continuity.NewSelector(store, 0),
		Engine: clustering.NewEngine(clustering.Params{
			MinClusterSize:    cfg.Clustering.MinClusterSize,
			MinSamples:        cfg.Clustering.MinSamples,
			SelectionEpsilon:  cfg.Clustering.SelectionEpsilon,
			FallbackThreshold: cfg.Clustering.FallbackThreshold,
		}),
		Decider: continuity.NewDecider(store, continuity.Params{
			Window:          config.Duration(cfg.Continuity.Window, 24*time.Hour),
			JaccardOverlap:  cfg.Continuity.JaccardOverlap,
			CosineThreshold: cfg.Continuity.CosineThreshold,
		}),
		Builder: contextbuild.NewBuilder(enricher, contextbuild.Options{
			ChunkWords:         cfg.Generation.ChunkWords,
			ChunkOverlap:       cfg.Generation.ChunkOverlap,
			ContradictionFloor: cfg.Generation.ContradictionFloor,
		}),
		Generator: generator.New(client, generator.Options{
			Temperature: cfg.AI.Gemini.Temperature,
			CallTimeout: config.Duration(cfg.AI.Gemini.Timeout, 120*time.Second),
			Retry: resilience.RetryConfig{
				InitialInterval: config.Duration(cfg.Generation.BackoffInitial, 2*time.Second),
				MaxInterval:     config.Duration(cfg.Generation.BackoffMax, 30*time.Second),
				MaxRetries:      uint64(cfg.Generation.MaxRetries),
			},
		}),
		Classifier: categorize.NewClassifier(nil),
		Personas:   persona.NewSelector(nil, nil, nil, time.Now().UnixNano()),
		Persister:  persister.New(store),
		Hub:        knowledge.NewHub(store, client, knowledge.DefaultAliases()),
		Research:   provider,
	}, pipeline.Options{
		DedupThreshold:   cfg.Dedup.CosineThreshold,
		PersonasEnabled:  cfg.Personas.Enabled,
		PersonaThreshold: cfg.Personas.QualityThreshold,
		BudgetUSD:        cfg.Generation.BudgetUSD,
		MaxSyntheses:     cfg.Retention.MaxSyntheses,
		Language:         cfg.App.Language,
	})
	a.manager = pipeline.NewManager(p, locker)
	return a, nil
}

func buildResearch(cfg *config.Config) research.Provider {
	rcfg := research.Config{
		MaxResults: cfg.Research.MaxResults,
		Timeout:    config.Duration(cfg.Research.Timeout, 15*time.Second),
		Language:   cfg.App.Language,
	}
	switch cfg.Research.Provider {
	case "serpapi":
		return research.NewSerpAPIProvider(cfg.Research.SerpAPI.APIKey, rcfg)
	case "mock":
		return research.NewScriptedProvider()
	default:
		return research.NewDuckDuckGoProvider(rcfg)
	}
}
