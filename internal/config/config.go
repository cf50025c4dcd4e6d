package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        App        `mapstructure:"app"`
	AI         AI         `mapstructure:"ai"`
	Scrape     Scrape     `mapstructure:"scrape"`
	Health     Health     `mapstructure:"health"`
	Discovery  Discovery  `mapstructure:"discovery"`
	Dedup      Dedup      `mapstructure:"dedup"`
	Embedding  Embedding  `mapstructure:"embedding"`
	Clustering Clustering `mapstructure:"clustering"`
	Continuity Continuity `mapstructure:"continuity"`
	Generation Generation `mapstructure:"generation"`
	Enrichment Enrichment `mapstructure:"enrichment"`
	Personas   Personas   `mapstructure:"personas"`
	Retention  Retention  `mapstructure:"retention"`
	Redis      Redis      `mapstructure:"redis"`
	Vector     Vector     `mapstructure:"vector"`
	Lock       Lock       `mapstructure:"lock"`
	Broker     Broker     `mapstructure:"broker"`
	Server     Server     `mapstructure:"server"`
	Research   Research   `mapstructure:"research"`
	Social     Social     `mapstructure:"social"`
	Scheduler  Scheduler  `mapstructure:"scheduler"`
}

// App holds general application configuration
type App struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
	Language string `mapstructure:"language"` // Output language for syntheses
}

// AI holds LLM and embedding backend configuration
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	Timeout        string  `mapstructure:"timeout"` // Per generation call
	MaxTokens      int32   `mapstructure:"max_tokens"`
	Temperature    float32 `mapstructure:"temperature"`
	EmbeddingModel string  `mapstructure:"embedding_model"`
}

// Scrape holds collection-stage configuration
type Scrape struct {
	PerSourceTimeout   string `mapstructure:"per_source_timeout"`
	PerArticleTimeout  string `mapstructure:"per_article_timeout"`
	SourceConcurrency  int    `mapstructure:"source_concurrency"`  // Sources fetched in parallel
	ArticleConcurrency int    `mapstructure:"article_concurrency"` // Articles per source in parallel
	UserAgent          string `mapstructure:"user_agent"`
	RespectRobots      bool   `mapstructure:"respect_robots"`
	DefaultRateLimit   string `mapstructure:"default_rate_limit"`     // Per-domain gap when the source sets none
	MaxArticlesPerSource int  `mapstructure:"max_articles_per_source"`
	LookbackWindow     string `mapstructure:"lookback_window"` // Ignore articles older than this
}

// Health holds the source-health bookkeeping configuration
type Health struct {
	HardBlockFraction    float64 `mapstructure:"hard_block_fraction"`     // Weekly failure share that blocks a source
	EmptyRunsForDiscovery int    `mapstructure:"empty_runs_for_discovery"` // Consecutive empty runs before discovery fires
	SnapshotInterval     string  `mapstructure:"snapshot_interval"`
	SnapshotPath         string  `mapstructure:"snapshot_path"`
}

// Discovery holds source-discovery configuration
type Discovery struct {
	Enabled      bool `mapstructure:"enabled"`
	MaxGlobal    int  `mapstructure:"max_global"`     // Cap on discovered sources overall
	MaxPerDomain int  `mapstructure:"max_per_domain"` // Cap on replacements proposed per dead domain
}

// Dedup holds deduplication thresholds
type Dedup struct {
	CosineThreshold float64 `mapstructure:"cosine_threshold"` // Near-duplicate similarity floor
}

// Embedding holds embedding-stage configuration
type Embedding struct {
	BatchSize int    `mapstructure:"batch_size"`
	Timeout   string `mapstructure:"timeout"`
}

// Clustering holds HDBSCAN and fallback configuration
type Clustering struct {
	MinClusterSize    int     `mapstructure:"min_cluster_size"`
	MinSamples        int     `mapstructure:"min_samples"`
	SelectionEpsilon  float64 `mapstructure:"selection_epsilon"`
	FallbackThreshold float64 `mapstructure:"fallback_threshold"` // Greedy grouping similarity floor
}

// Continuity holds story-continuation thresholds
type Continuity struct {
	Window          string  `mapstructure:"window"`           // Recency window for update candidates
	JaccardOverlap  float64 `mapstructure:"jaccard_overlap"`  // URL overlap treated as the same story
	CosineThreshold float64 `mapstructure:"cosine_threshold"` // Embedding similarity treated as the same story
}

// Generation holds synthesis-generation configuration
type Generation struct {
	MaxRetries         int     `mapstructure:"max_retries"`
	BackoffInitial     string  `mapstructure:"backoff_initial"`
	BackoffMax         string  `mapstructure:"backoff_max"`
	MaxContradictions  int     `mapstructure:"max_contradictions"`
	ChunkWords         int     `mapstructure:"chunk_words"`
	ChunkOverlap       int     `mapstructure:"chunk_overlap"`
	ContradictionFloor float64 `mapstructure:"contradiction_floor"` // Cosine floor for contradiction candidate pairs
	BudgetUSD          float64 `mapstructure:"budget_usd"`          // Per-run spend cap; 0 disables the cap
}

// Enrichment holds per-enrichment timeout configuration
type Enrichment struct {
	Timeout string `mapstructure:"timeout"` // Applied to each enrichment stage independently
}

// Personas holds editorial-voice configuration
type Personas struct {
	Enabled          bool    `mapstructure:"enabled"`
	QualityThreshold float64 `mapstructure:"quality_threshold"` // Minimum conformity before the rewrite is kept
	NeutralShare     float64 `mapstructure:"neutral_share"`     // Weighted-draw share reserved for the neutral voice
}

// Retention holds vector-store pruning configuration
type Retention struct {
	MaxSyntheses int `mapstructure:"max_syntheses"` // Hard cap before pruning by persistence score
}

// Redis holds redis connection configuration
type Redis struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Vector holds vector-store connection configuration
type Vector struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout string `mapstructure:"timeout"`
}

// Lock holds the distributed run-lock configuration
type Lock struct {
	Key string `mapstructure:"key"`
	TTL string `mapstructure:"ttl"`
}

// Broker holds progress-broker configuration
type Broker struct {
	BufferSize int `mapstructure:"buffer_size"` // Ring buffer of retained events per run
}

// Server holds the admin HTTP server configuration
type Server struct {
	Addr        string   `mapstructure:"addr"`
	AdminToken  string   `mapstructure:"admin_token"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// Research holds web-research configuration for topic mode
type Research struct {
	Provider   string        `mapstructure:"provider"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    string        `mapstructure:"timeout"`
	SerpAPI    SerpAPIConfig `mapstructure:"serpapi"`
}

// SerpAPIConfig holds SerpAPI configuration
type SerpAPIConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// Social holds social listening configuration
type Social struct {
	Enabled   bool   `mapstructure:"enabled"`
	UserAgent string `mapstructure:"user_agent"`
	Timeout   string `mapstructure:"timeout"`
}

// Scheduler holds periodic-run configuration
type Scheduler struct {
	Every  string `mapstructure:"every"`  // Zero-value disables the scheduler
	Jitter string `mapstructure:"jitter"` // Random delay added per tick
}

var globalConfig *Config

// Load loads the configuration from file, environment and defaults.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	// Configure viper
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".veilleur")
		viper.SetConfigType("yaml")
	}

	// Set defaults
	setDefaults()

	// Bind environment variables
	bindEnvironmentVariables()

	// Enable automatic environment variable reading
	viper.SetEnvPrefix("VEILLEUR")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal into struct
	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Apply post-processing
	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.data_dir", ".veilleur")
	viper.SetDefault("app.language", "fr")

	// AI defaults
	viper.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	viper.SetDefault("ai.gemini.timeout", "120s")
	viper.SetDefault("ai.gemini.max_tokens", 8192)
	viper.SetDefault("ai.gemini.temperature", 0.7)
	viper.SetDefault("ai.gemini.embedding_model", "text-embedding-004")

	// Scrape defaults
	viper.SetDefault("scrape.per_source_timeout", "45s")
	viper.SetDefault("scrape.per_article_timeout", "15s")
	viper.SetDefault("scrape.source_concurrency", 5)
	viper.SetDefault("scrape.article_concurrency", 5)
	viper.SetDefault("scrape.user_agent", "Veilleur/1.0 (+https://github.com/veilleur)")
	viper.SetDefault("scrape.respect_robots", true)
	viper.SetDefault("scrape.default_rate_limit", "2s")
	viper.SetDefault("scrape.max_articles_per_source", 20)
	viper.SetDefault("scrape.lookback_window", "48h")

	// Health defaults
	viper.SetDefault("health.hard_block_fraction", 0.6)
	viper.SetDefault("health.empty_runs_for_discovery", 2)
	viper.SetDefault("health.snapshot_interval", "60s")
	viper.SetDefault("health.snapshot_path", ".veilleur/sources_health.json")

	// Discovery defaults
	viper.SetDefault("discovery.enabled", true)
	viper.SetDefault("discovery.max_global", 10)
	viper.SetDefault("discovery.max_per_domain", 3)

	// Dedup defaults
	viper.SetDefault("dedup.cosine_threshold", 0.92)

	// Embedding defaults
	viper.SetDefault("embedding.batch_size", 20)
	viper.SetDefault("embedding.timeout", "30s")

	// Clustering defaults
	viper.SetDefault("clustering.min_cluster_size", 2)
	viper.SetDefault("clustering.min_samples", 1)
	viper.SetDefault("clustering.selection_epsilon", 0.15)
	viper.SetDefault("clustering.fallback_threshold", 0.70)

	// Continuity defaults
	viper.SetDefault("continuity.window", "24h")
	viper.SetDefault("continuity.jaccard_overlap", 0.7)
	viper.SetDefault("continuity.cosine_threshold", 0.92)

	// Generation defaults
	viper.SetDefault("generation.max_retries", 3)
	viper.SetDefault("generation.backoff_initial", "2s")
	viper.SetDefault("generation.backoff_max", "30s")
	viper.SetDefault("generation.max_contradictions", 3)
	viper.SetDefault("generation.chunk_words", 256)
	viper.SetDefault("generation.chunk_overlap", 50)
	viper.SetDefault("generation.contradiction_floor", 0.75)
	viper.SetDefault("generation.budget_usd", 0.0)

	// Enrichment defaults
	viper.SetDefault("enrichment.timeout", "30s")

	// Persona defaults
	viper.SetDefault("personas.enabled", true)
	viper.SetDefault("personas.quality_threshold", 0.6)
	viper.SetDefault("personas.neutral_share", 0.3)

	// Retention defaults
	viper.SetDefault("retention.max_syntheses", 150)

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.key_prefix", "")

	// Vector store defaults
	viper.SetDefault("vector.base_url", "http://localhost:6333")
	viper.SetDefault("vector.timeout", "10s")

	// Lock defaults
	viper.SetDefault("lock.key", "pipeline:lock")
	viper.SetDefault("lock.ttl", "1h")

	// Broker defaults
	viper.SetDefault("broker.buffer_size", 500)

	// Server defaults
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.cors_origins", []string{"*"})

	// Research defaults
	viper.SetDefault("research.provider", "duckduckgo")
	viper.SetDefault("research.max_results", 10)
	viper.SetDefault("research.timeout", "15s")

	// Social defaults
	viper.SetDefault("social.enabled", false)
	viper.SetDefault("social.user_agent", "veilleur-social/1.0")
	viper.SetDefault("social.timeout", "15s")

	// Scheduler defaults
	viper.SetDefault("scheduler.every", "")
	viper.SetDefault("scheduler.jitter", "2m")
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	// Gemini API key - support multiple formats
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	// SerpAPI
	bindEnvKeys("research.serpapi.api_key", []string{
		"SERPAPI_API_KEY",
		"SERPAPI_KEY",
	})

	// Redis
	bindEnvKeys("redis.addr", []string{
		"REDIS_ADDR",
		"REDIS_URL",
	})
	bindEnvKeys("redis.password", []string{
		"REDIS_PASSWORD",
	})

	// Vector store
	bindEnvKeys("vector.base_url", []string{
		"QDRANT_URL",
		"VECTOR_STORE_URL",
	})
	bindEnvKeys("vector.api_key", []string{
		"QDRANT_API_KEY",
	})

	// Admin server
	bindEnvKeys("server.admin_token", []string{
		"VEILLEUR_ADMIN_TOKEN",
		"ADMIN_TOKEN",
	})

	// General settings
	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"VEILLEUR_DEBUG",
	})
	bindEnvKeys("app.log_level", []string{
		"VEILLEUR_LOG_LEVEL",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig applies post-processing to configuration values
func postProcessConfig(config *Config) error {
	// Expand paths
	if config.App.DataDir != "" {
		config.App.DataDir = expandPath(config.App.DataDir)
	}
	if config.Health.SnapshotPath != "" {
		config.Health.SnapshotPath = expandPath(config.Health.SnapshotPath)
	}

	// Validate durations
	durations := map[string]string{
		"ai.gemini.timeout":          config.AI.Gemini.Timeout,
		"scrape.per_source_timeout":  config.Scrape.PerSourceTimeout,
		"scrape.per_article_timeout": config.Scrape.PerArticleTimeout,
		"scrape.default_rate_limit":  config.Scrape.DefaultRateLimit,
		"scrape.lookback_window":     config.Scrape.LookbackWindow,
		"health.snapshot_interval":   config.Health.SnapshotInterval,
		"embedding.timeout":          config.Embedding.Timeout,
		"continuity.window":          config.Continuity.Window,
		"generation.backoff_initial": config.Generation.BackoffInitial,
		"generation.backoff_max":     config.Generation.BackoffMax,
		"enrichment.timeout":         config.Enrichment.Timeout,
		"vector.timeout":             config.Vector.Timeout,
		"lock.ttl":                   config.Lock.TTL,
		"research.timeout":           config.Research.Timeout,
		"social.timeout":             config.Social.Timeout,
		"scheduler.jitter":           config.Scheduler.Jitter,
	}

	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	if config.Scheduler.Every != "" {
		if _, err := time.ParseDuration(config.Scheduler.Every); err != nil {
			return fmt.Errorf("invalid duration for scheduler.every: %s", config.Scheduler.Every)
		}
	}

	return nil
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig ensures configuration values are coherent. The Gemini key is
// deliberately not required here: simulation mode runs without one, and the
// pipeline checks for it when a live run starts.
func validateConfig(config *Config) error {
	var errors []string

	if f := config.Health.HardBlockFraction; f < 0 || f > 1 {
		errors = append(errors, fmt.Sprintf("health.hard_block_fraction must be within [0,1], got %v", f))
	}
	if t := config.Dedup.CosineThreshold; t < 0 || t > 1 {
		errors = append(errors, fmt.Sprintf("dedup.cosine_threshold must be within [0,1], got %v", t))
	}
	if t := config.Continuity.CosineThreshold; t < 0 || t > 1 {
		errors = append(errors, fmt.Sprintf("continuity.cosine_threshold must be within [0,1], got %v", t))
	}
	if t := config.Continuity.JaccardOverlap; t < 0 || t > 1 {
		errors = append(errors, fmt.Sprintf("continuity.jaccard_overlap must be within [0,1], got %v", t))
	}
	if config.Clustering.MinClusterSize < 2 {
		errors = append(errors, "clustering.min_cluster_size must be at least 2")
	}
	if config.Embedding.BatchSize < 1 {
		errors = append(errors, "embedding.batch_size must be at least 1")
	}
	if config.Broker.BufferSize < 1 {
		errors = append(errors, "broker.buffer_size must be at least 1")
	}
	if config.Retention.MaxSyntheses < 1 {
		errors = append(errors, "retention.max_syntheses must be at least 1")
	}

	switch config.Research.Provider {
	case "serpapi":
		if config.Research.SerpAPI.APIKey == "" {
			errors = append(errors, "SerpAPI requires an API key. Set SERPAPI_API_KEY")
		}
	case "duckduckgo", "mock", "":
		// No validation needed for these providers
	default:
		errors = append(errors, fmt.Sprintf("Unknown research provider: %s. Supported: serpapi, duckduckgo, mock", config.Research.Provider))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Convenience getters for commonly used configuration values
func GetApp() App               { return Get().App }
func GetAI() AI                 { return Get().AI }
func GetScrape() Scrape         { return Get().Scrape }
func GetHealth() Health         { return Get().Health }
func GetDiscovery() Discovery   { return Get().Discovery }
func GetDedup() Dedup           { return Get().Dedup }
func GetEmbedding() Embedding   { return Get().Embedding }
func GetClustering() Clustering { return Get().Clustering }
func GetContinuity() Continuity { return Get().Continuity }
func GetGeneration() Generation { return Get().Generation }
func GetEnrichment() Enrichment { return Get().Enrichment }
func GetPersonas() Personas     { return Get().Personas }
func GetRetention() Retention   { return Get().Retention }
func GetRedis() Redis           { return Get().Redis }
func GetVector() Vector         { return Get().Vector }
func GetLock() Lock             { return Get().Lock }
func GetBroker() Broker         { return Get().Broker }
func GetServer() Server         { return Get().Server }
func GetResearch() Research     { return Get().Research }
func GetSocial() Social         { return Get().Social }
func GetScheduler() Scheduler   { return Get().Scheduler }

// Specific convenience getters for frequently accessed values
func GetGeminiAPIKey() string { return Get().AI.Gemini.APIKey }
func GetGeminiModel() string  { return Get().AI.Gemini.Model }
func IsDebugMode() bool       { return Get().App.Debug }

// Duration parses a duration field that postProcessConfig already validated,
// falling back to def when the field is empty.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
