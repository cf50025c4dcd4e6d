package core

import "time"

// NarrativeArc is the lifecycle stage of an ongoing story.
type NarrativeArc string

const (
	ArcEmerging   NarrativeArc = "emerging"   // First synthesis of a story
	ArcDeveloping NarrativeArc = "developing" // Updates arriving, velocity climbing
	ArcPeak       NarrativeArc = "peak"       // Burst of updates inside 48h
	ArcDeclining  NarrativeArc = "declining"  // Updates slowing down
	ArcResolved   NarrativeArc = "resolved"   // No update for 7 days
)

// ModerationFlag is the editorial safety verdict on a synthesis.
type ModerationFlag string

const (
	ModerationSafe    ModerationFlag = "safe"
	ModerationWarning ModerationFlag = "warning"
	ModerationBlocked ModerationFlag = "blocked"
)

// EnrichmentStatus records whether the optional enrichment stages ran.
type EnrichmentStatus string

const (
	EnrichmentComplete EnrichmentStatus = "complete"
	EnrichmentPartial  EnrichmentStatus = "partial"  // Some enrichments timed out or failed
	EnrichmentDisabled EnrichmentStatus = "disabled" // Generation fell back to the skeleton
)

// TopicIntensity grades how hot a cluster is running.
type TopicIntensity string

const (
	IntensityBreaking   TopicIntensity = "breaking"
	IntensityHot        TopicIntensity = "hot"
	IntensityDeveloping TopicIntensity = "developing"
	IntensityStandard   TopicIntensity = "standard"
)

// Sentiment is the overall tone the generator reported for a synthesis.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
	SentimentMixed    Sentiment = "mixed"
)

// SourceRef attributes one consumed article inside a synthesis.
type SourceRef struct {
	Name  string `json:"name"`  // Source display name
	URL   string `json:"url"`   // Article URL
	Title string `json:"title"` // Article title
}

// TimelineEvent is one dated step in a story timeline.
type TimelineEvent struct {
	Date  time.Time `json:"date"`
	Event string    `json:"event"`
	URL   string    `json:"url,omitempty"` // Article backing the event, when known
}

// CausalEdge links a cause to an effect in the causal graph.
type CausalEdge struct {
	Cause   string   `json:"cause"`
	Effect  string   `json:"effect"`
	Kind    string   `json:"kind"` // causes, triggers, enables or prevents
	Sources []string `json:"sources,omitempty"`
}

// Prediction is a forward-looking statement attached to a causal graph.
type Prediction struct {
	Statement   string  `json:"statement"`
	Probability float64 `json:"probability"` // 0..1
	Horizon     string  `json:"horizon"`     // court_terme, moyen_terme or long_terme
	Rationale   string  `json:"rationale"`
}

// CausalGraph captures the cause/effect structure the generator extracted
// from a cluster. When the LLM output is unusable a pattern-based fallback
// fills Edges from the article text and records how in Note.
type CausalGraph struct {
	Nodes         []string     `json:"nodes"`
	Edges         []CausalEdge `json:"edges"`
	CentralEntity string       `json:"central_entity"`
	NarrativeFlow string       `json:"narrative_flow"`
	Predictions   []Prediction `json:"predictions,omitempty"`
	Note          string       `json:"note,omitempty"` // Diagnostic when the fallback extractor ran
}

// Contradiction records a factual or temporal disagreement between two
// articles of the same cluster.
type Contradiction struct {
	Kind     string `json:"kind"` // factual or temporal
	URLTheir string `json:"url_a"`
	URLOther string `json:"url_b"`
	Detail   string `json:"detail"`
}

// Entity is a named entity extracted from a cluster.
type Entity struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // person, organization, location or date
}

// PersonaIdentity is the (id, name, signature) triple of the editorial voice
// a synthesis was written in.
type PersonaIdentity struct {
	ID        string `json:"id"`        // e.g. "analyste"
	Name      string `json:"name"`      // Display name
	Signature string `json:"signature"` // Closing line appended to the article
}

// Synthesis is the generated article, the only durably stored content.
type Synthesis struct {
	ID              string   `json:"id"`
	StoryID         string   `json:"story_id"`           // Stable across updates of the same story
	ParentID        string   `json:"parent_synthesis_id"` // Previous synthesis when this is an update
	BaseSynthesisID string   `json:"base_synthesis_id"`   // Non-empty only on persona variants
	Title           string   `json:"title"`
	Introduction    string   `json:"introduction"`
	Body            string   `json:"body"`
	Analysis        string   `json:"analysis"`
	KeyPoints       []string `json:"key_points"`
	UpdateNotice    string   `json:"update_notice"` // "Mise à jour le ..." banner for updates
	Language        string   `json:"language"`

	Sources    []SourceRef `json:"sources"`
	NumSources int         `json:"num_sources"` // Distinct source domains consumed
	ClusterID  string      `json:"cluster_id"`

	Category           string         `json:"category"`
	CategoryConfidence float64        `json:"category_confidence"`
	Sentiment          Sentiment      `json:"sentiment"`
	Intensity          TopicIntensity `json:"topic_intensity"`

	NarrativeArc       NarrativeArc    `json:"narrative_arc"`
	Timeline           []TimelineEvent `json:"timeline,omitempty"`
	KeyEntities        []Entity        `json:"key_entities,omitempty"`
	CausalGraph        *CausalGraph    `json:"causal_graph,omitempty"`
	Contradictions     []Contradiction `json:"contradictions,omitempty"`
	HasContradictions  bool            `json:"has_contradictions"`

	Persona          PersonaIdentity `json:"persona"`
	IsPersonaVersion bool            `json:"is_persona_version"` // True on persona-styled variant rows
	ComplianceScore  float64         `json:"compliance_score"`   // Persona conformity, 0..1

	UpdateCount int       `json:"update_count"` // 0 for a fresh story
	FirstSeen   time.Time `json:"first_seen"`   // When the story first appeared
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	WordCount   int     `json:"word_count"`
	ReadingTime int     `json:"reading_time"` // Minutes, ~200 words per minute
	FactDensity float64 `json:"fact_density"`

	Moderation       ModerationFlag   `json:"moderation"`
	IsPublished      bool             `json:"is_published"`
	EnrichmentStatus EnrichmentStatus `json:"enrichment_status"`
	GenerationCost   float64          `json:"generation_cost_usd"`

	Embedding []float64 `json:"embedding,omitempty"`
}

// PersistenceScore ranks a synthesis for retention during pruning:
// update activity counts double, recency adds 5, long story span adds 3.
func (s Synthesis) PersistenceScore(now time.Time) int {
	score := s.UpdateCount * 2
	if now.Sub(s.CreatedAt) <= 3*24*time.Hour {
		score += 5
	}
	last := s.UpdatedAt
	if last.IsZero() {
		last = s.CreatedAt
	}
	if last.Sub(s.FirstSeen) > 7*24*time.Hour {
		score += 3
	}
	return score
}

// Ref projects the synthesis down to the slim record used by clustering and
// continuity.
func (s Synthesis) Ref() PastSynthesis {
	urls := make([]string, 0, len(s.Sources))
	for _, src := range s.Sources {
		urls = append(urls, src.URL)
	}
	return PastSynthesis{
		ID:             s.ID,
		Title:          s.Title,
		StoryID:        s.StoryID,
		SourceURLs:     urls,
		KeyPoints:      s.KeyPoints,
		KeyEntities:    s.KeyEntities,
		Contradictions: s.Contradictions,
		UpdateCount:    s.UpdateCount,
		FirstSeen:      s.FirstSeen,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		Embedding:      s.Embedding,
	}
}
