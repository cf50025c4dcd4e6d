// Package generator turns a built context record into a structured synthesis
// through the chat LLM, with a strict-JSON response contract, a deterministic
// fallback skeleton when the model's output is unusable, and per-call cost
// accounting.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"veilleur/internal/contextbuild"
	"veilleur/internal/core"
	"veilleur/internal/llm"
	"veilleur/internal/logger"
	"veilleur/internal/resilience"
)

// Wire-format entries of the model's JSON reply.
type causalEntry struct {
	Cause   string   `json:"cause"`
	Effect  string   `json:"effect"`
	Type    string   `json:"type"`
	Sources []string `json:"sources,omitempty"`
}

type predictionEntry struct {
	Prediction  string  `json:"prediction"`
	Probability float64 `json:"probability"`
	Type        string  `json:"type"`
	Timeframe   string  `json:"timeframe"`
	Rationale   string  `json:"rationale"`
}

// TimelineEntry is one dated step of the reply's timeline, before date
// validation.
type TimelineEntry struct {
	Date  string `json:"date"`
	Event string `json:"event"`
	URL   string `json:"url,omitempty"`
}

// Response is the strict JSON object the model must return.
type Response struct {
	Title          string            `json:"title"`
	Introduction   string            `json:"introduction"`
	Body           string            `json:"body"`
	KeyPoints      []string          `json:"keyPoints"`
	Analysis       string            `json:"analysis"`
	CausalChain    []causalEntry     `json:"causal_chain"`
	Predictions    []predictionEntry `json:"predictions"`
	Sentiment      string            `json:"sentiment"`
	TopicIntensity string            `json:"topic_intensity"`
	ReadingTime    int               `json:"readingTime"`
	Timeline       []TimelineEntry   `json:"timeline,omitempty"`
	NarrativeArc   string            `json:"narrativeArc"`
}

// Result is one generation outcome: the parsed response (or the skeleton),
// the validated causal graph and the call's accounting.
type Result struct {
	Response    Response
	CausalGraph core.CausalGraph
	Fallback    bool // Skeleton served instead of model output
	WordCount   int
	MinWords    int
	MaxTokens   int
	Usage       llm.Usage
	CostUSD     float64
}

// Options tunes the generator.
type Options struct {
	Temperature float32       // Default 0.7
	CallTimeout time.Duration // Per-LLM-call deadline, default 120s
	Retry       resilience.RetryConfig
}

func (o Options) withDefaults() Options {
	if o.Temperature <= 0 {
		o.Temperature = 0.7
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 120 * time.Second
	}
	if o.Retry.MaxRetries == 0 {
		o.Retry = resilience.DefaultRetryConfig()
	}
	return o
}

// Generator wraps the LLM behind the shared retry and breaker policy.
type Generator struct {
	client  llm.Client
	breaker *resilience.Breaker
	opts    Options
}

// New creates a generator over the given completion client.
func New(client llm.Client, opts Options) *Generator {
	return &Generator{
		client:  client,
		breaker: resilience.NewBreaker("llm-generation", resilience.BreakerConfig{}),
		opts:    opts.withDefaults(),
	}
}

// LengthBudget computes the dynamic word floor and token ceiling for a
// record: bigger clusters, history and update mode all buy more room.
func LengthBudget(rec contextbuild.Record) (minWords, maxTokens int) {
	minWords = 450 + 80*(rec.SourceCount-3) + 40*len(rec.Chunks)
	if rec.History.Text != "" {
		minWords += 200
	}
	if rec.UpdateMode {
		minWords += 300
	}
	if minWords < 600 {
		minWords = 600
	}
	maxTokens = (minWords+400)*7 + 2000
	if maxTokens < 6000 {
		maxTokens = 6000
	}
	return minWords, maxTokens
}

// Generate writes the base synthesis for a record.
func (g *Generator) Generate(ctx context.Context, rec contextbuild.Record) Result {
	return g.generate(ctx, "", rec)
}

// GenerateVariant rewrites the synthesis in a persona's voice: the persona
// prompt is prepended to the editorial instructions and the same record is
// replayed.
func (g *Generator) GenerateVariant(ctx context.Context, personaPrompt string, rec contextbuild.Record) Result {
	return g.generate(ctx, personaPrompt, rec)
}

func (g *Generator) generate(ctx context.Context, personaPrompt string, rec contextbuild.Record) Result {
	minWords, maxTokens := LengthBudget(rec)
	result := Result{MinWords: minWords, MaxTokens: maxTokens}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt(personaPrompt, minWords)},
		{Role: llm.RoleUser, Content: rec.Prompt()},
	}

	var completion llm.Completion
	err := resilience.Call(ctx, g.breaker, g.opts.Retry, func() error {
		cctx, cancel := context.WithTimeout(ctx, g.opts.CallTimeout)
		defer cancel()
		var callErr error
		completion, callErr = g.client.Complete(cctx, messages, llm.Options{
			Temperature: g.opts.Temperature,
			MaxTokens:   int32(maxTokens),
			JSON:        true,
		})
		return callErr
	})

	result.Usage = completion.Usage
	result.CostUSD = llm.CostUSD(g.client.ModelName(), completion.Usage)

	if err != nil {
		logger.Warn("Generation call failed, serving skeleton", "topic", rec.Topic, "error", err)
		result.Response = Skeleton(rec)
		result.Fallback = true
	} else if parsed, perr := ParseResponse(completion.Content); perr != nil {
		// Parse failures are not transient: no retry, straight to the skeleton.
		logger.Warn("Generation reply unparseable, serving skeleton", "topic", rec.Topic, "error", perr)
		result.Response = Skeleton(rec)
		result.Fallback = true
	} else {
		result.Response = parsed
	}

	result.WordCount = len(strings.Fields(result.Response.Introduction)) +
		len(strings.Fields(result.Response.Body)) +
		len(strings.Fields(result.Response.Analysis))
	if result.Response.ReadingTime <= 0 {
		result.Response.ReadingTime = (result.WordCount + 199) / 200
	}
	result.CausalGraph = buildCausalGraph(result.Response, rec)
	return result
}

// ParseResponse strips an optional fenced code block and unmarshals the
// strict JSON reply.
func ParseResponse(raw string) (Response, error) {
	cleaned := StripFence(raw)
	var resp Response
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return Response{}, fmt.Errorf("parsing generation reply: %w", err)
	}
	if resp.Title == "" || resp.Body == "" {
		return Response{}, fmt.Errorf("generation reply missing title or body")
	}
	return resp, nil
}

// StripFence removes a wrapping markdown code fence, with or without a
// language tag.
func StripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the language tag line ("json").
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Skeleton is the deterministic fallback served when the model's output is
// unusable: the cluster's information survives in a minimal but valid shape.
func Skeleton(rec contextbuild.Record) Response {
	var body strings.Builder
	for i, c := range rec.Chunks {
		if i >= 5 {
			break
		}
		body.WriteString(c.Text)
		body.WriteString("\n\n")
	}
	keyPoints := make([]string, 0, 3)
	for _, c := range rec.Chunks {
		if len(keyPoints) >= 3 {
			break
		}
		if first := firstSentence(c.Text); first != "" {
			keyPoints = append(keyPoints, first)
		}
	}
	if len(keyPoints) == 0 {
		keyPoints = []string{rec.Topic}
	}
	return Response{
		Title:          rec.Topic,
		Introduction:   fmt.Sprintf("Synthèse automatique établie à partir de %d articles de %d sources.", rec.ArticleCount, rec.SourceCount),
		Body:           strings.TrimSpace(body.String()),
		KeyPoints:      keyPoints,
		Analysis:       "Analyse indisponible : le contenu ci-dessus reprend les extraits les plus factuels des sources.",
		Sentiment:      string(core.SentimentNeutral),
		TopicIntensity: string(core.IntensityStandard),
		NarrativeArc:   string(rec.History.Arc),
	}
}

func firstSentence(text string) string {
	for _, cut := range []string{". ", "! ", "? "} {
		if i := strings.Index(text, cut); i > 0 {
			return text[:i+1]
		}
	}
	if len(text) > 160 {
		return ""
	}
	return text
}

// buildCausalGraph validates the model's causal chain and falls back to the
// pattern extractor when fewer than three edges survive.
func buildCausalGraph(resp Response, rec contextbuild.Record) core.CausalGraph {
	edges := make([]core.CausalEdge, 0, len(resp.CausalChain))
	for _, e := range resp.CausalChain {
		if edge, ok := validateEdge(e); ok {
			edges = append(edges, edge)
		}
	}

	note := ""
	if len(edges) < MinCausalEdges {
		extracted := ExtractCausalEdges(resp.Body + " " + resp.Analysis)
		edges = append(edges, extracted...)
		if len(extracted) > 0 {
			note = fmt.Sprintf("extraction par motifs : %d relations ajoutées", len(extracted))
		} else if len(edges) < MinCausalEdges {
			note = "chaîne causale incomplète, extraction par motifs sans résultat"
		}
	}

	graph := core.CausalGraph{
		Edges:         edges,
		CentralEntity: centralEntity(rec),
		Note:          note,
	}
	seen := make(map[string]bool)
	for _, e := range edges {
		for _, n := range []string{e.Cause, e.Effect} {
			if !seen[n] {
				seen[n] = true
				graph.Nodes = append(graph.Nodes, n)
			}
		}
	}
	for _, p := range resp.Predictions {
		if p.Prediction == "" {
			continue
		}
		if p.Probability < 0 {
			p.Probability = 0
		}
		if p.Probability > 1 {
			p.Probability = 1
		}
		graph.Predictions = append(graph.Predictions, core.Prediction{
			Statement:   p.Prediction,
			Probability: p.Probability,
			Horizon:     normalizeHorizon(p.Timeframe),
			Rationale:   p.Rationale,
		})
	}
	return graph
}

func centralEntity(rec contextbuild.Record) string {
	for _, e := range rec.Entities {
		if e.Kind == "person" || e.Kind == "organization" {
			return e.Name
		}
	}
	if len(rec.Entities) > 0 {
		return rec.Entities[0].Name
	}
	return ""
}

func normalizeHorizon(tf string) string {
	switch strings.ToLower(strings.TrimSpace(tf)) {
	case "court_terme", "moyen_terme", "long_terme":
		return strings.ToLower(strings.TrimSpace(tf))
	case "short_term", "short-term":
		return "court_terme"
	case "long_term", "long-term":
		return "long_terme"
	default:
		return "moyen_terme"
	}
}

func systemPrompt(personaPrompt string, minWords int) string {
	var sb strings.Builder
	if personaPrompt != "" {
		sb.WriteString(personaPrompt)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, `Tu es un journaliste de synthèse francophone. À partir du contexte fourni, rédige un article complet d'au moins %d mots en français.

Réponds UNIQUEMENT avec un objet JSON strict (aucun texte hors JSON) de la forme :
{
  "title": "...",
  "introduction": "...",
  "body": "...",
  "keyPoints": ["..."],
  "analysis": "...",
  "causal_chain": [{"cause": "...", "effect": "...", "type": "causes|triggers|enables|prevents", "sources": ["url"]}],
  "predictions": [{"prediction": "...", "probability": 0.0, "type": "...", "timeframe": "court_terme|moyen_terme|long_terme", "rationale": "..."}],
  "sentiment": "positive|negative|neutral|mixed",
  "topic_intensity": "breaking|hot|developing|standard",
  "readingTime": 0,
  "timeline": [{"date": "2026-01-01", "event": "..."}],
  "narrativeArc": "..."
}

Exigences : au moins 3 relations causales étayées par les sources ; signaler explicitement toute contradiction listée dans le contexte ; ne jamais inventer de faits absents des extraits.`, minWords)
	return sb.String()
}
