// Package social provides the social-listening backend: given a topic it
// returns a pulse of public reaction with an overall sentiment, the key
// reactions observed and the hashtags trending around the topic. Raw
// reactions come from public discussion feeds, the summary from an LLM when
// one is available and from a keyword heuristic otherwise.
package social

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"veilleur/internal/llm"
	"veilleur/internal/logger"
)

// Sentiment labels used in a pulse.
const (
	SentimentPositive = "positif"
	SentimentNegative = "négatif"
	SentimentNeutral  = "neutre"
	SentimentMixed    = "mitigé"
)

// Pulse is the outcome of one social-listening call.
type Pulse struct {
	Summary          string   `json:"summary"`
	Sentiment        string   `json:"sentiment"`
	KeyReactions     []string `json:"key_reactions"`
	TrendingHashtags []string `json:"trending_hashtags"`
}

// Analyzer is the social-listening contract.
type Analyzer interface {
	// Analyze returns the public reaction pulse for a topic, with the
	// summary bounded by maxTokens.
	Analyze(ctx context.Context, topic string, maxTokens int) (Pulse, error)
	// Name identifies the analyzer.
	Name() string
}

// Config tunes the live analyzer.
type Config struct {
	UserAgent string        // Sent to the discussion feeds, default veilleur/1.0
	Timeout   time.Duration // Per-request timeout, default 15s
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = "veilleur/1.0 (veille presse)"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	return c
}

// LiveAnalyzer collects raw reactions from public feeds and summarizes them
// with the LLM. Without an LLM it falls back to a keyword heuristic so topic
// enrichment degrades instead of failing.
type LiveAnalyzer struct {
	reactions *redditFeed
	llmClient llm.Client // Optional
}

// NewLiveAnalyzer builds the production analyzer. llmClient may be nil.
func NewLiveAnalyzer(cfg Config, llmClient llm.Client) *LiveAnalyzer {
	cfg = cfg.withDefaults()
	return &LiveAnalyzer{
		reactions: newRedditFeed(cfg),
		llmClient: llmClient,
	}
}

// Name identifies the analyzer.
func (a *LiveAnalyzer) Name() string { return "live" }

// Analyze fetches reactions and composes the pulse.
func (a *LiveAnalyzer) Analyze(ctx context.Context, topic string, maxTokens int) (Pulse, error) {
	reactions, err := a.reactions.search(ctx, topic)
	if err != nil {
		return Pulse{}, fmt.Errorf("failed to collect reactions for %q: %w", topic, err)
	}
	if len(reactions) == 0 {
		return Pulse{
			Summary:   fmt.Sprintf("Aucune réaction publique notable sur « %s ».", topic),
			Sentiment: SentimentNeutral,
		}, nil
	}

	if a.llmClient != nil {
		pulse, err := a.summarizeWithLLM(ctx, topic, reactions, maxTokens)
		if err == nil {
			return pulse, nil
		}
		logger.Warn("Synthèse sociale LLM indisponible, repli heuristique", "topic", topic, "error", err.Error())
	}
	return heuristicPulse(topic, reactions), nil
}

func (a *LiveAnalyzer) summarizeWithLLM(ctx context.Context, topic string, reactions []reaction, maxTokens int) (Pulse, error) {
	var b strings.Builder
	for _, r := range reactions {
		fmt.Fprintf(&b, "- [%s, score %d] %s\n", r.Community, r.Score, r.Title)
	}

	prompt := fmt.Sprintf(`Tu analyses la réaction du public sur « %s » à partir des discussions ci-dessous.

DISCUSSIONS :
%s

Réponds UNIQUEMENT avec un objet JSON strict :
{
  "summary": "résumé de la réaction publique en 2 ou 3 phrases",
  "sentiment": "positif | négatif | neutre | mitigé",
  "key_reactions": ["réaction marquante 1", "réaction marquante 2"],
  "trending_hashtags": ["#motclé1", "#motclé2"]
}`, topic, b.String())

	opts := llm.Options{Temperature: 0.3, JSON: true}
	if maxTokens > 0 {
		opts.MaxTokens = int32(maxTokens)
	}
	completion, err := a.llmClient.Complete(ctx, llm.UserMessage(prompt), opts)
	if err != nil {
		return Pulse{}, err
	}

	var pulse Pulse
	if err := json.Unmarshal([]byte(strings.TrimSpace(completion.Content)), &pulse); err != nil {
		return Pulse{}, fmt.Errorf("unparseable pulse response: %w", err)
	}
	if pulse.Sentiment == "" {
		pulse.Sentiment = SentimentNeutral
	}
	return pulse, nil
}

// Keyword lists for the heuristic fallback, one per polarity.
var (
	positiveMarkers = []string{"bravo", "excellent", "super", "victoire", "succès", "bonne nouvelle", "enfin", "great", "win"}
	negativeMarkers = []string{"scandale", "honte", "colère", "échec", "catastrophe", "inquiétude", "crise", "fail", "angry"}
)

// heuristicPulse builds a pulse from keyword polarity counts when no LLM is
// available.
func heuristicPulse(topic string, reactions []reaction) Pulse {
	var positives, negatives int
	keyReactions := make([]string, 0, 3)
	for i, r := range reactions {
		lower := strings.ToLower(r.Title)
		for _, marker := range positiveMarkers {
			if strings.Contains(lower, marker) {
				positives++
				break
			}
		}
		for _, marker := range negativeMarkers {
			if strings.Contains(lower, marker) {
				negatives++
				break
			}
		}
		if i < 3 {
			keyReactions = append(keyReactions, r.Title)
		}
	}

	sentiment := SentimentNeutral
	switch {
	case positives > 0 && negatives > 0:
		sentiment = SentimentMixed
	case positives > negatives:
		sentiment = SentimentPositive
	case negatives > positives:
		sentiment = SentimentNegative
	}

	return Pulse{
		Summary: fmt.Sprintf("%d discussions publiques observées sur « %s », tonalité %s.",
			len(reactions), topic, sentiment),
		Sentiment:        sentiment,
		KeyReactions:     keyReactions,
		TrendingHashtags: hashtagsFromTopic(topic),
	}
}

// hashtagsFromTopic derives rough hashtags from the topic words.
func hashtagsFromTopic(topic string) []string {
	var tags []string
	for _, word := range strings.Fields(strings.ToLower(topic)) {
		word = strings.Trim(word, ".,;:!?\"'«»()")
		if len([]rune(word)) < 4 {
			continue
		}
		tags = append(tags, "#"+word)
		if len(tags) == 3 {
			break
		}
	}
	return tags
}
