package llm

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

// ScriptedClient is an offline Client used by simulation runs and tests. It
// answers completions from a queue, then from the Responder hook, and
// produces deterministic embeddings from a hashed bag of words, so texts
// sharing vocabulary land close in cosine space without any network call.
type ScriptedClient struct {
	// Responder answers completions once the queue is drained. Optional.
	Responder func(messages []Message, opts Options) (Completion, error)
	// Dim is the embedding dimensionality, default 768.
	Dim int

	mu       sync.Mutex
	queue    []Completion
	requests [][]Message
}

// NewScriptedClient returns an empty scripted client.
func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{Dim: int(EmbeddingDimensions)}
}

// ModelName identifies the scripted backend.
func (s *ScriptedClient) ModelName() string { return "simulation" }

// Enqueue schedules completions to be returned in order.
func (s *ScriptedClient) Enqueue(contents ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, content := range contents {
		s.queue = append(s.queue, Completion{
			Content: content,
			Model:   "simulation",
			Usage:   Usage{PromptTokens: 100, CompletionTokens: EstimateTokens("", content)},
		})
	}
}

// Requests returns the message lists received so far.
func (s *ScriptedClient) Requests() [][]Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Message, len(s.requests))
	copy(out, s.requests)
	return out
}

// Complete pops the next queued completion, falls back to the Responder,
// then to a neutral JSON object so simulation runs never stall.
func (s *ScriptedClient) Complete(ctx context.Context, messages []Message, opts Options) (Completion, error) {
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	if err := ValidateMessages(messages); err != nil {
		return Completion{}, err
	}

	s.mu.Lock()
	s.requests = append(s.requests, messages)
	if len(s.queue) > 0 {
		out := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		return out, nil
	}
	responder := s.Responder
	s.mu.Unlock()

	if responder != nil {
		return responder(messages, opts)
	}
	return Completion{
		Content: "{}",
		Model:   "simulation",
		Usage:   Usage{PromptTokens: EstimateTokens(flattenMessages(messages), ""), CompletionTokens: 1},
	}, nil
}

// Embed returns a deterministic vector per text.
func (s *ScriptedClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dim := s.Dim
	if dim <= 0 {
		dim = int(EmbeddingDimensions)
	}
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vectors[i] = HashedEmbedding(text, dim)
	}
	return vectors, nil
}

// HashedEmbedding maps a text onto a normalized hashed bag-of-words vector.
// Deterministic, and texts with overlapping vocabulary score a high cosine,
// which is what the offline dedup and clustering paths need.
func HashedEmbedding(text string, dim int) []float64 {
	vec := make([]float64, dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'«»()[]")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[int(h.Sum32())%dim]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
