package llm

import (
	"context"
	"sync"
	"time"

	"veilleur/internal/logger"
)

// MeteredClient wraps a Client and accumulates token usage and estimated
// cost across a run. The pipeline reads the totals into the run summary and
// each synthesis records the cost of its own calls.
type MeteredClient struct {
	client Client

	mu    sync.Mutex
	usage Usage
	calls int
	cost  float64
}

// NewMeteredClient wraps client with usage accounting.
func NewMeteredClient(client Client) *MeteredClient {
	return &MeteredClient{client: client}
}

// ModelName delegates to the wrapped client.
func (m *MeteredClient) ModelName() string { return m.client.ModelName() }

// Complete delegates and records usage, cost and latency.
func (m *MeteredClient) Complete(ctx context.Context, messages []Message, opts Options) (Completion, error) {
	start := time.Now()
	out, err := m.client.Complete(ctx, messages, opts)
	latency := time.Since(start)
	if err != nil {
		return out, err
	}

	callCost := CostUSD(out.Model, out.Usage)

	m.mu.Lock()
	m.usage.Add(out.Usage)
	m.calls++
	m.cost += callCost
	m.mu.Unlock()

	logger.Debug("LLM completion",
		"model", out.Model,
		"prompt_tokens", out.Usage.PromptTokens,
		"completion_tokens", out.Usage.CompletionTokens,
		"cost_usd", callCost,
		"latency_ms", latency.Milliseconds())
	return out, nil
}

// Embed delegates to the wrapped client. Embedding usage is not reported by
// the backend per call, so it is estimated from input length.
func (m *MeteredClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	start := time.Now()
	vectors, err := m.client.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	var chars int
	for _, t := range texts {
		chars += len(t)
	}
	estimated := Usage{PromptTokens: chars / 4}
	callCost := CostUSD(DefaultEmbeddingModel, estimated)

	m.mu.Lock()
	m.usage.Add(estimated)
	m.cost += callCost
	m.mu.Unlock()

	logger.Debug("Embedding batch",
		"texts", len(texts),
		"cost_usd", callCost,
		"latency_ms", time.Since(start).Milliseconds())
	return vectors, nil
}

// Totals returns accumulated usage, call count and estimated cost in USD.
func (m *MeteredClient) Totals() (Usage, int, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage, m.calls, m.cost
}

// CostSince returns the cost accumulated beyond a previous reading, used to
// attribute spend to a single synthesis.
func (m *MeteredClient) CostSince(prior float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cost - prior
}

// Cost returns the accumulated estimated cost in USD.
func (m *MeteredClient) Cost() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cost
}

// Reset clears the accumulated totals between runs.
func (m *MeteredClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = Usage{}
	m.calls = 0
	m.cost = 0
}
