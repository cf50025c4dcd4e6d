// Package embed turns article text into vectors in fixed-size batches,
// publishing progress between batches. Cancellation is honoured at batch
// boundaries only: an in-flight batch is allowed to finish.
package embed

import (
	"context"
	"fmt"
	"strings"

	"veilleur/internal/broker"
	"veilleur/internal/llm"
)

// DefaultBatchSize is the number of texts sent per backend call.
const DefaultBatchSize = 20

// Batcher encodes texts through the embedding backend.
type Batcher struct {
	client    llm.Client
	events    *broker.Broker
	batchSize int
}

// New creates a batcher. events may be nil when progress reporting is not
// wanted.
func New(client llm.Client, events *broker.Broker, batchSize int) *Batcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Batcher{client: client, events: events, batchSize: batchSize}
}

// EmbedTexts encodes the given texts in order. Unlike individual backend
// failures elsewhere, an embedding failure aborts the whole stage: without
// vectors neither dedup nor clustering can run.
func (b *Batcher) EmbedTexts(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	total := (len(texts) + b.batchSize - 1) / b.batchSize
	out := make([][]float64, 0, len(texts))

	for batch := 0; batch < total; batch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if b.events != nil {
			b.events.Progress(fmt.Sprintf("embeddings (%d/%d)", batch+1, total), float64(batch)/float64(total)*100)
		}

		lo := batch * b.batchSize
		hi := min(lo+b.batchSize, len(texts))
		vectors, err := b.client.Embed(ctx, texts[lo:hi])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d/%d: %w", batch+1, total, err)
		}
		if len(vectors) != hi-lo {
			return nil, fmt.Errorf("embedding batch %d/%d: got %d vectors for %d texts", batch+1, total, len(vectors), hi-lo)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbeddingText returns the text embedded for an article: the title carries
// most of the signal, the body is clipped to keep batches inside the
// backend's input limits.
func EmbeddingText(title, body string) string {
	const maxBodyRunes = 2000
	body = strings.TrimSpace(body)
	if runes := []rune(body); len(runes) > maxBodyRunes {
		body = string(runes[:maxBodyRunes])
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return body
	}
	if body == "" {
		return title
	}
	return title + "\n" + body
}
