// Package vectorstore defines the persistence contract of the pipeline.
// Syntheses, entity and topic records live in named vector collections;
// article points carry only an embedding and a minimal payload (URL, domain,
// consumption marker) since article content is never durably stored.
package vectorstore

import (
	"context"
	"errors"
)

// Collection names used by the pipeline.
const (
	CollectionArticles  = "articles"
	CollectionSyntheses = "syntheses"
	CollectionEntities  = "entities"
	CollectionTopics    = "topics"
)

// EmbeddingDim is the vector size of the Gemini embedding model.
const EmbeddingDim = 768

// ErrNotFound is returned when a requested point does not exist.
var ErrNotFound = errors.New("vectorstore: point not found")

// Point is one stored record: a UUID, its embedding and a free-form payload.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float64      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ScoredPoint is a point returned by similarity search.
type ScoredPoint struct {
	Point
	Score float64 `json:"score"` // Cosine similarity, higher = closer
}

// Condition restricts a scroll or query to points whose payload matches.
// Exactly one of Match or the GTE/LTE pair should be set.
type Condition struct {
	Key   string   `json:"key"`
	Match any      `json:"match,omitempty"` // Exact payload value
	GTE   *float64 `json:"gte,omitempty"`   // Numeric lower bound
	LTE   *float64 `json:"lte,omitempty"`   // Numeric upper bound
}

// Filter is a conjunction of conditions.
type Filter struct {
	Must []Condition `json:"must,omitempty"`
}

// QueryParams configures a similarity search.
type QueryParams struct {
	Vector         []float64
	Limit          int
	ScoreThreshold float64 // Minimum cosine similarity, 0 disables
	Filter         *Filter
	WithVector     bool
}

// Store is the vector persistence contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// EnsureCollection creates the collection when missing. Idempotent.
	EnsureCollection(ctx context.Context, collection string, dim int) error

	// Upsert inserts or fully replaces points.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Retrieve fetches points by ID. Missing IDs are silently skipped.
	Retrieve(ctx context.Context, collection string, ids []string, withVector bool) ([]Point, error)

	// Scroll pages through points matching the filter. The returned offset
	// is passed back to continue; an empty offset means the end was reached.
	Scroll(ctx context.Context, collection string, filter *Filter, limit int, offset string) ([]Point, string, error)

	// Query runs a similarity search ordered by descending score.
	Query(ctx context.Context, collection string, params QueryParams) ([]ScoredPoint, error)

	// SetPayload merges the given payload keys into the identified points.
	SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any) error

	// Delete removes points by ID.
	Delete(ctx context.Context, collection string, ids []string) error

	// Count returns the number of points in the collection.
	Count(ctx context.Context, collection string) (int, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// DefaultQueryParams returns sensible search defaults for the given vector.
func DefaultQueryParams(vector []float64) QueryParams {
	return QueryParams{
		Vector:         vector,
		Limit:          10,
		ScoreThreshold: 0.7,
	}
}
