package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"veilleur/internal/logger"
)

// QdrantStore implements Store against the Qdrant REST API.
type QdrantStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// QdrantConfig configures the Qdrant adapter.
type QdrantConfig struct {
	BaseURL string        // e.g. "http://localhost:6333"
	APIKey  string        // Optional
	Timeout time.Duration // Per request, default 10s
}

// NewQdrantStore creates a Qdrant-backed store.
func NewQdrantStore(cfg QdrantConfig) *QdrantStore {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &QdrantStore{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// do runs one API call and decodes the "result" envelope into out when
// out is non-nil.
func (q *QdrantStore) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode qdrant request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create qdrant request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("qdrant %s %s: status %d: %s", method, path, resp.StatusCode, string(detail))
	}

	if out == nil {
		return nil
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Status any             `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to parse qdrant response: %w", err)
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("failed to parse qdrant result: %w", err)
	}
	return nil
}

// EnsureCollection creates the collection with cosine distance when missing.
func (q *QdrantStore) EnsureCollection(ctx context.Context, collection string, dim int) error {
	var info struct {
		Status string `json:"status"`
	}
	err := q.do(ctx, http.MethodGet, "/collections/"+collection, nil, &info)
	if err == nil {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	if err := q.do(ctx, http.MethodPut, "/collections/"+collection, body, nil); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", collection, err)
	}
	logger.Info("Vector collection created", "collection", collection, "dim", dim)
	return nil
}

// Upsert inserts or replaces points, waiting for the write to be applied.
func (q *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	payload := make([]map[string]any, 0, len(points))
	for _, p := range points {
		payload = append(payload, map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		})
	}
	body := map[string]any{"points": payload}
	return q.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body, nil)
}

// Retrieve fetches points by ID.
func (q *QdrantStore) Retrieve(ctx context.Context, collection string, ids []string, withVector bool) ([]Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"ids":          ids,
		"with_payload": true,
		"with_vector":  withVector,
	}
	var raw []qdrantPoint
	if err := q.do(ctx, http.MethodPost, "/collections/"+collection+"/points", body, &raw); err != nil {
		return nil, err
	}
	out := make([]Point, 0, len(raw))
	for _, p := range raw {
		out = append(out, p.toPoint())
	}
	return out, nil
}

// Scroll pages through points matching the filter.
func (q *QdrantStore) Scroll(ctx context.Context, collection string, filter *Filter, limit int, offset string) ([]Point, string, error) {
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	if f := encodeFilter(filter); f != nil {
		body["filter"] = f
	}
	if offset != "" {
		body["offset"] = offset
	}

	var result struct {
		Points     []qdrantPoint `json:"points"`
		NextOffset any           `json:"next_page_offset"`
	}
	if err := q.do(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", body, &result); err != nil {
		return nil, "", err
	}

	out := make([]Point, 0, len(result.Points))
	for _, p := range result.Points {
		out = append(out, p.toPoint())
	}
	next := ""
	if s, ok := result.NextOffset.(string); ok {
		next = s
	}
	return out, next, nil
}

// Query runs a similarity search ordered by descending cosine score.
func (q *QdrantStore) Query(ctx context.Context, collection string, params QueryParams) ([]ScoredPoint, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}
	body := map[string]any{
		"vector":       params.Vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  params.WithVector,
	}
	if params.ScoreThreshold > 0 {
		body["score_threshold"] = params.ScoreThreshold
	}
	if f := encodeFilter(params.Filter); f != nil {
		body["filter"] = f
	}

	var raw []struct {
		qdrantPoint
		Score float64 `json:"score"`
	}
	if err := q.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body, &raw); err != nil {
		return nil, err
	}

	out := make([]ScoredPoint, 0, len(raw))
	for _, p := range raw {
		out = append(out, ScoredPoint{Point: p.toPoint(), Score: p.Score})
	}
	return out, nil
}

// SetPayload merges payload keys into the identified points.
func (q *QdrantStore) SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{
		"payload": payload,
		"points":  ids,
	}
	return q.do(ctx, http.MethodPost, "/collections/"+collection+"/points/payload?wait=true", body, nil)
}

// Delete removes points by ID.
func (q *QdrantStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"points": ids}
	return q.do(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", body, nil)
}

// Count returns the exact number of points in the collection.
func (q *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	var result struct {
		Count int `json:"count"`
	}
	body := map[string]any{"exact": true}
	if err := q.do(ctx, http.MethodPost, "/collections/"+collection+"/points/count", body, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

// Ping checks that the Qdrant API answers.
func (q *QdrantStore) Ping(ctx context.Context) error {
	return q.do(ctx, http.MethodGet, "/collections", nil, nil)
}

// qdrantPoint is the wire shape of a point in API responses. IDs may come
// back as strings or numbers.
type qdrantPoint struct {
	ID      any            `json:"id"`
	Vector  []float64      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (p qdrantPoint) toPoint() Point {
	return Point{
		ID:      fmt.Sprintf("%v", p.ID),
		Vector:  p.Vector,
		Payload: p.Payload,
	}
}

// encodeFilter converts the portable filter into Qdrant's filter syntax.
func encodeFilter(f *Filter) map[string]any {
	if f == nil || len(f.Must) == 0 {
		return nil
	}
	must := make([]map[string]any, 0, len(f.Must))
	for _, c := range f.Must {
		cond := map[string]any{"key": c.Key}
		if c.Match != nil {
			cond["match"] = map[string]any{"value": c.Match}
		} else {
			rng := map[string]any{}
			if c.GTE != nil {
				rng["gte"] = *c.GTE
			}
			if c.LTE != nil {
				rng["lte"] = *c.LTE
			}
			cond["range"] = rng
		}
		must = append(must, cond)
	}
	return map[string]any{"must": must}
}
